package controller

import (
	"context"
	"fmt"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/security"
)

// Track starts following a job that was submitted elsewhere, for example by
// a previous session. The job is fetched once and polled if unfinished.
func (c *Controller) Track(ctx context.Context, campaignID, jobID string) (*core.Job, error) {
	if err := security.ValidateID(campaignID); err != nil {
		return nil, fmt.Errorf("%w: campaign id: %v", core.ErrInvalidRequest, err)
	}
	if err := security.ValidateID(jobID); err != nil {
		return nil, fmt.Errorf("%w: job id: %v", core.ErrInvalidRequest, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrControllerClosed
	}
	if e, ok := c.jobs[jobID]; ok {
		if !e.job.IsTerminal() {
			c.poller.Start(c.ctx, e.job.CampaignID, jobID, c.config.PollInterval)
		}
		job := e.job.Clone()
		c.mu.Unlock()
		return job, nil
	}
	c.mu.Unlock()

	snap, err := c.transport.GetJobStatus(ctx, campaignID, jobID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	e, pending, err := c.adoptLocked(ctx, campaignID, snap)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	job := e.job.Clone()
	c.mu.Unlock()
	c.save(ctx, pending)
	return job, nil
}

// Resume reloads a campaign's job history from the backend and restarts
// polling for every unfinished job. It returns the jobs newest first.
func (c *Controller) Resume(ctx context.Context, campaignID string) ([]*core.Job, error) {
	if err := security.ValidateID(campaignID); err != nil {
		return nil, fmt.Errorf("%w: campaign id: %v", core.ErrInvalidRequest, err)
	}

	var snaps []*core.Snapshot
	for page := 1; ; page++ {
		p, err := c.transport.ListJobs(ctx, campaignID, page, c.config.HistoryPageSize)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, p.Jobs...)
		if p.Pages <= page || len(p.Jobs) == 0 {
			break
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrControllerClosed
	}
	jobs := make([]*core.Job, 0, len(snaps))
	saves := make([]pendingSave, 0, len(snaps))
	resumed := 0
	for _, snap := range snaps {
		e, pending, err := c.adoptLocked(ctx, campaignID, snap)
		if err != nil {
			c.logger.Warn("skipping job from history", "campaign_id", campaignID, "error", err)
			continue
		}
		if !e.job.IsTerminal() {
			resumed++
		}
		saves = append(saves, pending)
		jobs = append(jobs, e.job.Clone())
	}
	c.mu.Unlock()
	c.save(ctx, saves...)

	c.logger.Info("campaign resumed", "campaign_id", campaignID, "jobs", len(jobs), "polling", resumed)
	return jobs, nil
}

// History returns the locally recorded jobs of a campaign, newest first.
func (c *Controller) History(ctx context.Context, campaignID string) ([]*core.Job, error) {
	return c.repo.ListByCampaign(ctx, campaignID)
}

// adoptLocked records a backend snapshot of a job this controller did not
// submit. Jobs already in the working set are left as they are and need no
// save; the returned pendingSave is then empty.
func (c *Controller) adoptLocked(ctx context.Context, campaignID string, snap *core.Snapshot) (*entry, pendingSave, error) {
	if snap == nil || snap.ID == "" {
		return nil, pendingSave{}, core.ErrMissingJobID
	}
	if e, err := c.lookupLocked(ctx, snap.ID); err != nil || e != nil {
		if e != nil && !e.job.IsTerminal() {
			c.poller.Start(c.ctx, e.job.CampaignID, e.job.ID, c.config.PollInterval)
		}
		return e, pendingSave{}, err
	}
	if snap.CampaignID == "" {
		snap.CampaignID = campaignID
	}
	if _, err := core.ParseStatus(string(snap.Status)); err != nil {
		return nil, pendingSave{}, err
	}

	job, err := core.NewJob(snap, core.Request{Kind: snap.Kind}, c.now())
	if err != nil {
		return nil, pendingSave{}, err
	}
	e := &entry{job: job, key: job.Request.Key(job.CampaignID)}
	c.jobs[job.ID] = e
	pending := c.captureLocked(e)
	if !job.IsTerminal() {
		c.claimLocked(e)
		c.poller.Start(c.ctx, job.CampaignID, job.ID, c.config.PollInterval)
	}
	return e, pending, nil
}
