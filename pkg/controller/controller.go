package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/poller"
	"github.com/jdziat/campaign-genjobs/pkg/reconcile"
	"github.com/jdziat/campaign-genjobs/pkg/repository"
	"github.com/jdziat/campaign-genjobs/pkg/security"
)

// entry is the controller's working state for one job.
type entry struct {
	job    *core.Job
	key    string
	result *reconcile.Result

	// version counts state changes under Controller.mu. saved is the last
	// version written to the repository, guarded by saveMu.
	version uint64
	saveMu  sync.Mutex
	saved   uint64
}

// pendingSave is a job state captured under Controller.mu and written to the
// repository after the lock is released.
type pendingSave struct {
	e       *entry
	job     *core.Job
	version uint64
}

// Controller submits, tracks and cancels generation jobs.
type Controller struct {
	transport core.Transport
	repo      core.Repository
	poller    *poller.Poller
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	// ctx scopes background work. It is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*entry
	keys   map[string]string // request key -> job ID, "" while submitting
	subs   map[string][]*subscriber
	closed bool
	subWG  sync.WaitGroup

	evMu      sync.RWMutex
	eventSubs []chan core.Event
}

// New creates a Controller that talks to the backend through t.
func New(t core.Transport, opts ...Option) *Controller {
	config := Config{
		PollInterval:    poller.DefaultInterval,
		Retry:           poller.DefaultRetryConfig(),
		Logger:          slog.Default(),
		Clock:           time.Now,
		HistoryPageSize: 50,
	}
	for _, opt := range opts {
		opt.ApplyController(&config)
	}
	if config.Repository == nil {
		config.Repository = repository.NewMemoryRepository()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		transport: t,
		repo:      config.Repository,
		config:    config,
		logger:    config.Logger,
		now:       config.Clock,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*entry),
		keys:      make(map[string]string),
		subs:      make(map[string][]*subscriber),
	}
	c.poller = poller.New(t, c.observe,
		poller.WithInterval(config.PollInterval),
		poller.WithRetry(config.Retry),
		poller.WithLogger(config.Logger),
	)
	return c
}

// Submit sends a request to the backend and starts tracking the job it creates.
// It fails with core.ErrSubmissionInFlight while the same logical request is
// still being submitted or its job has not finished. If the backend rejects
// the request, no job is recorded.
func (c *Controller) Submit(ctx context.Context, campaignID string, req core.Request) (string, error) {
	if err := security.ValidateID(campaignID); err != nil {
		return "", fmt.Errorf("%w: campaign id: %v", core.ErrInvalidRequest, err)
	}
	if err := security.ValidateRequest(req); err != nil {
		return "", err
	}
	key := req.Key(campaignID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", core.ErrControllerClosed
	}
	if _, busy := c.keys[key]; busy {
		c.mu.Unlock()
		return "", core.ErrSubmissionInFlight
	}
	c.keys[key] = ""
	c.mu.Unlock()

	ack, err := c.dispatch(ctx, campaignID, req)
	now := c.now()

	c.mu.Lock()
	if err != nil {
		delete(c.keys, key)
		c.mu.Unlock()
		c.logger.Warn("submission rejected", "campaign_id", campaignID, "kind", req.Kind, "error", err)
		return "", err
	}
	if ack != nil && ack.CampaignID == "" {
		ack.CampaignID = campaignID
	}
	job, err := core.NewJob(ack, req, now)
	if err != nil {
		delete(c.keys, key)
		c.mu.Unlock()
		return "", err
	}

	e := &entry{job: job, key: key}
	c.jobs[job.ID] = e
	if job.IsTerminal() {
		delete(c.keys, key)
	} else {
		c.keys[key] = job.ID
	}
	pending := c.captureLocked(e)
	snap := job.Clone()
	if !job.IsTerminal() {
		c.poller.Start(c.ctx, campaignID, job.ID, c.config.PollInterval)
	}
	events := c.terminalEvents(e, core.StatusPending)
	c.mu.Unlock()
	c.save(ctx, pending)

	c.logger.Info("job submitted", "job_id", job.ID, "campaign_id", campaignID, "kind", job.Kind)
	c.Emit(&core.JobSubmitted{Job: snap, Timestamp: now})
	for _, ev := range events {
		c.Emit(ev)
	}
	return job.ID, nil
}

func (c *Controller) dispatch(ctx context.Context, campaignID string, req core.Request) (*core.Snapshot, error) {
	switch req.Kind {
	case core.KindGenerate:
		return c.transport.SubmitGeneration(ctx, campaignID, *req.Generation, req.Regenerate)
	case core.KindRefine:
		return c.transport.SubmitRefinement(ctx, campaignID, req.Refinement.TemplateID, *req.Refinement)
	case core.KindSubjectLines:
		return c.transport.SubmitSubjectLines(ctx, campaignID, *req.SubjectLines)
	}
	return nil, fmt.Errorf("%w: unknown job kind %q", core.ErrInvalidRequest, req.Kind)
}

// Cancel stops a job. The job is marked cancelled and its subscribers are
// notified before the backend is told; a failed cancel request is only
// logged. Cancelling a terminal job does nothing.
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	c.mu.Lock()
	e, err := c.lookupLocked(ctx, jobID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if e == nil {
		c.mu.Unlock()
		return core.ErrJobNotFound
	}
	now := c.now()
	if !e.job.Cancel(now) {
		c.mu.Unlock()
		return nil
	}
	c.poller.Stop(jobID)
	pending := c.settleLocked(e)
	snap := e.job.Clone()
	campaignID := e.job.CampaignID
	c.mu.Unlock()
	c.save(ctx, pending)

	c.logger.Info("job cancelled", "job_id", jobID, "campaign_id", campaignID)
	c.Emit(&core.JobCancelled{Job: snap, Timestamp: now})

	if _, err := c.transport.CancelJob(ctx, campaignID, jobID); err != nil {
		c.logger.Warn("backend cancel failed", "job_id", jobID, "error", err)
	}
	return nil
}

// Subscribe registers fn for updates to a job. The current state is delivered
// first, then every change in order. After a terminal snapshot fn is not
// called again. Calls happen on a goroutine owned by the subscription.
// Subscribing to an unfinished job makes sure it is being polled.
func (c *Controller) Subscribe(ctx context.Context, jobID string, fn UpdateFunc) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, core.ErrControllerClosed
	}
	e, err := c.lookupLocked(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, core.ErrJobNotFound
	}

	sub := newSubscriber(jobID, fn)
	c.subWG.Add(1)
	go sub.run(&c.subWG)
	sub.push(e.job.Clone())

	if !e.job.IsTerminal() {
		c.subs[jobID] = append(c.subs[jobID], sub)
		c.poller.Start(c.ctx, e.job.CampaignID, jobID, c.config.PollInterval)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(sub) })
	}, nil
}

func (c *Controller) unsubscribe(sub *subscriber) {
	sub.stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[sub.jobID]
	for i, s := range subs {
		if s == sub {
			c.subs[sub.jobID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.subs[sub.jobID]) == 0 {
		delete(c.subs, sub.jobID)
	}
}

// Job returns a copy of the last known state of a job.
func (c *Controller) Job(ctx context.Context, jobID string) (*core.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookupLocked(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, core.ErrJobNotFound
	}
	return e.job.Clone(), nil
}

// Polling reports whether a job's status is being checked.
func (c *Controller) Polling(jobID string) bool {
	return c.poller.Active(jobID)
}

// Close stops all polling and subscriptions. Jobs keep their last known
// state in the repository.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.poller.Close()
	c.cancel()

	c.mu.Lock()
	for id, subs := range c.subs {
		for _, s := range subs {
			s.stop()
		}
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.subWG.Wait()
}

// observe applies one poll result. It runs on the job's poll goroutine and
// returns whether polling should continue.
func (c *Controller) observe(obs poller.Observation) bool {
	c.mu.Lock()
	e := c.jobs[obs.JobID]
	if c.closed || e == nil || e.job.IsTerminal() {
		c.mu.Unlock()
		return false
	}

	now := c.now()
	from := e.job.Status
	switch {
	case obs.Exhausted:
		e.job.Fail(core.Failure{Message: core.DiagnosticLostConnection, Origin: core.OriginClient}, now)
	case obs.Permanent:
		e.job.Fail(core.Failure{Message: core.DiagnosticJobUnavailable, Origin: core.OriginClient}, now)
	case obs.Err != nil:
		kind := e.job.Kind
		c.mu.Unlock()
		c.Emit(&core.PollRetrying{JobID: obs.JobID, Kind: kind, Attempt: obs.Attempt, Error: obs.Err, Timestamp: now})
		return true
	default:
		changed, err := e.job.Apply(obs.Snapshot, now)
		if err != nil {
			c.mu.Unlock()
			c.logger.Warn("ignoring status update", "job_id", obs.JobID, "error", err)
			return !errors.Is(err, core.ErrJobTerminal)
		}
		if !changed {
			c.mu.Unlock()
			return true
		}
	}

	pending := c.settleLocked(e)
	events := c.terminalEvents(e, from)
	if !e.job.IsTerminal() && e.job.Status != from {
		events = append(events, &core.JobStatusChanged{Job: e.job.Clone(), From: from, Timestamp: now})
	}
	terminal := e.job.IsTerminal()
	c.mu.Unlock()
	c.save(c.ctx, pending)

	for _, ev := range events {
		c.Emit(ev)
	}
	return !terminal
}

// settleLocked fans a job's new state out to subscribers and captures it for
// saving. Terminal jobs release their request key and drop their subscribers.
func (c *Controller) settleLocked(e *entry) pendingSave {
	id := e.job.ID
	pending := c.captureLocked(e)

	for _, s := range c.subs[id] {
		s.push(e.job.Clone())
	}
	if !e.job.IsTerminal() {
		return pending
	}
	delete(c.subs, id)
	if e.key != "" && c.keys[e.key] == id {
		delete(c.keys, e.key)
	}
	if e.job.Status == core.StatusCompleted {
		out, _ := e.job.Output()
		res := reconcile.Reconcile(out)
		e.result = &res
		for _, d := range res.Dropped {
			c.logger.Debug("variant dropped", "job_id", id, "index", d.Index, "reason", d.Reason)
		}
	}
	return pending
}

// terminalEvents returns the completion or failure event for a job that just
// became terminal. Cancellation is reported by Cancel.
func (c *Controller) terminalEvents(e *entry, from core.JobStatus) []core.Event {
	job := e.job
	if from.IsTerminal() || !job.IsTerminal() {
		return nil
	}
	ts := job.UpdatedAt
	switch job.Status {
	case core.StatusCompleted:
		if e.result == nil {
			out, _ := job.Output()
			res := reconcile.Reconcile(out)
			e.result = &res
		}
		var d time.Duration
		if job.CompletedAt != nil {
			d = job.CompletedAt.Sub(job.CreatedAt)
		}
		c.logger.Info("job completed", "job_id", job.ID, "variants", len(e.result.Variants))
		return []core.Event{&core.JobCompleted{Job: job.Clone(), Duration: d, NoUsableOutput: e.result.NoUsableOutput, Timestamp: ts}}
	case core.StatusFailed:
		f, _ := job.Failure()
		c.logger.Warn("job failed", "job_id", job.ID, "origin", f.Origin, "error", f.Message)
		return []core.Event{&core.JobFailed{Job: job.Clone(), Failure: f, Timestamp: ts}}
	}
	return nil
}

// lookupLocked finds a job in the working set, falling back to the repository.
func (c *Controller) lookupLocked(ctx context.Context, jobID string) (*entry, error) {
	if e, ok := c.jobs[jobID]; ok {
		return e, nil
	}
	job, err := c.repo.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("genjobs: failed to load job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, nil
	}
	e := &entry{job: job, key: job.Request.Key(job.CampaignID)}
	c.jobs[jobID] = e
	if !job.IsTerminal() {
		c.claimLocked(e)
	}
	return e, nil
}

// claimLocked reserves the request key of an unfinished job that was not
// submitted in this session, unless another job already holds it.
func (c *Controller) claimLocked(e *entry) {
	if e.key == "" {
		return
	}
	if _, busy := c.keys[e.key]; !busy {
		c.keys[e.key] = e.job.ID
	}
}

// captureLocked records the job's current state for a later save.
func (c *Controller) captureLocked(e *entry) pendingSave {
	e.version++
	return pendingSave{e: e, job: e.job.Clone(), version: e.version}
}

// save writes captured states outside Controller.mu. Writes for one job are
// serialized, and a state older than the last one written is skipped.
func (c *Controller) save(ctx context.Context, saves ...pendingSave) {
	for _, p := range saves {
		if p.e == nil {
			continue
		}
		p.e.saveMu.Lock()
		if p.version > p.e.saved {
			if err := c.repo.Save(context.WithoutCancel(ctx), p.job); err != nil {
				c.logger.Error("failed to persist job", "job_id", p.job.ID, "error", err)
			} else {
				p.e.saved = p.version
			}
		}
		p.e.saveMu.Unlock()
	}
}
