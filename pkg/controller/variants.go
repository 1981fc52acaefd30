package controller

import (
	"context"
	"fmt"
	"slices"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/reconcile"
)

// GetVariants returns the reconciled variants of a job. Cancelled and failed
// jobs yield an empty result. Jobs that are still running yield
// core.ErrJobNotCompleted.
func (c *Controller) GetVariants(ctx context.Context, jobID string) (reconcile.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookupLocked(ctx, jobID)
	if err != nil {
		return reconcile.Result{}, err
	}
	if e == nil {
		return reconcile.Result{}, core.ErrJobNotFound
	}
	return c.variantsLocked(e)
}

func (c *Controller) variantsLocked(e *entry) (reconcile.Result, error) {
	switch e.job.Status {
	case core.StatusCompleted:
	case core.StatusCancelled, core.StatusFailed:
		return reconcile.Result{}, nil
	default:
		return reconcile.Result{}, core.ErrJobNotCompleted
	}
	if e.result == nil {
		out, _ := e.job.Output()
		res := reconcile.Reconcile(out)
		e.result = &res
	}
	res := *e.result
	res.Variants = slices.Clone(res.Variants)
	res.Dropped = slices.Clone(res.Dropped)
	return res, nil
}

// CreateTemplate saves the variant at index as a new email template and
// returns the backend's confirmation message.
func (c *Controller) CreateTemplate(ctx context.Context, jobID string, index int) (string, error) {
	c.mu.Lock()
	e, err := c.lookupLocked(ctx, jobID)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	if e == nil {
		c.mu.Unlock()
		return "", core.ErrJobNotFound
	}
	if e.job.Status != core.StatusCompleted {
		c.mu.Unlock()
		return "", core.ErrJobNotCompleted
	}
	res, err := c.variantsLocked(e)
	campaignID := e.job.CampaignID
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	v, ok := res.Variant(index)
	if !ok {
		return "", fmt.Errorf("%w: index %d", core.ErrVariantNotFound, index)
	}
	msg, err := c.transport.CreateTemplateFromVariant(ctx, campaignID, jobID, v.BackendID())
	if err != nil {
		return "", err
	}
	c.logger.Info("template created from variant", "job_id", jobID, "variant", v.BackendID())
	return msg, nil
}
