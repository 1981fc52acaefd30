package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/security"
)

var errEmptySnapshot = errors.New("genjobs: status check returned no job")

// Fetcher retrieves the current backend snapshot of a job.
// core.Transport satisfies it.
type Fetcher interface {
	GetJobStatus(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error)

// GetJobStatus calls f.
func (f FetcherFunc) GetJobStatus(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error) {
	return f(ctx, campaignID, jobID)
}

// Observation is the outcome of one status check.
type Observation struct {
	JobID      string
	CampaignID string

	// Snapshot is set when the check succeeded.
	Snapshot *core.Snapshot

	// Err is set when the check failed. Attempt counts consecutive failures.
	Err     error
	Attempt int

	// Exhausted means the consecutive failure limit was exceeded.
	Exhausted bool

	// Permanent means the failure cannot be fixed by retrying.
	Permanent bool
}

// Final reports whether polling stops after this observation.
func (o Observation) Final() bool {
	if o.Exhausted || o.Permanent {
		return true
	}
	return o.Snapshot != nil && o.Snapshot.Status.IsTerminal()
}

// Handler receives observations in order. Returning false stops polling the job.
type Handler func(Observation) bool

type pollState struct {
	cancel context.CancelFunc
}

// Poller runs sequential status checks for any number of jobs, at most one
// loop per job ID.
type Poller struct {
	fetcher Fetcher
	handler Handler
	config  Config
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*pollState
	closed bool
	wg     sync.WaitGroup
}

// New creates a Poller that reports to h.
func New(f Fetcher, h Handler, opts ...Option) *Poller {
	config := Config{
		Interval: DefaultInterval,
		Retry:    DefaultRetryConfig(),
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt.ApplyPoller(&config)
	}

	return &Poller{
		fetcher: f,
		handler: h,
		config:  config,
		logger:  config.Logger,
		active:  make(map[string]*pollState),
	}
}

// Start begins polling a job. The first check is issued immediately.
// A zero interval uses the configured default. The loop is detached from
// ctx's cancellation and runs until Stop, Close or a final observation.
// Start returns false if the job is already being polled or the Poller is closed.
func (p *Poller) Start(ctx context.Context, campaignID, jobID string, interval time.Duration) bool {
	if interval <= 0 {
		interval = p.config.Interval
	}
	interval = security.ClampPollInterval(interval)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, ok := p.active[jobID]; ok {
		return false
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &pollState{cancel: cancel}
	p.active[jobID] = st

	p.wg.Add(1)
	go p.run(loopCtx, st, campaignID, jobID, interval)
	return true
}

// Stop ends polling for a job. Any pending check is cancelled and a response
// that arrives afterwards is discarded. Unknown IDs are ignored.
func (p *Poller) Stop(jobID string) {
	p.mu.Lock()
	st, ok := p.active[jobID]
	if ok {
		delete(p.active, jobID)
	}
	p.mu.Unlock()

	if ok {
		st.cancel()
	}
}

// Active reports whether a job is being polled.
func (p *Poller) Active(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[jobID]
	return ok
}

// ActiveCount returns the number of jobs being polled.
func (p *Poller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Close stops every loop and waits for them to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	states := p.active
	p.active = make(map[string]*pollState)
	p.mu.Unlock()

	for _, st := range states {
		st.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, st *pollState, campaignID, jobID string, interval time.Duration) {
	defer p.wg.Done()
	defer p.release(jobID, st)
	defer st.cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		snap, err := p.fetch(ctx, campaignID, jobID)
		if ctx.Err() != nil {
			return
		}

		obs := Observation{JobID: jobID, CampaignID: campaignID, Snapshot: snap}
		if err != nil {
			failures++
			obs.Snapshot = nil
			obs.Err = err
			obs.Attempt = failures
			switch classify(p.config.Retry, err, failures) {
			case verdictPermanent:
				obs.Permanent = true
				p.logger.Warn("status check failed permanently", "job_id", jobID, "error", err)
			case verdictExhausted:
				obs.Exhausted = true
				p.logger.Warn("status check retries exhausted", "job_id", jobID, "attempt", failures, "error", err)
			default:
				p.logger.Debug("status check failed, retrying", "job_id", jobID, "attempt", failures, "error", err)
			}
		} else {
			failures = 0
		}

		if !p.deliver(st, jobID, obs) || obs.Final() {
			return
		}
		timer.Reset(interval)
	}
}

// fetch performs one check and normalizes malformed responses into
// retryable server errors.
func (p *Poller) fetch(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error) {
	snap, err := p.fetcher.GetJobStatus(ctx, campaignID, jobID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, core.NewTransportError(core.KindServer, 0, "", errEmptySnapshot)
	}
	if _, perr := core.ParseStatus(string(snap.Status)); perr != nil {
		return nil, core.NewTransportError(core.KindServer, 0, "malformed status", perr)
	}
	return snap, nil
}

// deliver hands obs to the handler unless the loop was stopped or replaced.
func (p *Poller) deliver(st *pollState, jobID string, obs Observation) bool {
	p.mu.Lock()
	current := p.active[jobID] == st
	p.mu.Unlock()
	if !current {
		return false
	}
	return p.handler(obs)
}

func (p *Poller) release(jobID string, st *pollState) {
	p.mu.Lock()
	if p.active[jobID] == st {
		delete(p.active, jobID)
	}
	p.mu.Unlock()
}
