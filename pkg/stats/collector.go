package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// DefaultSchedule flushes counters once a minute.
const DefaultSchedule = "@every 1m"

// EventSource is a lifecycle event stream such as *controller.Controller.
type EventSource interface {
	Events() <-chan core.Event
	Unsubscribe(ch <-chan core.Event)
}

// Collector counts job outcomes from an event stream and writes them to
// Storage on a cron schedule, together with a snapshot of in-flight jobs.
type Collector struct {
	source    EventSource
	repo      core.Repository
	storage   Storage
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	counters map[core.JobKind]*Counters

	ready     chan struct{}
	readyOnce sync.Once
}

// CollectorOption configures a Collector.
type CollectorOption interface {
	apply(*Collector)
}

type collectorOptionFunc func(*Collector)

func (f collectorOptionFunc) apply(c *Collector) { f(c) }

// WithSchedule sets the cron spec for flushes, for example "@every 30s" or "*/5 * * * *".
func WithSchedule(spec string) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.schedule = spec
	})
}

// WithRetention sets how long stats rows are kept. Zero keeps them forever.
func WithRetention(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.retention = d
	})
}

// WithRepository enables in-flight snapshots from the job repository.
func WithRepository(r core.Repository) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.repo = r
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	})
}

// NewCollector creates a Collector reading from src.
func NewCollector(src EventSource, storage Storage, opts ...CollectorOption) *Collector {
	c := &Collector{
		source:    src,
		storage:   storage,
		schedule:  DefaultSchedule,
		retention: 7 * 24 * time.Hour,
		logger:    slog.Default(),
		now:       time.Now,
		counters:  make(map[core.JobKind]*Counters),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// WaitReady blocks until the collector has subscribed to events.
func (c *Collector) WaitReady() {
	<-c.ready
}

// Ready is closed once the collector has subscribed to events.
func (c *Collector) Ready() <-chan struct{} {
	return c.ready
}

// Start consumes events until ctx is cancelled, then flushes what is left.
func (c *Collector) Start(ctx context.Context) error {
	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc(c.schedule, func() { c.tick(ctx) }); err != nil {
		return fmt.Errorf("genjobs: invalid stats schedule %q: %w", c.schedule, err)
	}

	events := c.source.Events()
	defer c.source.Unsubscribe(events)

	sched.Start()
	c.readyOnce.Do(func() { close(c.ready) })

	for {
		select {
		case <-ctx.Done():
			<-sched.Stop().Done()
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Flush(flushCtx)
			cancel()
			return nil
		case e := <-events:
			c.handleEvent(e)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	c.Flush(ctx)
	c.snapshot(ctx)
	c.prune(ctx)
}

func (c *Collector) handleEvent(e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case *core.JobSubmitted:
		c.get(ev.Job.Kind).Submitted++
	case *core.JobCompleted:
		n := c.get(ev.Job.Kind)
		n.Completed++
		if ev.NoUsableOutput {
			n.NoUsableOutput++
		}
	case *core.JobFailed:
		n := c.get(ev.Job.Kind)
		n.Failed++
		if ev.Failure.Origin == core.OriginClient && ev.Failure.Message == core.DiagnosticLostConnection {
			n.LostConnection++
		}
	case *core.JobCancelled:
		c.get(ev.Job.Kind).Cancelled++
	case *core.PollRetrying:
		c.get(ev.Kind).PollRetries++
	}
}

func (c *Collector) get(kind core.JobKind) *Counters {
	n, ok := c.counters[kind]
	if !ok {
		n = &Counters{}
		c.counters[kind] = n
	}
	return n
}

// Flush writes accumulated counters to storage.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.counters
	c.counters = make(map[core.JobKind]*Counters)
	c.mu.Unlock()

	ts := c.now()
	for kind, n := range batch {
		if n.IsZero() {
			continue
		}
		if err := c.storage.AddCounters(ctx, string(kind), ts, *n); err != nil {
			c.logger.Warn("failed to flush job stats", "kind", kind, "error", err)
		}
	}
}

func (c *Collector) snapshot(ctx context.Context) {
	if c.repo == nil {
		return
	}
	ts := c.now()
	depth := make(map[core.JobKind]*[2]int64) // [pending, processing]

	for i, status := range []core.JobStatus{core.StatusPending, core.StatusProcessing} {
		jobs, err := c.repo.ListByStatus(ctx, status, 10000)
		if err != nil {
			c.logger.Warn("failed to count in-flight jobs", "status", status, "error", err)
			continue
		}
		for _, job := range jobs {
			d, ok := depth[job.Kind]
			if !ok {
				d = &[2]int64{}
				depth[job.Kind] = d
			}
			d[i]++
		}
	}

	for kind, d := range depth {
		if err := c.storage.SnapshotInFlight(ctx, string(kind), ts, d[0], d[1]); err != nil {
			c.logger.Warn("failed to snapshot in-flight jobs", "kind", kind, "error", err)
		}
	}
}

func (c *Collector) prune(ctx context.Context) {
	if c.retention <= 0 {
		return
	}
	if _, err := c.storage.Prune(ctx, c.now().Add(-c.retention)); err != nil {
		c.logger.Warn("failed to prune job stats", "error", err)
	}
}
