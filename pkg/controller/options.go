package controller

import (
	"log/slog"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/poller"
	"github.com/jdziat/campaign-genjobs/pkg/security"
)

// Option configures a Controller.
type Option interface {
	ApplyController(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyController(c *Config) { f(c) }

// Config holds controller configuration.
type Config struct {
	PollInterval time.Duration
	Retry        poller.RetryConfig
	Repository   core.Repository
	Logger       *slog.Logger
	Clock        func() time.Time

	// HistoryPageSize is the page size used by Resume.
	HistoryPageSize int
}

// WithPollInterval sets the delay between status checks of one job.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.PollInterval = security.ClampPollInterval(d)
	})
}

// WithRetry sets how many consecutive failed status checks are tolerated.
func WithRetry(cfg poller.RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.Retry = cfg
	})
}

// WithRepository sets where job state is kept. Defaults to an in-memory repository.
func WithRepository(r core.Repository) Option {
	return optionFunc(func(c *Config) {
		c.Repository = r
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		if now != nil {
			c.Clock = now
		}
	})
}

// WithHistoryPageSize sets the page size used when resuming a campaign.
func WithHistoryPageSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.HistoryPageSize = n
		}
	})
}
