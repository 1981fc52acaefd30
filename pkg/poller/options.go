package poller

import (
	"log/slog"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/security"
)

// DefaultInterval is the pause between status checks for one job.
const DefaultInterval = 2 * time.Second

// Option configures a Poller.
type Option interface {
	ApplyPoller(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyPoller(c *Config) { f(c) }

// Config holds poller configuration.
type Config struct {
	Interval time.Duration
	Retry    RetryConfig
	Logger   *slog.Logger
}

// WithInterval sets the default interval used when Start is given zero.
// Values are clamped to the allowed poll interval range.
func WithInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.Interval = security.ClampPollInterval(d)
	})
}

// WithRetry sets the consecutive-failure policy.
func WithRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		cfg.MaxConsecutiveFailures = security.ClampPollRetries(cfg.MaxConsecutiveFailures)
		c.Retry = cfg
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
