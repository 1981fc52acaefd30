package poller

import (
	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// RetryConfig bounds how many failed status checks in a row are tolerated.
type RetryConfig struct {
	// MaxConsecutiveFailures is the number of transient failures retried at
	// the normal interval. The next failure after that is reported as
	// exhausted. A successful check resets the count.
	// Default: 3
	MaxConsecutiveFailures int
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxConsecutiveFailures: 3}
}

// failureVerdict decides what a failed check means for the poll loop.
type failureVerdict int

const (
	verdictRetry failureVerdict = iota
	verdictExhausted
	verdictPermanent
)

func classify(cfg RetryConfig, err error, consecutive int) failureVerdict {
	if !core.IsRetryable(err) {
		return verdictPermanent
	}
	if consecutive > cfg.MaxConsecutiveFailures {
		return verdictExhausted
	}
	return verdictRetry
}
