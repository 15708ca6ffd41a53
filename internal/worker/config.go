// Package worker provides background job processing for castboard: the
// scheduled sweep that expires media past its expiration time.
package worker

import (
	"time"

	"github.com/castboard/castboard/internal/resilience"
)

// SweepConfig holds configuration for the expiry sweep.
type SweepConfig struct {
	// Interval is how often the local scheduler runs the sweep.
	// Default: 15 minutes
	Interval time.Duration

	// Concurrency is the number of concurrent blob deletions.
	// Default: 4
	Concurrency int

	// Timeout bounds a whole sweep run.
	// Default: 5 minutes
	Timeout time.Duration

	// Retry configures retries of failed blob deletions.
	Retry resilience.RetryPolicy
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:    15 * time.Minute,
		Concurrency: 4,
		Timeout:     5 * time.Minute,
		Retry:       resilience.DefaultRetryPolicy(),
	}
}

// withDefaults fills unset fields from DefaultSweepConfig.
func (c SweepConfig) withDefaults() SweepConfig {
	d := DefaultSweepConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retry == (resilience.RetryPolicy{}) {
		c.Retry = d.Retry
	}
	return c
}
