package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures exponential backoff retries.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	// InitialInterval is the first backoff interval. Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval. Default: 5 seconds
	MaxInterval time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry calls op until it succeeds, returns a Permanent error, the retries
// are exhausted, or ctx is done. The last error is returned unwrapped.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	return backoff.Retry(func() error { return op(ctx) }, p.backOff(ctx))
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxRetries

	return backoff.WithContext(backoff.WithMaxRetries(bo, p.MaxRetries), ctx)
}
