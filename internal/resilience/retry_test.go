package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/castboard/castboard/internal/resilience"
)

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := resilience.Retry(context.Background(), fastRetry(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := resilience.Retry(context.Background(), fastRetry(2), func(context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		calls := 0
		err := resilience.Retry(context.Background(), fastRetry(5), func(context.Context) error {
			calls++
			return resilience.Permanent(errFatal)
		})
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := resilience.Retry(ctx, fastRetry(5), func(context.Context) error {
			return errTransient
		})
		assert.Error(t, err)
	})
}
