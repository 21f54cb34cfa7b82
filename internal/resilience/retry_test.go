package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetry(t *testing.T) {
	transient := errors.New("503 from upstream")
	fatal := errors.New("401 from upstream")
	isTransient := func(err error) bool { return errors.Is(err, transient) }

	t.Run("should succeed after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry(3), isTransient, func(context.Context) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("should stop on non-retryable errors", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry(3), isTransient, func(context.Context) error {
			calls++
			return fatal
		})
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("should give up after max retries", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry(2), isTransient, func(context.Context) error {
			calls++
			return transient
		})
		assert.ErrorIs(t, err, transient)
		assert.Equal(t, 3, calls)
	})

	t.Run("should make a single attempt with zero retries", func(t *testing.T) {
		calls := 0
		_ = Retry(context.Background(), fastRetry(0), nil, func(context.Context) error {
			calls++
			return transient
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, RetryConfig{MaxRetries: 100, InitialInterval: 50 * time.Millisecond}, nil, func(context.Context) error {
			calls++
			cancel()
			return transient
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
