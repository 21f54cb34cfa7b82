package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("vector-store", cfg)
	cb.now = clock.Now
	return cb, clock
}

func testConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Cooldown:         time.Second,
		HalfOpenMaxCalls: 2,
	}
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("should stay closed on success", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		for i := 0; i < 10; i++ {
			require.True(t, cb.Allow())
			cb.RecordSuccess()
		}
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, "vector-store", cb.Name())
	})

	t.Run("should open after consecutive failures", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, StateClosed, cb.State(), "success resets the failure streak")

		cb.RecordFailure()
		assert.Equal(t, StateOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("should probe after cooldown and close on success", func(t *testing.T) {
		cb, clock := newTestBreaker(testConfig())
		cb.RecordFailure()
		cb.RecordFailure()

		clock.Advance(500 * time.Millisecond)
		assert.False(t, cb.Allow())

		clock.Advance(600 * time.Millisecond)
		require.True(t, cb.Allow())
		assert.Equal(t, StateHalfOpen, cb.State())

		cb.RecordSuccess()
		assert.Equal(t, StateHalfOpen, cb.State())
		require.True(t, cb.Allow())
		cb.RecordSuccess()
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("should reopen on half-open failure", func(t *testing.T) {
		cb, clock := newTestBreaker(testConfig())
		cb.RecordFailure()
		cb.RecordFailure()
		clock.Advance(2 * time.Second)
		require.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, StateOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("should limit half-open probes", func(t *testing.T) {
		cb, clock := newTestBreaker(testConfig())
		cb.RecordFailure()
		cb.RecordFailure()
		clock.Advance(2 * time.Second)

		assert.True(t, cb.Allow())
		assert.True(t, cb.Allow())
		assert.False(t, cb.Allow())
	})

	t.Run("should be disabled with zero threshold", func(t *testing.T) {
		cb, _ := newTestBreaker(CircuitBreakerConfig{})
		for i := 0; i < 100; i++ {
			cb.RecordFailure()
		}
		assert.True(t, cb.Allow())
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("should reset to closed", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		cb.RecordFailure()
		cb.RecordFailure()
		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())
		assert.True(t, cb.Allow())
	})

	t.Run("should report transitions", func(t *testing.T) {
		cb, clock := newTestBreaker(testConfig())
		var got []string
		cb.OnStateChange(func(name string, from, to CircuitState) {
			got = append(got, from.String()+"->"+to.String())
		})
		cb.RecordFailure()
		cb.RecordFailure()
		clock.Advance(2 * time.Second)
		cb.Allow()
		cb.RecordSuccess()
		cb.RecordSuccess()

		assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, got)
	})
}

func TestCircuitBreaker_Do(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("should record failures and reject when open", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		calls := 0
		fail := func(context.Context) error { calls++; return boom }

		assert.ErrorIs(t, cb.Do(context.Background(), fail), boom)
		assert.ErrorIs(t, cb.Do(context.Background(), fail), boom)
		assert.ErrorIs(t, cb.Do(context.Background(), fail), ErrCircuitOpen)
		assert.Equal(t, 2, calls)
	})

	t.Run("should not count caller cancellation", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		for i := 0; i < 5; i++ {
			err := cb.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
			assert.ErrorIs(t, err, context.Canceled)
		}
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("should free the half-open slot when the caller cancels", func(t *testing.T) {
		cb, clock := newTestBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			Cooldown:         time.Millisecond,
			HalfOpenMaxCalls: 1,
		})
		cb.RecordFailure()
		clock.Advance(time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := cb.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateHalfOpen, cb.State())

		calls := 0
		for i := 0; i < 3; i++ {
			require.NoError(t, cb.Do(context.Background(), func(context.Context) error { calls++; return nil }))
		}
		assert.Equal(t, 3, calls)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("should count deadline exceeded", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		slow := func(context.Context) error { return context.DeadlineExceeded }
		_ = cb.Do(context.Background(), slow)
		_ = cb.Do(context.Background(), slow)
		assert.Equal(t, StateOpen, cb.State())
	})
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("concurrent", CircuitBreakerConfig{
		FailureThreshold: 100,
		SuccessThreshold: 10,
		Cooldown:         time.Second,
		HalfOpenMaxCalls: 10,
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if cb.Allow() {
					if j%2 == 0 {
						cb.RecordSuccess()
					} else {
						cb.RecordFailure()
					}
				}
			}
		}()
	}
	wg.Wait()
	_ = cb.State()
}

func TestCircuitBreaker_DoClassified(t *testing.T) {
	missing := errors.New("row not found")
	healthy := func(err error) bool { return errors.Is(err, missing) }

	t.Run("should count classified errors as successes", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		for i := 0; i < 10; i++ {
			err := cb.DoClassified(context.Background(), func(context.Context) error { return missing }, healthy)
			assert.ErrorIs(t, err, missing)
		}
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("should close a half-open breaker on a classified error", func(t *testing.T) {
		cb, clock := newTestBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			Cooldown:         time.Second,
		})
		cb.RecordFailure()
		clock.Advance(2 * time.Second)

		_ = cb.DoClassified(context.Background(), func(context.Context) error { return missing }, healthy)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("should still count other errors", func(t *testing.T) {
		cb, _ := newTestBreaker(testConfig())
		boom := errors.New("connection reset")
		for i := 0; i < 2; i++ {
			_ = cb.DoClassified(context.Background(), func(context.Context) error { return boom }, healthy)
		}
		assert.Equal(t, StateOpen, cb.State())
	})
}
