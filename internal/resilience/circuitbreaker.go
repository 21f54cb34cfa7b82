// Package resilience guards the cache's dependencies (vector store, embedding API)
// so a struggling backend degrades into cache misses instead of slow requests.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows calls through.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a few probe calls.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Do when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig contains configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Zero disables the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenMaxCalls caps concurrent probes while half-open.
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig returns the defaults used for the vector store.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker counts consecutive failures of one dependency.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	cfg           CircuitBreakerConfig
	state         CircuitState
	failures      int
	successes     int
	probes        int
	openedAt      time.Time
	now           func() time.Time
	onStateChange func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
	}
}

// OnStateChange registers a callback invoked synchronously on every transition.
// The callback must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cfg.FailureThreshold <= 0 {
		return true
	}

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probes = 1
		return true
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxCalls {
			cb.probes++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.probes > 0 {
			cb.probes--
		}
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cfg.FailureThreshold <= 0 {
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Do runs fn when the breaker allows it and records the outcome.
// Context cancellation by the caller is not counted as a dependency failure.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	return cb.DoClassified(ctx, fn, nil)
}

// DoClassified is Do with a classifier for errors that prove the dependency
// answered, such as a missing row. When healthy reports true the call counts
// as a success while the error is still returned.
func (cb *CircuitBreaker) DoClassified(ctx context.Context, fn func(context.Context) error, healthy func(error) bool) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case healthy != nil && healthy(err):
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		cb.releaseProbe()
	default:
		cb.RecordFailure()
	}
	return err
}

// releaseProbe frees a half-open slot taken by a call that ended without a verdict.
func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
