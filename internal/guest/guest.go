// Package guest enforces the per-session question quota for visitors who are not signed in.
package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxQuestions is the guest quota per session.
const DefaultMaxQuestions = 5

// ErrLimitReached is returned by Check once a guest session has used its quota.
var ErrLimitReached = errors.New("guest question limit reached")

// Counter tracks answered guest questions per session.
type Counter interface {
	Count(ctx context.Context, sessionID string) (int64, error)
	// Increment records one answered question. Backends that derive the count
	// from stored history may treat it as a no-op.
	Increment(ctx context.Context, sessionID string) error
}

// Limiter applies the quota on top of a Counter. Counting failures fail open.
type Limiter struct {
	counter Counter
	max     int64
	logger  *slog.Logger
}

// NewLimiter creates a limiter. maxQuestions <= 0 uses DefaultMaxQuestions.
func NewLimiter(counter Counter, maxQuestions int, logger *slog.Logger) *Limiter {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{counter: counter, max: int64(maxQuestions), logger: logger}
}

// Max returns the quota.
func (l *Limiter) Max() int64 { return l.max }

// Message is the user-facing text for ErrLimitReached.
func (l *Limiter) Message() string {
	return fmt.Sprintf("You have reached the limit of %d questions as a guest. Please login to continue.", l.max)
}

// Check returns ErrLimitReached when a guest session has no questions left.
// Signed-in users are never limited.
func (l *Limiter) Check(ctx context.Context, sessionID, userID string) error {
	if userID != "" {
		return nil
	}
	n, err := l.counter.Count(ctx, sessionID)
	if err != nil {
		l.logger.Warn("guest question count failed, allowing request", "session_id", sessionID, "error", err)
		return nil
	}
	if n >= l.max {
		return ErrLimitReached
	}
	return nil
}

// Record counts an answered guest question. Errors are logged.
func (l *Limiter) Record(ctx context.Context, sessionID, userID string) {
	if userID != "" {
		return
	}
	if err := l.counter.Increment(ctx, sessionID); err != nil {
		l.logger.Warn("guest question increment failed", "session_id", sessionID, "error", err)
	}
}

// NewCounter builds the counter named by backend: "history", "redis" or "memory".
func NewCounter(backend string, deps Deps) (Counter, error) {
	switch strings.ToLower(backend) {
	case "", "history":
		if deps.History == nil {
			return nil, fmt.Errorf("history guest counter requires a history store")
		}
		return NewHistoryCounter(deps.History), nil
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis guest counter requires a redis client")
		}
		return NewRedisCounter(deps.Redis, deps.RedisPrefix, deps.RedisTTL), nil
	case "memory":
		c, err := NewMemoryCounter(deps.MemorySize)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported guest counter backend %q", backend)
	}
}
