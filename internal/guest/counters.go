package guest

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// HistoryCounter is the subset of history.Store the history counter needs.
type HistoryCounter interface {
	CountGuestMessages(ctx context.Context, sessionID string) (int64, error)
}

// Deps carries what NewCounter may need for each backend.
type Deps struct {
	History     HistoryCounter
	Redis       redis.UniversalClient
	RedisPrefix string
	RedisTTL    time.Duration
	MemorySize  int
}

type historyCounter struct {
	store HistoryCounter
}

// NewHistoryCounter counts the human guest messages already saved for the session.
func NewHistoryCounter(store HistoryCounter) Counter {
	return historyCounter{store: store}
}

func (h historyCounter) Count(ctx context.Context, sessionID string) (int64, error) {
	return h.store.CountGuestMessages(ctx, sessionID)
}

// Increment is a no-op: the saved human message is the count.
func (historyCounter) Increment(context.Context, string) error { return nil }

// RedisCounter keeps one counter key per session with a sliding TTL.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCounter creates a counter. ttl <= 0 keeps keys for 30 days.
func NewRedisCounter(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCounter {
	if prefix == "" {
		prefix = "fincopilot:guest:"
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisCounter{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCounter) key(sessionID string) string {
	return r.prefix + sessionID
}

// Count implements Counter.
func (r *RedisCounter) Count(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.client.Get(ctx, r.key(sessionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get guest count: %w", err)
	}
	return n, nil
}

// Increment implements Counter.
func (r *RedisCounter) Increment(ctx context.Context, sessionID string) error {
	key := r.key(sessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis incr guest count: %w", err)
	}
	return nil
}

// MemoryCounter keeps counters for the most recently active sessions.
type MemoryCounter struct {
	mu    sync.Mutex
	cache *lru.Cache[string, int64]
}

// NewMemoryCounter creates a counter bounded to size sessions (default 10000).
func NewMemoryCounter(size int) (*MemoryCounter, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New[string, int64](size)
	if err != nil {
		return nil, fmt.Errorf("create guest counter cache: %w", err)
	}
	return &MemoryCounter{cache: c}, nil
}

// Count implements Counter.
func (m *MemoryCounter) Count(_ context.Context, sessionID string) (int64, error) {
	n, _ := m.cache.Get(sessionID)
	return n, nil
}

// Increment implements Counter.
func (m *MemoryCounter) Increment(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := m.cache.Get(sessionID)
	m.cache.Add(sessionID, n+1)
	return nil
}
