package resilience

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript opens a window on first use and counts inside it. KEYS are the
// window-start and counter keys; ARGV is now and the window size in seconds.
const windowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = redis.call('GET', KEYS[1])
if not start or (now - tonumber(start)) >= window then
    redis.call('SET', KEYS[1], tostring(now), 'EX', window)
    redis.call('SET', KEYS[2], 1, 'EX', window)
    return {tostring(now), 1}
end
local count = redis.call('INCR', KEYS[2])
if redis.call('TTL', KEYS[2]) == -1 then
    redis.call('EXPIRE', KEYS[2], window)
end
return {start, count}
`

// WindowResult is the outcome of one WindowLimiter check.
type WindowResult struct {
	Allowed   bool
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter returns how long until the window resets, at least one second.
func (r WindowResult) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// WindowLimiter enforces a fixed-window request budget per key in Redis, so
// every replica shares the same counters.
type WindowLimiter struct {
	client redis.UniversalClient
	script *redis.Script
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewWindowLimiter allows limit requests per key per window (default one minute).
func NewWindowLimiter(client redis.UniversalClient, prefix string, limit int64, window time.Duration) (*WindowLimiter, error) {
	if client == nil {
		return nil, errors.New("window limiter requires a redis client")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("window limit must be positive, got %d", limit)
	}
	if window < time.Second {
		window = time.Minute
	}
	return &WindowLimiter{
		client: client,
		script: redis.NewScript(windowScript),
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

// Allow counts one request for key.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (WindowResult, error) {
	// The hash tag keeps both keys on one cluster slot.
	base := fmt.Sprintf("%s{%s}", l.prefix, key)
	keys := []string{base + ":window", base + ":count"}
	windowSecs := int64(l.window / time.Second)

	val, err := l.script.Run(ctx, l.client, keys, l.now().Unix(), windowSecs).Result()
	if err != nil {
		return WindowResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	pair, ok := val.([]interface{})
	if !ok || len(pair) != 2 {
		return WindowResult{}, fmt.Errorf("unexpected rate limit script result: %v", val)
	}

	start, err := toInt64(pair[0])
	if err != nil {
		return WindowResult{}, fmt.Errorf("window start: %w", err)
	}
	count, err := toInt64(pair[1])
	if err != nil {
		return WindowResult{}, fmt.Errorf("window count: %w", err)
	}

	return WindowResult{
		Allowed:   count <= l.limit,
		Count:     count,
		Remaining: max(l.limit-count, 0),
		ResetAt:   time.Unix(start+windowSecs, 0),
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
