package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/blueberrycongee/fincopilot/internal/config"
	"github.com/blueberrycongee/fincopilot/internal/metrics"
	"github.com/blueberrycongee/fincopilot/internal/resilience"
)

const rateLimitCleanupTTL = 10 * time.Minute

// clientRateLimiter keeps one token bucket per client address.
type clientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	limit      rate.Limit
	burst      int
	now        func() time.Time
}

func newClientRateLimiter(cfg config.RateLimitConfig) *clientRateLimiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 10
	}
	return &clientRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		limit:      rate.Limit(float64(rpm) / 60.0),
		burst:      burst,
		now:        time.Now,
	}
}

func (l *clientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	now := l.now()
	l.lastAccess[client] = now
	l.mu.Unlock()
	return limiter.AllowN(now, 1)
}

// cleanup drops buckets idle for longer than ttl.
func (l *clientRateLimiter) cleanup(ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-ttl)
	removed := 0
	for client, last := range l.lastAccess {
		if last.Before(cutoff) {
			delete(l.limiters, client)
			delete(l.lastAccess, client)
			removed++
		}
	}
	return removed
}

func (l *clientRateLimiter) startCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup(rateLimitCleanupTTL)
			}
		}
	}()
}

// Middleware rejects a client that exceeded its budget with 429.
func (l *clientRateLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := time.Duration(max(1, 1/float64(l.limit))) * time.Second
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			writeRateLimited(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// redisRateLimiter shares per-client windows across replicas. Redis errors
// let the request through.
type redisRateLimiter struct {
	limiter *resilience.WindowLimiter
	logger  *slog.Logger
	now     func() time.Time
}

func newRedisRateLimiter(client redis.UniversalClient, cfg config.RateLimitConfig, logger *slog.Logger) (*redisRateLimiter, error) {
	limiter, err := resilience.NewWindowLimiter(client, cfg.KeyPrefix, int64(cfg.RequestsPerMinute), time.Minute)
	if err != nil {
		return nil, err
	}
	return &redisRateLimiter{limiter: limiter, logger: logger, now: time.Now}, nil
}

func (l *redisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := l.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			l.logger.Warn("rate limit check failed, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !res.Allowed {
			writeRateLimited(w, res.RetryAfter(l.now()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	metrics.RateLimitRejections.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "Too many requests. Please slow down.",
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
