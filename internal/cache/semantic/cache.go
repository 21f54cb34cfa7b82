package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/vector"
	"github.com/blueberrycongee/fincopilot/internal/metrics"
	"github.com/blueberrycongee/fincopilot/internal/resilience"
)

// Cache is the semantic cache engine. It never calls the embedding API itself:
// callers embed the question once and pass the same vector to Lookup and Store.
type Cache struct {
	store         vector.Store
	evictor       Evictor
	breaker       *resilience.CircuitBreaker
	logger        *slog.Logger
	threshold     float64
	dimension     int
	lookupTimeout time.Duration

	hits        atomic.Int64
	misses      atomic.Int64
	unavailable atomic.Int64
	stores      atomic.Int64
	storeErrors atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvictor replaces the default NopEvictor.
func WithEvictor(e Evictor) Option {
	return func(c *Cache) {
		if e != nil {
			c.evictor = e
		}
	}
}

// WithBreaker guards store calls with a circuit breaker.
func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(c *Cache) { c.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cache engine over store. A configured threshold of 0 is read
// as unset and replaced by DefaultSimilarityThreshold, whereas Lookup accepts
// an explicit 0 as a real threshold that any neighbor above 0 satisfies.
func New(store vector.Store, cfg Config, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}

	if !ValidThreshold(cfg.SimilarityThreshold) || cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultConfig().LookupTimeout
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultConfig().Dimension
	}

	c := &Cache{
		store:         store,
		evictor:       NopEvictor{},
		logger:        slog.Default(),
		threshold:     cfg.SimilarityThreshold,
		dimension:     cfg.Dimension,
		lookupTimeout: cfg.LookupTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Threshold returns the configured similarity threshold.
func (c *Cache) Threshold() float64 {
	return c.threshold
}

// Dimension returns the embedding size the cache accepts.
func (c *Cache) Dimension() int {
	return c.dimension
}

// Lookup finds the nearest cached entry and reports a Hit when its similarity is
// strictly greater than threshold. A threshold outside [0,1] falls back to the
// configured one. Lookup never changes hit counts; call RecordHit after using a hit.
func (c *Cache) Lookup(ctx context.Context, emb []float32, threshold float64) LookupResult {
	if !ValidThreshold(threshold) {
		threshold = c.threshold
	}

	if len(emb) != c.dimension {
		return c.unavailableResult(fmt.Errorf("%w: %w: got %d, want %d",
			ErrStoreUnavailable, vector.ErrDimensionMismatch, len(emb), c.dimension), 0)
	}

	start := time.Now()
	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	var match *vector.Match
	err := c.guard(lookupCtx, func(ctx context.Context) error {
		m, err := c.store.Nearest(ctx, emb)
		match = m
		return err
	})
	latency := time.Since(start)
	if err != nil {
		return c.unavailableResult(fmt.Errorf("%w: %w", ErrStoreUnavailable, err), latency)
	}

	if match == nil {
		c.misses.Add(1)
		c.logger.Debug("semantic cache miss: cache is empty")
		metrics.RecordCacheLookup(Miss.String(), false, 0, latency)
		return LookupResult{Outcome: Miss}
	}

	res := LookupResult{Similarity: match.Similarity, HasNeighbor: true}
	if match.Similarity > threshold {
		entry := match.Entry
		res.Outcome = Hit
		res.Entry = &entry
		c.hits.Add(1)
		c.logger.Debug("semantic cache hit",
			"id", entry.ID,
			"similarity", match.Similarity,
			"threshold", threshold,
		)
	} else {
		res.Outcome = Miss
		c.misses.Add(1)
		c.logger.Debug("semantic cache miss: below threshold",
			"nearest_id", match.Entry.ID,
			"similarity", match.Similarity,
			"threshold", threshold,
		)
	}
	metrics.RecordCacheLookup(res.Outcome.String(), true, match.Similarity, latency)
	return res
}

func (c *Cache) unavailableResult(err error, latency time.Duration) LookupResult {
	c.unavailable.Add(1)
	c.logger.Warn("semantic cache lookup unavailable, treating as miss", "error", err)
	metrics.RecordCacheLookup(Unavailable.String(), false, 0, latency)
	return LookupResult{Outcome: Unavailable, Err: err}
}

// RecordHit increments the hit count of id by one. Failures, including a
// missing id, are logged and swallowed so a served answer is never affected.
func (c *Cache) RecordHit(ctx context.Context, id int64) {
	err := c.guard(ctx, func(ctx context.Context) error {
		return c.store.IncrementHits(ctx, id)
	})
	metrics.RecordHitRecording(err)
	switch {
	case err == nil:
	case errors.Is(err, vector.ErrNotFound):
		c.logger.Warn("semantic cache hit recording skipped: entry not found", "id", id)
	default:
		c.logger.Warn("semantic cache hit recording failed", "id", id, "error", err)
	}
}

// Store inserts a new entry with a zero hit count and returns its id.
// There is no duplicate check. The evictor runs after a successful insert;
// its failures are logged only.
func (c *Cache) Store(ctx context.Context, question, answer string, emb []float32) (int64, error) {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return 0, ErrInvalidEntry
	}
	if len(emb) != c.dimension {
		c.storeErrors.Add(1)
		metrics.RecordCacheWrite(vector.ErrDimensionMismatch)
		return 0, fmt.Errorf("%w: got %d, want %d", vector.ErrDimensionMismatch, len(emb), c.dimension)
	}

	var id int64
	err := c.guard(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.store.Insert(ctx, vector.Entry{
			Question:  question,
			Answer:    answer,
			Embedding: emb,
		})
		return err
	})
	metrics.RecordCacheWrite(err)
	if err != nil {
		c.storeErrors.Add(1)
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	c.stores.Add(1)

	if err := c.evictor.Evict(ctx, c.store); err != nil {
		c.logger.Warn("semantic cache eviction failed", "error", err)
	}
	return id, nil
}

// Stats returns the persistent aggregate. An empty cache yields all zeros.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	agg, err := c.store.Aggregate(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s := Stats{
		TotalCached:     agg.TotalCached,
		TotalHits:       agg.TotalHits,
		AvgHitsPerEntry: agg.AvgHitsPerEntry,
	}
	if s.TotalCached == 0 {
		s.AvgHitsPerEntry = 0
	}
	return s, nil
}

// Counters returns in-process totals since start.
func (c *Cache) Counters() Counters {
	out := Counters{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Unavailable: c.unavailable.Load(),
		Stores:      c.stores.Load(),
		StoreErrors: c.storeErrors.Load(),
	}
	if total := out.Hits + out.Misses + out.Unavailable; total > 0 {
		out.HitRate = float64(out.Hits) / float64(total)
	}
	return out
}

// Ping checks if the vector store is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases resources held by the store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) guard(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.DoClassified(ctx, fn, storeAnswered)
}

// storeAnswered reports errors that come from a reachable store rejecting one
// call. They must not open the breaker.
func storeAnswered(err error) bool {
	return errors.Is(err, vector.ErrNotFound) || errors.Is(err, vector.ErrDimensionMismatch)
}
