package semantic

import (
	"context"
	"fmt"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/vector"
	"github.com/blueberrycongee/fincopilot/internal/metrics"
)

// Evictor runs after every successful Store and may remove entries.
type Evictor interface {
	Evict(ctx context.Context, store vector.Store) error
}

// NopEvictor never removes anything; the cache grows without bound.
type NopEvictor struct{}

// Evict implements Evictor.
func (NopEvictor) Evict(context.Context, vector.Store) error { return nil }

// CapacityEvictor keeps at most MaxEntries rows by deleting the least-hit,
// oldest entries. Stores that do not implement vector.Pruner are left alone.
type CapacityEvictor struct {
	MaxEntries int64
}

// Evict implements Evictor.
func (e CapacityEvictor) Evict(ctx context.Context, store vector.Store) error {
	if e.MaxEntries <= 0 {
		return nil
	}
	pruner, ok := store.(vector.Pruner)
	if !ok {
		return nil
	}

	count, err := pruner.Count(ctx)
	if err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	excess := count - e.MaxEntries
	if excess <= 0 {
		return nil
	}

	removed, err := pruner.DeleteLowestValue(ctx, excess)
	if err != nil {
		return fmt.Errorf("evict %d entries: %w", excess, err)
	}
	metrics.CacheEvictions.Add(float64(removed))
	return nil
}
