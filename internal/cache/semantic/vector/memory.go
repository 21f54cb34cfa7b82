package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with brute-force search.
// It is used in tests and for running the service without PostgreSQL.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []Entry
	nextID    int64
	dimension int
	now       func() time.Time
}

// NewMemoryStore creates an empty store. A zero dimension accepts any length
// but still requires all entries to share one.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, now: time.Now}
}

func (m *MemoryStore) checkDimension(n int) error {
	want := m.dimension
	if want == 0 && len(m.entries) > 0 {
		want = len(m.entries[0].Embedding)
	}
	if want != 0 && n != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, want)
	}
	return nil
}

// Nearest implements Store. Ties go to the oldest entry.
func (m *MemoryStore) Nearest(ctx context.Context, embedding []float32) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	if err := m.checkDimension(len(embedding)); err != nil {
		return nil, err
	}

	best := -1
	bestSim := 0.0
	for i := range m.entries {
		sim, err := CosineSimilarity(embedding, m.entries[i].Embedding)
		if err != nil {
			return nil, err
		}
		if best < 0 || sim > bestSim {
			best, bestSim = i, sim
		}
	}

	return &Match{Entry: copyEntry(m.entries[best]), Similarity: bestSim}, nil
}

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, entry Entry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDimension(len(entry.Embedding)); err != nil {
		return 0, err
	}

	m.nextID++
	entry.ID = m.nextID
	entry.HitCount = 0
	entry.CreatedAt = m.now()
	entry.Embedding = append([]float32(nil), entry.Embedding...)
	m.entries = append(m.entries, entry)
	return entry.ID, nil
}

// IncrementHits implements Store.
func (m *MemoryStore) IncrementHits(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].HitCount++
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrNotFound, id)
}

// Aggregate implements Store.
func (m *MemoryStore) Aggregate(ctx context.Context) (Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return Aggregate{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agg Aggregate
	agg.TotalCached = int64(len(m.entries))
	for i := range m.entries {
		agg.TotalHits += m.entries[i].HitCount
	}
	if agg.TotalCached > 0 {
		agg.AvgHitsPerEntry = float64(agg.TotalHits) / float64(agg.TotalCached)
	}
	return agg, nil
}

// Count implements Pruner.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// DeleteLowestValue implements Pruner.
func (m *MemoryStore) DeleteLowestValue(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order := make([]int, len(m.entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := m.entries[order[a]], m.entries[order[b]]
		if ea.HitCount != eb.HitCount {
			return ea.HitCount < eb.HitCount
		}
		if !ea.CreatedAt.Equal(eb.CreatedAt) {
			return ea.CreatedAt.Before(eb.CreatedAt)
		}
		return ea.ID < eb.ID
	})
	if n > int64(len(order)) {
		n = int64(len(order))
	}

	drop := make(map[int]struct{}, n)
	for _, idx := range order[:n] {
		drop[idx] = struct{}{}
	}
	kept := m.entries[:0]
	for i, e := range m.entries {
		if _, ok := drop[i]; !ok {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return n, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Get returns a copy of the entry with the given id.
func (m *MemoryStore) Get(id int64) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			return copyEntry(m.entries[i]), true
		}
	}
	return Entry{}, false
}

func copyEntry(e Entry) Entry {
	e.Embedding = append([]float32(nil), e.Embedding...)
	return e
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Pruner = (*MemoryStore)(nil)
)
