package vector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should return nil when empty", func(t *testing.T) {
		store := NewMemoryStore(2)
		match, err := store.Nearest(ctx, []float32{1, 0})
		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("should find the most similar entry", func(t *testing.T) {
		store := NewMemoryStore(2)
		_, err := store.Insert(ctx, Entry{Question: "east", Answer: "a1", Embedding: []float32{1, 0}})
		require.NoError(t, err)
		northID, err := store.Insert(ctx, Entry{Question: "north", Answer: "a2", Embedding: []float32{0, 1}})
		require.NoError(t, err)

		match, err := store.Nearest(ctx, []float32{0.1, 0.9})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, northID, match.Entry.ID)
		assert.Equal(t, "north", match.Entry.Question)
		assert.Greater(t, match.Similarity, 0.9)
	})

	t.Run("should assign monotonic ids and zero hits", func(t *testing.T) {
		store := NewMemoryStore(1)
		id1, _ := store.Insert(ctx, Entry{Question: "q", Answer: "a", Embedding: []float32{1}, HitCount: 9})
		id2, _ := store.Insert(ctx, Entry{Question: "q", Answer: "a", Embedding: []float32{1}})
		assert.Less(t, id1, id2)

		e, ok := store.Get(id1)
		require.True(t, ok)
		assert.Zero(t, e.HitCount)
		assert.False(t, e.CreatedAt.IsZero())
	})

	t.Run("should increment hits and aggregate", func(t *testing.T) {
		store := NewMemoryStore(1)
		id, _ := store.Insert(ctx, Entry{Question: "q1", Answer: "a", Embedding: []float32{1}})
		_, _ = store.Insert(ctx, Entry{Question: "q2", Answer: "a", Embedding: []float32{1}})

		for i := 0; i < 3; i++ {
			require.NoError(t, store.IncrementHits(ctx, id))
		}
		agg, err := store.Aggregate(ctx)
		require.NoError(t, err)
		assert.Equal(t, Aggregate{TotalCached: 2, TotalHits: 3, AvgHitsPerEntry: 1.5}, agg)
	})

	t.Run("should report missing ids", func(t *testing.T) {
		store := NewMemoryStore(1)
		assert.ErrorIs(t, store.IncrementHits(ctx, 123), ErrNotFound)
	})

	t.Run("should aggregate zeros when empty", func(t *testing.T) {
		agg, err := NewMemoryStore(1).Aggregate(ctx)
		require.NoError(t, err)
		assert.Equal(t, Aggregate{}, agg)
	})

	t.Run("should enforce a consistent dimension", func(t *testing.T) {
		store := NewMemoryStore(0)
		_, err := store.Insert(ctx, Entry{Question: "q", Answer: "a", Embedding: []float32{1, 2}})
		require.NoError(t, err)
		_, err = store.Insert(ctx, Entry{Question: "q", Answer: "a", Embedding: []float32{1}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		_, err = store.Nearest(ctx, []float32{1, 2, 3})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("should not alias caller slices", func(t *testing.T) {
		store := NewMemoryStore(2)
		emb := []float32{1, 0}
		id, _ := store.Insert(ctx, Entry{Question: "q", Answer: "a", Embedding: emb})
		emb[0] = 0

		e, _ := store.Get(id)
		assert.Equal(t, []float32{1, 0}, e.Embedding)
	})

	t.Run("should honor cancelled contexts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewMemoryStore(1).Nearest(cctx, []float32{1})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryStore_DeleteLowestValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	old, _ := store.Insert(ctx, Entry{Question: "old", Answer: "a", Embedding: []float32{1}})
	popular, _ := store.Insert(ctx, Entry{Question: "popular", Answer: "a", Embedding: []float32{1}})
	recent, _ := store.Insert(ctx, Entry{Question: "recent", Answer: "a", Embedding: []float32{1}})
	require.NoError(t, store.IncrementHits(ctx, popular))

	n, err := store.DeleteLowestValue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := store.Get(old)
	assert.False(t, ok, "oldest zero-hit entry goes first")
	_, ok = store.Get(recent)
	assert.True(t, ok)

	n, err = store.DeleteLowestValue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	count, _ := store.Count(ctx)
	assert.Zero(t, count)
}

func TestMemoryStore_ConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1)

	var wg sync.WaitGroup
	ids := make([]int64, 50)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.Insert(ctx, Entry{Question: "same", Answer: "a", Embedding: []float32{1}})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	count, _ := store.Count(ctx)
	assert.Equal(t, int64(50), count)
}
