// Package vector provides the storage backends for the semantic cache:
// a single collection of question/answer pairs searched by cosine similarity.
package vector

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an entry id does not exist.
	ErrNotFound = errors.New("cache entry not found")

	// ErrDimensionMismatch is returned when an embedding has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Store defines the interface for vector storage backends.
type Store interface {
	// Nearest returns the single most similar entry, or nil when the store is empty.
	// It never changes hit counts.
	Nearest(ctx context.Context, embedding []float32) (*Match, error)

	// Insert persists a new entry with a zero hit count and returns its id.
	// No duplicate check is performed.
	Insert(ctx context.Context, entry Entry) (int64, error)

	// IncrementHits adds exactly one to the entry's hit count.
	// Returns ErrNotFound when the id does not exist.
	IncrementHits(ctx context.Context, id int64) error

	// Aggregate returns totals over the whole collection.
	Aggregate(ctx context.Context) (Aggregate, error)

	// Ping checks if the vector store is healthy.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Pruner is implemented by stores that support capacity-based eviction.
type Pruner interface {
	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// DeleteLowestValue removes up to n entries with the fewest hits,
	// oldest first, and returns how many were removed.
	DeleteLowestValue(ctx context.Context, n int64) (int64, error)
}

// Entry is a cached question/answer pair.
type Entry struct {
	ID        int64
	Question  string
	Answer    string
	Embedding []float32
	CreatedAt time.Time
	HitCount  int64
}

// Match is the nearest entry to a query embedding.
type Match struct {
	Entry Entry

	// Similarity is 1 - cosine distance: 1 = identical, 0 = orthogonal, -1 = opposite.
	Similarity float64
}

// Aggregate summarizes the collection.
type Aggregate struct {
	TotalCached     int64
	TotalHits       int64
	AvgHitsPerEntry float64
}
