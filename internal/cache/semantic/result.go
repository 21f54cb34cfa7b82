package semantic

import (
	"errors"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/embedding"
	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/vector"
)

var (
	// ErrEmbeddingUnavailable marks failures to embed a question.
	ErrEmbeddingUnavailable = embedding.ErrUnavailable

	// ErrStoreUnavailable marks vector store failures, timeouts and an open breaker.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrNotFound is returned by the store when an entry id does not exist.
	ErrNotFound = vector.ErrNotFound

	// ErrInvalidEntry rejects empty questions or answers.
	ErrInvalidEntry = errors.New("question and answer must not be empty")
)

// Outcome classifies a lookup.
type Outcome int

const (
	// Miss means no entry was similar enough, or the store is empty.
	Miss Outcome = iota
	// Hit means the nearest entry cleared the threshold.
	Hit
	// Unavailable means the lookup could not be answered. Callers treat it as Miss.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// LookupResult is the outcome of a single lookup.
type LookupResult struct {
	Outcome Outcome

	// Entry is set on Hit.
	Entry *vector.Entry

	// Similarity of the nearest entry; meaningful when HasNeighbor is true.
	Similarity  float64
	HasNeighbor bool

	// Err is set on Unavailable.
	Err error
}

// IsHit reports whether the lookup produced a reusable answer.
func (r LookupResult) IsHit() bool {
	return r.Outcome == Hit && r.Entry != nil
}

// Counters are in-process lookup and store totals since start.
type Counters struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Unavailable int64   `json:"unavailable"`
	Stores      int64   `json:"stores"`
	StoreErrors int64   `json:"store_errors"`
	HitRate     float64 `json:"hit_rate"`
}

// Stats is the persistent aggregate over all cached entries.
type Stats struct {
	TotalCached     int64   `json:"totalCached"`
	TotalHits       int64   `json:"totalHits"`
	AvgHitsPerEntry float64 `json:"avgHitsPerEntry"`
}
