// Package semantic implements the semantic response cache: given the embedding
// of a question it decides whether a previously stored answer is close enough
// to reuse, and stores new question/answer/embedding triples otherwise.
package semantic

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultSimilarityThreshold is used when no valid threshold is configured.
const DefaultSimilarityThreshold = 0.95

// Config holds configuration for the semantic cache.
type Config struct {
	// SimilarityThreshold is the strict lower bound for a hit (similarity > threshold).
	SimilarityThreshold float64

	// Dimension is the embedding size; the vector schema is fixed to it.
	Dimension int

	// LookupTimeout bounds a single nearest-neighbor query.
	LookupTimeout time.Duration

	// MaxEntries enables capacity eviction when positive. Zero keeps growth unbounded.
	MaxEntries int64

	// VectorStore selects the backend: "postgres", "sqlite" or "memory".
	VectorStore string
	SQLitePath  string
	AutoMigrate bool

	// EmbeddingProvider selects "openai" or "hash".
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingAPIBase    string
	EmbeddingTimeout    time.Duration
	EmbeddingMaxRetries int
	EmbeddingCacheTTL   time.Duration

	// BreakerFailureThreshold consecutive store failures open the breaker; zero disables it.
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
}

// DefaultConfig returns sensible defaults for the semantic cache.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:     DefaultSimilarityThreshold,
		Dimension:               1536,
		LookupTimeout:           2 * time.Second,
		VectorStore:             "postgres",
		AutoMigrate:             true,
		EmbeddingProvider:       "openai",
		EmbeddingModel:          "text-embedding-ada-002",
		EmbeddingTimeout:        30 * time.Second,
		EmbeddingMaxRetries:     2,
		EmbeddingCacheTTL:       10 * time.Minute,
		BreakerFailureThreshold: 5,
		BreakerCooldown:         30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dimension <= 0 {
		return errors.New("dimension must be positive")
	}
	if c.MaxEntries < 0 {
		return errors.New("max_entries must not be negative")
	}

	switch c.VectorStore {
	case "postgres", "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required for sqlite vector store")
		}
	default:
		return fmt.Errorf("unsupported vector_store %q: must be 'postgres', 'sqlite' or 'memory'", c.VectorStore)
	}

	switch c.EmbeddingProvider {
	case "openai":
		if c.EmbeddingModel == "" {
			return errors.New("embedding_model is required")
		}
	case "hash":
	default:
		return fmt.Errorf("unsupported embedding provider %q: must be 'openai' or 'hash'", c.EmbeddingProvider)
	}

	return nil
}

// ValidThreshold reports whether t can be used as a similarity threshold.
func ValidThreshold(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= 1
}
