package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/embedding"
	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/vector"
	"github.com/blueberrycongee/fincopilot/internal/metrics"
	"github.com/blueberrycongee/fincopilot/internal/resilience"
)

// NewFromConfig builds the embedder and the cache engine described by cfg.
// db is required for the postgres vector store and ignored otherwise.
func NewFromConfig(ctx context.Context, cfg Config, db *sqlx.DB, logger *slog.Logger) (*Cache, embedding.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := createEmbedder(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create embedder: %w", err)
	}

	store, err := createVectorStore(ctx, cfg, db)
	if err != nil {
		return nil, nil, fmt.Errorf("create vector store: %w", err)
	}

	opts := []Option{WithLogger(logger)}
	if cfg.MaxEntries > 0 {
		opts = append(opts, WithEvictor(CapacityEvictor{MaxEntries: cfg.MaxEntries}))
	}
	if cfg.BreakerFailureThreshold > 0 {
		breakerCfg := resilience.DefaultCircuitBreakerConfig()
		breakerCfg.FailureThreshold = cfg.BreakerFailureThreshold
		if cfg.BreakerCooldown > 0 {
			breakerCfg.Cooldown = cfg.BreakerCooldown
		}
		breaker := resilience.NewCircuitBreaker("vector-store", breakerCfg)
		breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.SetCircuitBreakerState(name, int(to))
		})
		opts = append(opts, WithBreaker(breaker))
	}

	cache, err := New(store, cfg, opts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return cache, embedder, nil
}

func createEmbedder(cfg Config) (embedding.Embedder, error) {
	var base embedding.Embedder
	switch cfg.EmbeddingProvider {
	case "openai", "":
		retry := resilience.DefaultRetryConfig()
		retry.MaxRetries = cfg.EmbeddingMaxRetries
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:    cfg.EmbeddingAPIKey,
			APIBase:   cfg.EmbeddingAPIBase,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.Dimension,
			Timeout:   cfg.EmbeddingTimeout,
			Retry:     retry,
		})
		if err != nil {
			return nil, err
		}
		base = e
	case "hash":
		base = embedding.NewHashEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbeddingProvider)
	}

	if cfg.EmbeddingCacheTTL > 0 {
		return embedding.NewCachedEmbedder(base, cfg.EmbeddingCacheTTL), nil
	}
	return base, nil
}

func createVectorStore(ctx context.Context, cfg Config, db *sqlx.DB) (vector.Store, error) {
	switch cfg.VectorStore {
	case "postgres", "":
		store, err := vector.NewPostgresStore(db, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil

	case "sqlite":
		return vector.NewSQLiteStore(cfg.SQLitePath, cfg.Dimension)

	case "memory":
		return vector.NewMemoryStore(cfg.Dimension), nil

	default:
		return nil, fmt.Errorf("unsupported vector store: %s", cfg.VectorStore)
	}
}
