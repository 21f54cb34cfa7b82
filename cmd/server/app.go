package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/fincopilot/internal/api"
	"github.com/blueberrycongee/fincopilot/internal/cache/semantic"
	"github.com/blueberrycongee/fincopilot/internal/chat"
	"github.com/blueberrycongee/fincopilot/internal/config"
	"github.com/blueberrycongee/fincopilot/internal/database"
	"github.com/blueberrycongee/fincopilot/internal/guest"
	"github.com/blueberrycongee/fincopilot/internal/history"
)

var errNilConfig = errors.New("config is required")

// app is the wired server: the HTTP handler plus everything that must be
// released on shutdown.
type app struct {
	handler http.Handler
	chat    *chat.Service
	redis   *redis.Client
	closers []func() error
}

// redisClient lazily opens the one client shared by the guest counter and
// the rate limiter.
func (a *app) redisClient(cfg config.RedisConfig) *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		a.addCloser(a.redis.Close)
	}
	return a.redis
}

func (a *app) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, mgr *config.Manager, logger *slog.Logger, tracer trace.Tracer) (_ *app, err error) {
	if mgr == nil || mgr.Get() == nil {
		return nil, errNilConfig
	}
	cfg := mgr.Get()
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var db *sqlx.DB
	if cfg.NeedsDatabase() {
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.addCloser(db.Close)
		if stop := startDBPoolMetrics(ctx, db, logger, defaultPoolMetricsInterval); stop != nil {
			a.addCloser(func() error { stop(); return nil })
		}
		logger.Info("database connected", "max_open_conns", cfg.Database.MaxOpenConns)
	}

	store, err := buildHistoryStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	a.addCloser(store.Close)

	counter, err := buildGuestCounter(cfg, store, a)
	if err != nil {
		return nil, err
	}
	limiter := guest.NewLimiter(counter, cfg.Guest.MaxQuestions, logger)

	opts := []chat.Option{
		chat.WithLimiter(limiter),
		chat.WithLogger(logger),
		chat.WithHistoryWindow(cfg.History.Window),
		chat.WithSingleFlight(cfg.Cache.SingleFlight),
		chat.WithSettings(func() chat.Settings {
			current := mgr.Get()
			return chat.Settings{
				CacheEnabled: current.Cache.Enabled,
				Threshold:    current.Cache.SimilarityThreshold,
			}
		}),
	}
	if tracer != nil {
		opts = append(opts, chat.WithTracer(tracer))
	}

	cache, embedder, cacheErr := semantic.NewFromConfig(ctx, cfg.Cache.Semantic(), db, logger)
	switch {
	case cacheErr == nil:
		a.addCloser(cache.Close)
		opts = append(opts, chat.WithCache(cache, embedder))
		logger.Info("semantic cache ready",
			"enabled", cfg.Cache.Enabled,
			"vector_store", cfg.Cache.VectorStore,
			"embedding_model", embedder.Model(),
			"similarity_threshold", cfg.Cache.SimilarityThreshold,
		)
	case cfg.Cache.Enabled:
		return nil, fmt.Errorf("semantic cache: %w", cacheErr)
	default:
		logger.Warn("semantic cache unavailable; enabling it later requires a restart", "error", cacheErr)
	}

	completer := &swappableCompleter{}
	reloader := newCompleterReloader(logger, completer, buildCompleter)
	reloader.Reload(cfg)
	mgr.OnChange(reloader.Reload)

	svc, err := chat.New(completer, store, opts...)
	if err != nil {
		return nil, err
	}
	a.chat = svc

	handler := api.NewHandler(svc, logger, &api.HandlerConfig{KeyConfigured: completer.Configured})
	mux := http.NewServeMux()

	var chatMiddleware func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Backend == "redis" {
			rl, err := newRedisRateLimiter(a.redisClient(cfg.Redis), cfg.RateLimit, logger)
			if err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
			chatMiddleware = rl.Middleware
		} else {
			rl := newClientRateLimiter(cfg.RateLimit)
			rl.startCleanup(ctx, time.Minute)
			chatMiddleware = rl.Middleware
		}
		logger.Info("chat rate limiting enabled",
			"backend", cfg.RateLimit.Backend,
			"requests_per_minute", cfg.RateLimit.RequestsPerMinute,
		)
	}
	handler.RegisterRoutes(mux, chatMiddleware)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	stack, err := buildMiddlewareStack(cfg, tracer)
	if err != nil {
		return nil, err
	}
	a.handler = stack(mux)
	logger.Info("routes registered", "count", len(api.Routes()))
	return a, nil
}

func buildHistoryStore(ctx context.Context, cfg *config.Config, db *sqlx.DB) (history.Store, error) {
	switch cfg.History.Store {
	case "memory":
		return history.NewMemoryStore(), nil
	case "postgres":
		pg, err := history.NewPostgresStore(db)
		if err != nil {
			return nil, err
		}
		if cfg.History.AutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("history schema: %w", err)
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported history store %q", cfg.History.Store)
	}
}

func buildGuestCounter(cfg *config.Config, store history.Store, a *app) (guest.Counter, error) {
	deps := guest.Deps{
		History:     store,
		RedisPrefix: cfg.Redis.Prefix,
		RedisTTL:    cfg.Guest.TTL,
		MemorySize:  cfg.Guest.MemorySize,
	}
	if cfg.Guest.Backend == "redis" {
		deps.Redis = a.redisClient(cfg.Redis)
	}
	return guest.NewCounter(cfg.Guest.Backend, deps)
}
