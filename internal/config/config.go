// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic"
	"github.com/blueberrycongee/fincopilot/internal/database"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  database.Config `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	LLM       LLMConfig       `yaml:"llm"`
	History   HistoryConfig   `yaml:"history"`
	Guest     GuestConfig     `yaml:"guest"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`

	thresholdDefaulted bool
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig contains semantic cache settings. Enabled and SimilarityThreshold
// are read on every request and may change on reload.
type CacheConfig struct {
	Enabled             bool            `yaml:"enabled"`
	SimilarityThreshold float64         `yaml:"similarity_threshold"`
	Dimension           int             `yaml:"dimension"`
	LookupTimeout       time.Duration   `yaml:"lookup_timeout"`
	MaxEntries          int64           `yaml:"max_entries"`
	SingleFlight        bool            `yaml:"single_flight"`
	VectorStore         string          `yaml:"vector_store"` // postgres, sqlite, memory
	SQLitePath          string          `yaml:"sqlite_path"`
	AutoMigrate         bool            `yaml:"auto_migrate"`
	Embedding           EmbeddingConfig `yaml:"embedding"`
	Breaker             BreakerConfig   `yaml:"breaker"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // openai, hash
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	APIBase    string        `yaml:"api_base"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// BreakerConfig guards the vector store.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// LLMConfig contains chat model settings.
type LLMConfig struct {
	APIKey       string        `yaml:"api_key"`
	APIBase      string        `yaml:"api_base"`
	Model        string        `yaml:"model"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// HistoryConfig contains chat history settings.
type HistoryConfig struct {
	Store       string `yaml:"store"` // postgres, memory
	Window      int    `yaml:"window"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// GuestConfig contains the guest quota settings.
type GuestConfig struct {
	MaxQuestions int           `yaml:"max_questions"`
	Backend      string        `yaml:"backend"` // history, redis, memory
	TTL          time.Duration `yaml:"ttl"`
	MemorySize   int           `yaml:"memory_size"`
}

// RedisConfig contains Redis connection settings shared by the guest counter
// and the rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RateLimitConfig defines per-client rate limiting of /api/chat.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Backend           string `yaml:"backend"` // memory, redis
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	BurstSize         int    `yaml:"burst_size"`
	// KeyPrefix namespaces the redis window keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// CORSConfig lists allowed browser origins. "*" allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Redact bool   `yaml:"redact"` // mask keys, emails and card numbers
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	sem := semantic.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: database.DefaultConfig(),
		Cache: CacheConfig{
			Enabled:             false,
			SimilarityThreshold: sem.SimilarityThreshold,
			Dimension:           sem.Dimension,
			LookupTimeout:       sem.LookupTimeout,
			VectorStore:         sem.VectorStore,
			AutoMigrate:         sem.AutoMigrate,
			Embedding: EmbeddingConfig{
				Provider:   sem.EmbeddingProvider,
				Model:      sem.EmbeddingModel,
				Timeout:    sem.EmbeddingTimeout,
				MaxRetries: sem.EmbeddingMaxRetries,
				CacheTTL:   sem.EmbeddingCacheTTL,
			},
			Breaker: BreakerConfig{
				FailureThreshold: sem.BreakerFailureThreshold,
				Cooldown:         sem.BreakerCooldown,
			},
		},
		LLM: LLMConfig{
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			Timeout:     60 * time.Second,
			MaxRetries:  2,
		},
		History: HistoryConfig{
			Store:       "postgres",
			Window:      15,
			AutoMigrate: true,
		},
		Guest: GuestConfig{
			MaxQuestions: 5,
			Backend:      "history",
			TTL:          30 * 24 * time.Hour,
			MemorySize:   10000,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "fincopilot:guest:",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			Backend:           "memory",
			RequestsPerMinute: 60,
			BurstSize:         10,
			KeyPrefix:         "fincopilot:ratelimit:",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Redact: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "fincopilot",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if path is set),
// then the legacy environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := parse(data, cfg); err != nil {
			return nil, err
		}
	}

	ApplyEnv(cfg, os.LookupEnv)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	return Load(path)
}

func parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv applies the environment variables the service has always honored.
// They take precedence over the file.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("CACHE_ENABLED"); ok {
		cfg.Cache.Enabled = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("CACHE_SIMILARITY_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Cache.SimilarityThreshold = f
		} else {
			cfg.Cache.SimilarityThreshold = 0
		}
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		cfg.LLM.APIKey = v
		if cfg.Cache.Embedding.APIKey == "" {
			cfg.Cache.Embedding.APIKey = v
		}
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		cfg.Database.URL = v
	}
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Server.Port = port
		}
	}
}

// normalize replaces an unusable similarity threshold with the default.
func (c *Config) normalize() {
	if !semantic.ValidThreshold(c.Cache.SimilarityThreshold) || c.Cache.SimilarityThreshold == 0 {
		c.Cache.SimilarityThreshold = semantic.DefaultSimilarityThreshold
		c.thresholdDefaulted = true
	}
	if c.Cache.Embedding.APIKey == "" && c.Cache.Embedding.Provider == "openai" {
		c.Cache.Embedding.APIKey = c.LLM.APIKey
	}
}

// Semantic converts the cache section to the engine configuration.
func (c CacheConfig) Semantic() semantic.Config {
	return semantic.Config{
		SimilarityThreshold:     c.SimilarityThreshold,
		Dimension:               c.Dimension,
		LookupTimeout:           c.LookupTimeout,
		MaxEntries:              c.MaxEntries,
		VectorStore:             c.VectorStore,
		SQLitePath:              c.SQLitePath,
		AutoMigrate:             c.AutoMigrate,
		EmbeddingProvider:       c.Embedding.Provider,
		EmbeddingModel:          c.Embedding.Model,
		EmbeddingAPIKey:         c.Embedding.APIKey,
		EmbeddingAPIBase:        c.Embedding.APIBase,
		EmbeddingTimeout:        c.Embedding.Timeout,
		EmbeddingMaxRetries:     c.Embedding.MaxRetries,
		EmbeddingCacheTTL:       c.Embedding.CacheTTL,
		BreakerFailureThreshold: c.Breaker.FailureThreshold,
		BreakerCooldown:         c.Breaker.Cooldown,
	}
}

// NeedsDatabase reports whether any configured component uses PostgreSQL.
func (c *Config) NeedsDatabase() bool {
	return c.History.Store == "postgres" || c.Cache.VectorStore == "postgres"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	sem := c.Cache.Semantic()
	if err := sem.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.Cache.LookupTimeout < 0 {
		return errors.New("cache.lookup_timeout cannot be negative")
	}

	switch c.History.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported history.store %q: must be 'postgres' or 'memory'", c.History.Store)
	}
	if c.History.Window < 0 {
		return errors.New("history.window cannot be negative")
	}

	switch c.Guest.Backend {
	case "history", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis guest backend")
		}
	default:
		return fmt.Errorf("unsupported guest.backend %q: must be 'history', 'redis' or 'memory'", c.Guest.Backend)
	}
	if c.Guest.MaxQuestions < 0 {
		return errors.New("guest.max_questions cannot be negative")
	}

	if c.NeedsDatabase() && !c.Database.Configured() {
		return errors.New("database.url (or DATABASE_URL) is required for postgres stores")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("rate_limit.requests_per_minute must be positive when enabled")
		}
		switch c.RateLimit.Backend {
		case "", "memory":
		case "redis":
			if c.Redis.Addr == "" {
				return errors.New("redis.addr is required for the redis rate_limit backend")
			}
		default:
			return fmt.Errorf("unsupported rate_limit.backend %q: must be 'memory' or 'redis'", c.RateLimit.Backend)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}
