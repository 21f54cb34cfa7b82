// Package metrics provides Prometheus metrics for the FinCopilot backend:
// HTTP traffic, semantic cache outcomes, upstream latency and the database pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "fincopilot"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 1.5, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0, 30.0, 60.0,
}

// SimilarityBuckets concentrate resolution around typical hit thresholds.
var SimilarityBuckets = []float64{
	0, 0.5, 0.7, 0.8, 0.85, 0.9, 0.92, 0.94, 0.95, 0.96, 0.97, 0.98, 0.99, 1,
}

// =============================================================================
// HTTP Metrics
// =============================================================================

var (
	// HTTPRequestsTotal counts served HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "status_code"},
	)

	// HTTPRequestDuration tracks end-to-end handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"route", "method"},
	)

	// RateLimitRejections counts chat requests rejected by the per-client limiter.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
	)
)

// =============================================================================
// Semantic Cache Metrics
// =============================================================================

var (
	// CacheLookups counts lookups by outcome (hit, miss, unavailable).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Semantic cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// CacheNearestSimilarity records the similarity of the nearest neighbor when one exists.
	CacheNearestSimilarity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "nearest_similarity",
			Help:      "Cosine similarity of the nearest cached question",
			Buckets:   SimilarityBuckets,
		},
	)

	// CacheLookupLatency tracks vector search latency.
	CacheLookupLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookup_latency_seconds",
			Help:      "Vector store nearest-neighbor latency in seconds",
			Buckets:   LatencyBuckets,
		},
	)

	// CacheWrites counts store attempts by status.
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Semantic cache inserts by status",
		},
		[]string{"status"},
	)

	// CacheHitRecordings counts hit-count increments by status.
	CacheHitRecordings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_recordings_total",
			Help:      "Hit count increments by status",
		},
		[]string{"status"},
	)

	// CacheEvictions counts entries removed by the capacity evictor.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Cache entries removed by capacity eviction",
		},
	)

	// CircuitBreakerState tracks circuit breaker status.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

// =============================================================================
// Chat Metrics
// =============================================================================

var (
	// ChatRequests counts answered chat requests by answer source (cache, llm) and status.
	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by answer source and status",
		},
		[]string{"source", "status"},
	)

	// LLMLatency tracks chat completion latency.
	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "LLM chat completion latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"status"},
	)

	// EmbeddingLatency tracks embedding latency.
	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_latency_seconds",
			Help:      "Embedding API latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"status"},
	)

	// GuestLimitRejections counts guest questions refused by the quota.
	GuestLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_limit_rejections_total",
			Help:      "Guest questions rejected after reaching the limit",
		},
	)
)

// =============================================================================
// Database Metrics
// =============================================================================

var (
	// DBConnectionPoolSize tracks the database connection pool.
	DBConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool",
			Help:      "Database connection pool connections by state",
		},
		[]string{"state"},
	)

	// DBWaitCount tracks the cumulative number of waits for a connection.
	DBWaitCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_wait_count",
			Help:      "Total number of connections waited for",
		},
	)

	// DBWaitSeconds tracks the cumulative time spent waiting for a connection.
	DBWaitSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_wait_seconds",
			Help:      "Total time blocked waiting for a connection from the shared cache and history pool",
		},
	)
)
