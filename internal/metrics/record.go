package metrics

import "time"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordCacheLookup records one lookup outcome. similarity is observed only when a neighbor exists.
func RecordCacheLookup(outcome string, hasNeighbor bool, similarity float64, latency time.Duration) {
	CacheLookups.WithLabelValues(outcome).Inc()
	if hasNeighbor {
		CacheNearestSimilarity.Observe(similarity)
	}
	if latency > 0 {
		CacheLookupLatency.Observe(latency.Seconds())
	}
}

// RecordCacheWrite records a cache insert.
func RecordCacheWrite(err error) {
	CacheWrites.WithLabelValues(statusOf(err)).Inc()
}

// RecordHitRecording records a hit-count increment.
func RecordHitRecording(err error) {
	CacheHitRecordings.WithLabelValues(statusOf(err)).Inc()
}

// RecordChatRequest records a finished chat request.
func RecordChatRequest(source string, err error) {
	ChatRequests.WithLabelValues(source, statusOf(err)).Inc()
}

// ObserveLLM records an LLM call.
func ObserveLLM(err error, latency time.Duration) {
	LLMLatency.WithLabelValues(statusOf(err)).Observe(latency.Seconds())
}

// ObserveEmbedding records an embedding call.
func ObserveEmbedding(err error, latency time.Duration) {
	EmbeddingLatency.WithLabelValues(statusOf(err)).Observe(latency.Seconds())
}

// SetCircuitBreakerState publishes a breaker state (0=closed, 1=open, 2=half-open).
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
