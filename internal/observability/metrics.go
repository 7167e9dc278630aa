// Package observability exposes Prometheus metrics for breakers, cache backends and the
// embedding pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "embedguard_circuit_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"circuit"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embedguard_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"circuit", "from", "to"})

	cacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embedguard_cache_operations_total",
		Help: "Cache backend operations by outcome",
	}, []string{"backend", "operation", "result"})

	embeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embedguard_embedding_requests_total",
		Help: "Embedding pipeline results by status",
	}, []string{"status", "cache_hit"})

	providerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embedguard_provider_attempts_total",
		Help: "Embedding provider call attempts by outcome",
	}, []string{"provider", "outcome"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "embedguard_provider_latency_seconds",
		Help:    "Embedding provider call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	backgroundTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embedguard_background_tasks_total",
		Help: "Fire-and-forget task outcomes",
	}, []string{"task", "outcome"})
)

// BreakerTransition records a state change of a named circuit.
func BreakerTransition(circuit, from, to string, state int) {
	breakerState.WithLabelValues(circuit).Set(float64(state))
	breakerTransitions.WithLabelValues(circuit, from, to).Inc()
}

// CacheOperation records one backend operation, e.g. ("redis", "get", "hit").
func CacheOperation(backend, operation, result string) {
	cacheOperations.WithLabelValues(backend, operation, result).Inc()
}

// EmbeddingRequest records the final status of a pipeline call.
func EmbeddingRequest(status string, cacheHit bool) {
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	embeddingRequests.WithLabelValues(status, hit).Inc()
}

// ProviderAttempt records one provider call.
func ProviderAttempt(provider, outcome string, seconds float64) {
	providerAttempts.WithLabelValues(provider, outcome).Inc()
	providerLatency.WithLabelValues(provider).Observe(seconds)
}

// BackgroundTask records the outcome of a fire-and-forget task.
func BackgroundTask(task, outcome string) {
	backgroundTasks.WithLabelValues(task, outcome).Inc()
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
