package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBreakerTransition(t *testing.T) {
	BreakerTransition("test:circuit", "closed", "open", 1)

	if got := testutil.ToFloat64(breakerState.WithLabelValues("test:circuit")); got != 1 {
		t.Errorf("state gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(breakerTransitions.WithLabelValues("test:circuit", "closed", "open")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestEmbeddingRequestLabels(t *testing.T) {
	before := testutil.ToFloat64(embeddingRequests.WithLabelValues("ok", "true"))
	EmbeddingRequest("ok", true)
	if got := testutil.ToFloat64(embeddingRequests.WithLabelValues("ok", "true")); got != before+1 {
		t.Errorf("ok/true = %v, want %v", got, before+1)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	CacheOperation("memory", "get", "hit")
	ProviderAttempt("test", "ok", 0.01)
	BackgroundTask("persist_vector", "ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{
		"embedguard_cache_operations_total",
		"embedguard_provider_attempts_total",
		"embedguard_provider_latency_seconds",
		"embedguard_background_tasks_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
