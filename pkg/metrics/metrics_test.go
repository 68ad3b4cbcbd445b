package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
	if Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

func TestHandler_ServesPackageMetrics(t *testing.T) {
	// Touch the memory tier so its metrics carry samples
	cache.MemoryHits.Inc()
	cache.MemorySize.WithLabelValues("metrics-test").Set(42)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"adcache_memory_hits_total", `adcache_memory_size_bytes{cache="metrics-test"} 42`} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %q in metrics output", name)
		}
	}
}
