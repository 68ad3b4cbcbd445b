// Package metrics exposes the Prometheus registry shared by the cache packages.
// Metrics are defined next to the code that updates them (cache, store,
// insights, ratelimit, tiered) and registered through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Catalogue
//
// Memory tier (pkg/cache):
//   - adcache_memory_hits_total, adcache_memory_misses_total (Counter)
//   - adcache_memory_evictions_total{reason="lru|expired"} (Counter)
//   - adcache_memory_size_bytes{cache} (Gauge): per memory tier, by MemoryConfig.Name
//   - adcache_memory_rejected_total (Counter): values larger than the ceiling
//
// Durable tier (pkg/store):
//   - adcache_store_hits_total, adcache_store_misses_total (Counter)
//   - adcache_store_written_bytes_total (Counter)
//   - adcache_store_errors_total{operation} (Counter)
//
// Insights API (pkg/insights):
//   - adcache_insights_requests_total{status} (Counter)
//   - adcache_insights_request_duration_seconds (Histogram)
//   - adcache_insights_errors_total{kind} (Counter)
//   - adcache_insights_truncated_total (Counter): fetches stopped at the page bound
//   - adcache_insights_retries_total{kind}, adcache_insights_retry_exhausted_total{kind} (Counter)
//   - adcache_insights_retry_backoff_seconds{kind} (Histogram)
//
// API usage (pkg/ratelimit):
//   - adcache_api_usage_percent (Gauge)
//   - adcache_rate_limit_blocks_total, adcache_rate_limit_throttles_total (Counter)
//
// Tiered lookup (pkg/tiered):
//   - adcache_lookups_total{source} (Counter)
//   - adcache_lookup_duration_seconds{source} (Histogram)
//   - adcache_backfills_total (Counter)
//   - adcache_tier_store_failures_total{operation} (Counter)
//   - adcache_fetch_failures_total{kind} (Counter)
//   - adcache_incomplete_results_total (Counter)
//
// Example Prometheus Queries:
//
//   # Share of lookups answered without the API
//   sum(rate(adcache_lookups_total{source=~"L1|L2"}[5m])) / sum(rate(adcache_lookups_total[5m]))
//
//   # Memory tier fill
//   adcache_memory_size_bytes
//
//   # Auth failures (token needs replacing)
//   rate(adcache_fetch_failures_total{kind="AuthError"}[5m]) > 0
//
//   # P95 API page latency
//   histogram_quantile(0.95, rate(adcache_insights_request_duration_seconds_bucket[5m]))
