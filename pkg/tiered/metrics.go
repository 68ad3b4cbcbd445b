package tiered

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the tiered lookup.
var (
	// LookupsTotal counts Get calls by the source that answered
	LookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcache_lookups_total",
		Help: "Total tiered lookups by source (L1, L2, L3, miss)",
	}, []string{"source"})

	// LookupDuration tracks Get latency by source
	LookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adcache_lookup_duration_seconds",
		Help:    "Tiered lookup duration in seconds by source",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	}, []string{"source"})

	// Backfills counts memory tier writes caused by durable tier hits
	Backfills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcache_backfills_total",
		Help: "Total memory tier back-fills from durable tier hits",
	})

	// StoreFailures counts durable tier failures the lookup worked around
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcache_tier_store_failures_total",
		Help: "Durable tier failures swallowed by the tiered cache by operation",
	}, []string{"operation"})

	// FetchFailures counts remote fetch failures by error kind
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcache_fetch_failures_total",
		Help: "Remote fetch failures turned into misses by error kind",
	}, []string{"kind"})

	// IncompleteResults counts remote results cached with missing trailing pages
	IncompleteResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcache_incomplete_results_total",
		Help: "Remote results served and cached although pagination was cut short",
	})
)
