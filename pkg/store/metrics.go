package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreHits tracks durable tier hits
	StoreHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adcache_store_hits_total",
			Help: "Total number of durable store hits",
		},
	)

	// StoreMisses tracks durable tier misses
	StoreMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adcache_store_misses_total",
			Help: "Total number of durable store misses",
		},
	)

	// StoreWrittenBytes tracks bytes written to the durable tier
	StoreWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adcache_store_written_bytes_total",
			Help: "Total bytes written to the durable store",
		},
	)

	// StoreErrors tracks durable tier operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcache_store_errors_total",
			Help: "Total number of durable store operation errors",
		},
		[]string{"operation"}, // "query", "create", "delete", "list"
	)
)
