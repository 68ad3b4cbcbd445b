package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MemoryHits tracks memory tier hits
	MemoryHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adcache_memory_hits_total",
			Help: "Total number of memory cache hits",
		},
	)

	// MemoryMisses tracks memory tier misses, including lazily expired entries
	MemoryMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adcache_memory_misses_total",
			Help: "Total number of memory cache misses",
		},
	)

	// MemoryEvictions tracks removed entries by reason
	MemoryEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcache_memory_evictions_total",
			Help: "Total number of memory cache evictions",
		},
		[]string{"reason"}, // "lru", "expired"
	)

	// MemorySize tracks the accounted size in bytes of each memory tier, by MemoryConfig.Name
	MemorySize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adcache_memory_size_bytes",
			Help: "Current size of the memory cache in bytes",
		},
		[]string{"cache"},
	)

	// MemoryRejected tracks writes dropped because the value exceeds the cache ceiling
	MemoryRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adcache_memory_rejected_total",
			Help: "Total number of values too large for the memory cache",
		},
	)
)
