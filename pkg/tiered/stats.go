package tiered

import (
	"context"
	"sync"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
)

// KeyStats counts lookups of one key.
type KeyStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Statistics is a snapshot of the lookup counters.
type Statistics struct {
	Hits    int64               `json:"hits"`
	Misses  int64               `json:"misses"`
	HitRate float64             `json:"hit_rate"`
	Sources map[Source]int64    `json:"sources"`
	Keys    map[string]KeyStats `json:"keys"`
	Memory  cache.MemoryStats   `json:"memory"`
}

// Health reports the state of the tiers.
type Health struct {
	// Healthy is true while the memory tier has headroom
	Healthy bool               `json:"healthy"`
	Memory  cache.MemoryHealth `json:"memory"`
	// StoreReachable is the result of pinging the durable tier
	StoreReachable bool   `json:"store_reachable"`
	StoreError     string `json:"store_error,omitempty"`
}

type keyCounter struct {
	key cache.Key
	KeyStats
}

// statistics holds per-key counters. It is advisory: it never blocks a lookup on anything but its own mutex.
type statistics struct {
	mu      sync.Mutex
	keys    map[string]*keyCounter
	sources map[Source]int64
}

func newStatistics() *statistics {
	return &statistics{
		keys:    make(map[string]*keyCounter),
		sources: make(map[Source]int64),
	}
}

func (s *statistics) record(key cache.Key, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := key.String()
	counter, ok := s.keys[text]
	if !ok {
		counter = &keyCounter{key: key}
		s.keys[text] = counter
	}
	if source == SourceMiss {
		counter.Misses++
	} else {
		counter.Hits++
	}
	s.sources[source]++
}

// knownKeys returns every key looked up since the last reset.
func (s *statistics) knownKeys() []cache.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]cache.Key, 0, len(s.keys))
	for _, counter := range s.keys {
		keys = append(keys, counter.key)
	}
	return keys
}

func (s *statistics) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		Sources: make(map[Source]int64, len(s.sources)),
		Keys:    make(map[string]KeyStats, len(s.keys)),
	}
	for source, n := range s.sources {
		stats.Sources[source] = n
	}
	for text, counter := range s.keys {
		stats.Keys[text] = counter.KeyStats
		stats.Hits += counter.Hits
		stats.Misses += counter.Misses
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (s *statistics) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = make(map[string]*keyCounter)
	s.sources = make(map[Source]int64)
}

// Statistics returns the lookup counters and the memory tier figures.
func (c *Cache) Statistics() Statistics {
	stats := c.stats.snapshot()
	stats.Memory = c.memory.Statistics()
	return stats
}

// ResetStatistics clears the lookup counters. ClearAll only reaches durable
// records of keys looked up after the reset.
func (c *Cache) ResetStatistics() {
	c.stats.reset()
}

// Health reports memory tier headroom and whether the durable tier answers a ping.
func (c *Cache) Health(ctx context.Context) Health {
	memory := c.memory.Health()
	health := Health{
		Healthy:        memory.Healthy,
		Memory:         memory,
		StoreReachable: true,
	}
	if err := c.store.Ping(ctx); err != nil {
		health.StoreReachable = false
		health.StoreError = err.Error()
	}
	return health
}
