package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HealthyUsageRatio is the memory usage ratio below which the memory tier reports healthy.
const HealthyUsageRatio = 0.9

// DefaultMemoryName labels the size gauge of a memory tier created without a Name.
const DefaultMemoryName = "default"

// MemoryConfig holds the memory tier configuration.
type MemoryConfig struct {
	// DefaultTTL applies to writes that don't carry their own TTL. Must be > 0.
	DefaultTTL time.Duration

	// MaxSizeBytes is the hard ceiling on accounted value bytes. Must be > 0.
	MaxSizeBytes int64

	// Name labels this tier's size gauge. Tiers living in one process need
	// distinct names (default: DefaultMemoryName).
	Name string

	// Clock is used for TTL and LRU timestamps (default: real clock)
	Clock clockwork.Clock

	// Logger for debug output (default: global logger with component "memory-cache")
	Logger *zerolog.Logger
}

// DefaultMemoryConfig returns a configuration suitable for a single dashboard session.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		DefaultTTL:   5 * time.Minute,
		MaxSizeBytes: 50 << 20,
	}
}

// MemoryStats is a snapshot of the memory tier counters.
type MemoryStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	Items        int     `json:"items"`
	SizeBytes    int64   `json:"size_bytes"`
	MaxSizeBytes int64   `json:"max_size_bytes"`
	MemoryUsage  float64 `json:"memory_usage"`
}

// MemoryHealth summarises whether the memory tier has headroom.
type MemoryHealth struct {
	Healthy     bool    `json:"healthy"`
	MemoryUsage float64 `json:"memory_usage"`
	Items       int     `json:"items"`
	HitRate     float64 `json:"hit_rate"`
}

// Memory is a size-bounded in-process cache with per-entry TTL and LRU eviction.
// All state is guarded by a single mutex.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*list.Element // value: *CacheEntry
	// order holds entries from most (front) to least (back) recently used.
	order *list.List
	size  int64

	hits   int64
	misses int64

	defaultTTL time.Duration
	maxSize    int64
	clock      clockwork.Clock
	sizeGauge  prometheus.Gauge
	logger     zerolog.Logger
}

// NewMemory creates a memory tier. Non-positive TTL or size is a configuration error.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if cfg.DefaultTTL <= 0 {
		return nil, &ConfigError{Field: "default_ttl", Reason: "must be > 0"}
	}
	if cfg.MaxSizeBytes <= 0 {
		return nil, &ConfigError{Field: "max_size_bytes", Reason: "must be > 0"}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	name := cfg.Name
	if name == "" {
		name = DefaultMemoryName
	}

	logger := log.With().Str("component", "memory-cache").Str("cache", name).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		defaultTTL: cfg.DefaultTTL,
		maxSize:    cfg.MaxSizeBytes,
		clock:      clock,
		sizeGauge:  MemorySize.WithLabelValues(name),
		logger:     logger,
	}, nil
}

// Get returns a copy of the value stored under key and its remaining TTL.
// An expired entry is removed and reported as a miss.
func (m *Memory) Get(key string) ([]byte, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		m.misses++
		MemoryMisses.Inc()
		return nil, 0, false
	}

	entry := elem.Value.(*CacheEntry)
	now := m.clock.Now()
	if entry.IsExpired(now) {
		m.removeElement(elem)
		MemoryEvictions.WithLabelValues("expired").Inc()
		m.misses++
		MemoryMisses.Inc()
		m.logger.Debug().Str("key", key).Msg("Memory cache entry expired")
		return nil, 0, false
	}

	entry.LastAccessed = now
	m.order.MoveToFront(elem)
	m.hits++
	MemoryHits.Inc()

	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	return value, entry.Remaining(now), true
}

// Set stores a copy of value under key. A non-positive ttl uses the default TTL.
// Values larger than the cache ceiling are dropped and Set returns false.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	newSize := int64(len(value))
	if newSize > m.maxSize {
		MemoryRejected.Inc()
		m.logger.Debug().
			Str("key", key).
			Int64("size_bytes", newSize).
			Int64("max_size_bytes", m.maxSize).
			Msg("Value exceeds memory cache ceiling, not cached")
		return false
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.removeElement(elem)
	}

	for m.size+newSize > m.maxSize {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*CacheEntry)
		m.removeElement(oldest)
		MemoryEvictions.WithLabelValues("lru").Inc()
		m.logger.Debug().
			Str("key", evicted.Key).
			Int64("size_bytes", evicted.SizeBytes).
			Msg("Evicted least recently used entry")
	}

	now := m.clock.Now()
	entry := &CacheEntry{
		Key:          key,
		Value:        stored,
		StoredAt:     now,
		TTL:          ttl,
		LastAccessed: now,
		SizeBytes:    newSize,
	}
	m.entries[key] = m.order.PushFront(entry)
	m.size += newSize
	m.sizeGauge.Set(float64(m.size))

	return true
}

// Delete removes key. Removing an absent key is a no-op.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.removeElement(elem)
	}
}

// Purge removes every entry.
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*list.Element)
	m.order.Init()
	m.size = 0
	m.sizeGauge.Set(0)
}

// Cleanup removes every expired entry and returns how many were removed.
// Lazy expiry in Get already guarantees correctness; Cleanup only reclaims memory.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for elem := m.order.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*CacheEntry).IsExpired(now) {
			m.removeElement(elem)
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		MemoryEvictions.WithLabelValues("expired").Add(float64(removed))
		m.logger.Debug().Int("removed", removed).Msg("Memory cache cleanup")
	}
	return removed
}

// Keys returns the keys currently held, most recently used first. Expired
// entries not yet swept are included.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*CacheEntry).Key)
	}
	return keys
}

// Len returns the number of entries held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Size returns the accounted size in bytes.
func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// MaxSize returns the configured ceiling in bytes.
func (m *Memory) MaxSize() int64 {
	return m.maxSize
}

// DefaultTTL returns the TTL applied to writes without their own.
func (m *Memory) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// Statistics returns a snapshot of the memory tier counters.
func (m *Memory) Statistics() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MemoryStats{
		Hits:         m.hits,
		Misses:       m.misses,
		Items:        len(m.entries),
		SizeBytes:    m.size,
		MaxSizeBytes: m.maxSize,
		MemoryUsage:  float64(m.size) / float64(m.maxSize),
	}
	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}
	return stats
}

// Health reports healthy while usage stays below HealthyUsageRatio of the ceiling.
func (m *Memory) Health() MemoryHealth {
	stats := m.Statistics()
	return MemoryHealth{
		Healthy:     stats.MemoryUsage < HealthyUsageRatio,
		MemoryUsage: stats.MemoryUsage,
		Items:       stats.Items,
		HitRate:     stats.HitRate,
	}
}

// removeElement unlinks elem and adjusts the size total. Caller holds m.mu.
func (m *Memory) removeElement(elem *list.Element) {
	entry := m.order.Remove(elem).(*CacheEntry)
	delete(m.entries, entry.Key)
	m.size -= entry.SizeBytes
	m.sizeGauge.Set(float64(m.size))
}
