// Package cache provides the in-process tier of the insights cache.
//
// It owns the pieces every tier agrees on:
//
// - Key: a structured {owner, date range} key with a stable text form
// - Options: per-call TTL override and tier skipping
// - Memory: the size-bounded L1 store with LRU eviction and per-entry TTL
// - ConfigError: fatal constructor validation errors
//
// # Basic Usage
//
//	mem, err := cache.NewMemory(cache.MemoryConfig{
//		DefaultTTL:   5 * time.Minute,
//		MaxSizeBytes: 50 << 20,
//	})
//	if err != nil {
//		log.Fatal().Err(err).Msg("Invalid memory cache configuration")
//	}
//
//	key := cache.NewKey("1234567890", "last_30d")
//	mem.Set(key.String(), payload, 0)
//
//	if value, ttl, ok := mem.Get(key.String()); ok {
//		// Hit - value is a private copy, ttl is the remaining lifetime
//	}
//
// # Keys
//
// The text form of a key is "{ownerId}_{descriptor}". Descriptors may contain the
// separator themselves (last_30d, 2024-01-01_2024-01-31), so ParseKey splits only on
// the first separator. Owner IDs must not contain it; Key.Validate rejects them.
//
// # Expiry and Eviction
//
// Expiry is lazy: Get evicts and misses on a stale entry. Cleanup sweeps stale entries
// eagerly and is meant to run periodically. Writes evict least recently used entries
// until the new value fits; a value larger than the whole ceiling is not stored.
//
// # Metrics
//
//   - adcache_memory_hits_total - Memory hits
//   - adcache_memory_misses_total - Memory misses
//   - adcache_memory_evictions_total{reason} - Evictions (lru, expired)
//   - adcache_memory_size_bytes{cache} - Accounted size per tier
//   - adcache_memory_rejected_total - Oversize writes
package cache
