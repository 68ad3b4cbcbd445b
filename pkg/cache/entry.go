package cache

import (
	"time"
)

// CacheEntry represents a value held by the memory tier.
// The value is kept in its serialized form so no caller ever shares it by reference.
type CacheEntry struct {
	// Key is the text form of the cache key
	Key string

	// Value is the serialized payload
	Value []byte

	// StoredAt is when the entry was written
	StoredAt time.Time

	// TTL is how long the entry stays live after StoredAt
	TTL time.Duration

	// LastAccessed is updated on every hit and drives LRU eviction
	LastAccessed time.Time

	// SizeBytes is the accounted size of the entry
	SizeBytes int64
}

// ExpiresAt returns the instant after which the entry is stale.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// IsExpired returns true if the entry is stale at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Remaining returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) Remaining(now time.Time) time.Duration {
	ttl := e.ExpiresAt().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
