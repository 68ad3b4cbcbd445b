// Package store provides the durable tier of the insights cache.
//
// The tier is an external key/value service reached through the narrow Store
// contract; Redis is the shipped implementation. Values are opaque serialized
// payloads owned by the caller.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
)

var (
	// ErrNotFound indicates no live record exists for the requested key or id
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord indicates the stored record is corrupted
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is one durable cache entry.
type Record struct {
	// ID addresses the record for Delete
	ID string `json:"id"`

	// OwnerID is the ad account the record belongs to
	OwnerID string `json:"owner_id"`

	// Key is the cache key the record was created for
	Key cache.Key `json:"key"`

	// Value is the serialized payload
	Value []byte `json:"value"`

	// StoredAt is when the record was written
	StoredAt time.Time `json:"stored_at"`

	// TTL is how long the record stays live after StoredAt
	TTL time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant after which the record is stale.
func (r *Record) ExpiresAt() time.Time {
	return r.StoredAt.Add(r.TTL)
}

// IsExpired returns true if the record is stale.
func (r *Record) IsExpired() bool {
	return time.Now().After(r.ExpiresAt())
}

// Remaining returns the time until expiration.
// Returns 0 if already expired.
func (r *Record) Remaining() time.Duration {
	ttl := time.Until(r.ExpiresAt())
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Store is the durable tier contract.
type Store interface {
	// Query returns the live record for key, or ErrNotFound.
	Query(ctx context.Context, key cache.Key) (*Record, error)

	// Create writes value for key under ownerID and returns the record id,
	// which is RecordID(key). Creating the same key again replaces the previous record.
	Create(ctx context.Context, ownerID string, key cache.Key, value []byte, ttl time.Duration) (string, error)

	// Delete removes the record with id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns every live record for ownerID.
	ListByOwner(ctx context.Context, ownerID string) ([]Record, error)

	// Ping checks that the service is reachable.
	Ping(ctx context.Context) error
}
