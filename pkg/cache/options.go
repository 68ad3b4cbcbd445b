package cache

import (
	"fmt"
	"time"
)

// Options tunes a single cache operation. It never persists beyond the call.
type Options struct {
	// TTL overrides the tier defaults for this call when positive.
	TTL time.Duration

	// ForceRefresh skips the memory and durable tiers and goes straight to the API.
	ForceRefresh bool

	// SkipL1 bypasses the memory tier for reads and writes.
	SkipL1 bool

	// SkipL2 bypasses the durable tier for reads and writes.
	SkipL2 bool
}

// TTLOr returns the per-call TTL, or fallback when none is set.
func (o Options) TTLOr(fallback time.Duration) time.Duration {
	if o.TTL > 0 {
		return o.TTL
	}
	return fallback
}

// ConfigError reports an invalid constructor argument. It is fatal: callers are
// expected to abort startup rather than fall back to defaults.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cache configuration: %s %s", e.Field, e.Reason)
}
