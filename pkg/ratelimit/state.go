// Package ratelimit implements insights API usage tracking and request gating.
// It monitors the X-App-Usage, X-Ad-Account-Usage and X-Business-Use-Case-Usage
// headers so that requests stop before the API starts rejecting them.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyUsagePercent   = "adcache:rate_limit:usage_pct"
	RedisKeyResetTimestamp = "adcache:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "adcache:rate_limit:last_update"
)

// Thresholds for rate limit decisions, in percent of the allowed usage.
const (
	// UsageThresholdCritical blocks all requests when usage reaches this value.
	UsageThresholdCritical = 95.0

	// UsageThresholdWarning applies throttling when usage reaches this value.
	UsageThresholdWarning = 75.0

	// UsageThresholdHealthy indicates normal operation below this value.
	UsageThresholdHealthy = 50.0
)

// RateLimitState represents the current API usage state.
// This state is shared across all client instances via Redis.
type RateLimitState struct {
	// UsagePercent is the highest usage reported by any usage header (0-100).
	UsagePercent float64 `json:"usage_pct"`

	// ResetAt is when the API expects access to be regained.
	// Zero when the API did not announce a wait.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is the timestamp when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when UsagePercent < UsageThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
// An announced regain-access time in the future also blocks.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.UsagePercent >= UsageThresholdCritical || s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be throttled due to warning threshold.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.UsagePercent >= UsageThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until access is regained.
// Returns 0 if the reset time has already passed or none was announced.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	if s.ResetAt.IsZero() {
		return 0
	}
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current UsagePercent.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.UsagePercent < UsageThresholdHealthy
}
