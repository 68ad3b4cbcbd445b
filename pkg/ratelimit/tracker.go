package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	apiUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "adcache_api_usage_percent",
		Help: "Highest API usage percentage reported by the insights API",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcache_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical API usage",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcache_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning API usage",
	})
)

// DefaultThrottleDelay is how long a request waits in the warning state.
const DefaultThrottleDelay = 1 * time.Second

// DefaultBlockBackoff is suggested when usage is critical but no reset time is known.
const DefaultBlockBackoff = 60 * time.Second

// Tracker monitors API usage and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the warning-state delay (for testing).
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	values, err := t.redis.MGet(ctx, RedisKeyUsagePercent, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	usageStr, _ := values[0].(string)
	resetStr, _ := values[1].(string)
	lastUpdateStr, _ := values[2].(string)

	// If no state exists in Redis, return default healthy state
	if usageStr == "" {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return &RateLimitState{
			UsagePercent: 0,
			LastUpdate:   time.Now(),
			IsHealthy:    true,
		}, nil
	}

	usage, err := strconv.ParseFloat(usageStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse usage percent: %w", err)
	}

	state := &RateLimitState{UsagePercent: usage}

	if resetStr != "" {
		resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reset timestamp: %w", err)
		}
		if resetUnix > 0 {
			state.ResetAt = time.Unix(resetUnix, 0)
		}
	}

	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders parses the API usage headers and updates Redis state.
// Responses without usage headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	usage, ok, err := ParseUsageHeaders(headers)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	now := time.Now()
	state := &RateLimitState{
		UsagePercent: usage.Percent,
		LastUpdate:   now,
	}
	var resetUnix int64
	if usage.RegainAccessIn > 0 {
		state.ResetAt = now.Add(usage.RegainAccessIn)
		resetUnix = state.ResetAt.Unix()
	}
	state.UpdateHealth()

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Store in Redis atomically
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyUsagePercent, strconv.FormatFloat(usage.Percent, 'f', -1, 64), 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, resetUnix, 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	apiUsagePercent.Set(usage.Percent)

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Float64("usage_pct", usage.Percent).
			Dur("regain_access_in", usage.RegainAccessIn).
			Msg("API usage CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Float64("usage_pct", usage.Percent).
			Msg("API usage WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Float64("usage_pct", usage.Percent).
			Bool("is_healthy", state.IsHealthy).
			Msg("API usage state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current usage.
// When blocked it returns false and the suggested wait before retrying.
// In the warning state it waits the throttle delay and then allows the request.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("get rate limit state: %w", err)
	}

	// Critical: Block all requests
	if state.NeedsCriticalBlock() {
		wait := state.TimeUntilReset()
		if wait <= 0 {
			wait = DefaultBlockBackoff
		}

		t.logger.Error().
			Float64("usage_pct", state.UsagePercent).
			Dur("wait_duration", wait).
			Msg("API usage critical - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, wait, nil
	}

	// Warning: Apply throttling
	if state.NeedsThrottling() {
		t.logger.Warn().
			Float64("usage_pct", state.UsagePercent).
			Msg("API usage warning - throttling request")

		rateLimitThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, 0, ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return true, 0, nil
}

// Reset clears the stored state.
func (t *Tracker) Reset(ctx context.Context) error {
	err := t.redis.Del(ctx, RedisKeyUsagePercent, RedisKeyResetTimestamp, RedisKeyLastUpdate).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}
