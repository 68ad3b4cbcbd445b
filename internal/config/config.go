// Package config loads the insights proxy configuration from environment
// variables.
//
// Environment Variables:
//
// Server:
//   - PORT: HTTP port (default: 8080)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_PRETTY: console output instead of JSON (default: false)
//
// Redis (durable tier and API usage state):
//   - REDIS_ADDRESS: host:port (default: localhost:6379)
//   - REDIS_PASSWORD
//   - REDIS_DB: 0-15 (default: 0)
//
// Insights API:
//   - META_ACCESS_TOKEN: initial access token (optional, can be set later via PUT /token)
//   - GRAPH_BASE_URL (default: https://graph.facebook.com)
//   - GRAPH_API_VERSION (default: v19.0)
//   - INSIGHTS_PAGE_LIMIT: rows per page (default: 500)
//   - INSIGHTS_MAX_PAGES: page bound per fetch (default: 10)
//   - INSIGHTS_REQUEST_TIMEOUT: per HTTP call (default: 30s)
//   - RATE_LIMIT_ENABLED: gate requests on reported API usage (default: true)
//   - USER_AGENT (default: ads-insights-cache/1.0)
//
// Cache:
//   - MEMORY_TTL (default: 5m)
//   - MEMORY_MAX_BYTES (default: 52428800)
//   - DURABLE_TTL (default: 6h)
//   - LOOKUP_TIMEOUT: bound on a whole lookup, 0 disables (default: 60s)
//   - WARM_CONCURRENCY (default: 4)
//   - CLEANUP_SCHEDULE: cron expression for the memory sweep (default: @every 1m)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/ads-insights-cache/pkg/logging"
	"github.com/robfig/cron/v3"
)

// Config holds the proxy configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogPretty bool

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	AccessToken      string
	GraphBaseURL     string
	GraphAPIVersion  string
	PageLimit        int
	MaxPages         int
	RequestTimeout   time.Duration
	RateLimitEnabled bool
	UserAgent        string

	MemoryTTL       time.Duration
	MemoryMaxBytes  int64
	DurableTTL      time.Duration
	LookupTimeout   time.Duration
	WarmConcurrency int
	CleanupSchedule string
}

// Load reads the configuration from the environment. Malformed numbers and
// durations are reported; call Validate for range checks.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: p.bool("LOG_PRETTY", false),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       p.int("REDIS_DB", 0),

		AccessToken:      getEnv("META_ACCESS_TOKEN", ""),
		GraphBaseURL:     getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"),
		GraphAPIVersion:  getEnv("GRAPH_API_VERSION", "v19.0"),
		PageLimit:        p.int("INSIGHTS_PAGE_LIMIT", 500),
		MaxPages:         p.int("INSIGHTS_MAX_PAGES", 10),
		RequestTimeout:   p.duration("INSIGHTS_REQUEST_TIMEOUT", 30*time.Second),
		RateLimitEnabled: p.bool("RATE_LIMIT_ENABLED", true),
		UserAgent:        getEnv("USER_AGENT", "ads-insights-cache/1.0"),

		MemoryTTL:       p.duration("MEMORY_TTL", 5*time.Minute),
		MemoryMaxBytes:  int64(p.int("MEMORY_MAX_BYTES", 50<<20)),
		DurableTTL:      p.duration("DURABLE_TTL", 6*time.Hour),
		LookupTimeout:   p.duration("LOOKUP_TIMEOUT", 60*time.Second),
		WarmConcurrency: p.int("WARM_CONCURRENCY", 4),
		CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "@every 1m"),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and formats.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}
	if c.GraphBaseURL == "" || c.GraphAPIVersion == "" {
		return fmt.Errorf("GRAPH_BASE_URL and GRAPH_API_VERSION are required")
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("INSIGHTS_PAGE_LIMIT must be > 0")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("INSIGHTS_MAX_PAGES must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("INSIGHTS_REQUEST_TIMEOUT must be > 0")
	}
	if c.MemoryTTL <= 0 {
		return fmt.Errorf("MEMORY_TTL must be > 0")
	}
	if c.MemoryMaxBytes <= 0 {
		return fmt.Errorf("MEMORY_MAX_BYTES must be > 0")
	}
	if c.DurableTTL <= 0 {
		return fmt.Errorf("DURABLE_TTL must be > 0")
	}
	if c.LookupTimeout < 0 {
		return fmt.Errorf("LOOKUP_TIMEOUT must be >= 0")
	}
	if c.WarmConcurrency <= 0 {
		return fmt.Errorf("WARM_CONCURRENCY must be > 0")
	}
	if _, err := cron.ParseStandard(c.CleanupSchedule); err != nil {
		return fmt.Errorf("CLEANUP_SCHEDULE %q: %w", c.CleanupSchedule, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects conversion errors so Load reports all of them at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func (p *parser) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}
