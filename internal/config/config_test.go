package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddress)
	assert.Equal(t, "https://graph.facebook.com", cfg.GraphBaseURL)
	assert.Equal(t, 10, cfg.MaxPages)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.MemoryTTL)
	assert.Equal(t, int64(50<<20), cfg.MemoryMaxBytes)
	assert.Equal(t, "@every 1m", cfg.CleanupSchedule)
	assert.True(t, cfg.RateLimitEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INSIGHTS_MAX_PAGES", "25")
	t.Setenv("MEMORY_TTL", "90s")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("META_ACCESS_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25, cfg.MaxPages)
	assert.Equal(t, 90*time.Second, cfg.MemoryTTL)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, "secret", cfg.AccessToken)
}

func TestLoad_ReportsAllMalformedValues(t *testing.T) {
	t.Setenv("INSIGHTS_MAX_PAGES", "ten")
	t.Setenv("MEMORY_TTL", "5 minutes")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "INSIGHTS_MAX_PAGES"))
	assert.True(t, strings.Contains(err.Error(), "MEMORY_TTL"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "bad port", mutate: func(c *Config) { c.Port = "0" }, want: "PORT"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, want: "LOG_LEVEL"},
		{name: "redis db", mutate: func(c *Config) { c.RedisDB = 16 }, want: "REDIS_DB"},
		{name: "max pages", mutate: func(c *Config) { c.MaxPages = 0 }, want: "INSIGHTS_MAX_PAGES"},
		{name: "memory ttl", mutate: func(c *Config) { c.MemoryTTL = 0 }, want: "MEMORY_TTL"},
		{name: "memory size", mutate: func(c *Config) { c.MemoryMaxBytes = -1 }, want: "MEMORY_MAX_BYTES"},
		{name: "lookup timeout", mutate: func(c *Config) { c.LookupTimeout = -time.Second }, want: "LOOKUP_TIMEOUT"},
		{name: "cron schedule", mutate: func(c *Config) { c.CleanupSchedule = "every minute" }, want: "CLEANUP_SCHEDULE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
