// Command insights-proxy serves ad insights through the tiered cache.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/ads-insights-cache/internal/config"
	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
	"github.com/Sternrassler/ads-insights-cache/pkg/insights"
	"github.com/Sternrassler/ads-insights-cache/pkg/logging"
	"github.com/Sternrassler/ads-insights-cache/pkg/ratelimit"
	"github.com/Sternrassler/ads-insights-cache/pkg/store"
	"github.com/Sternrassler/ads-insights-cache/pkg/tiered"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// A missing .env is fine; the environment may be set by the runtime
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Setup(logging.Config{
		Level:   level,
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: "insights-proxy",
	})

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	log.Info().Str("address", cfg.RedisAddress).Msg("Connected to Redis")

	srv, err := newServer(cfg, redisClient)
	if err != nil {
		return err
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CleanupSchedule, srv.cleanup); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting insights proxy")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newServer wires the tiers from cfg.
func newServer(cfg *config.Config, redisClient *redis.Client) (*server, error) {
	logger := logging.NewLogger("insights-proxy")

	var tracker *ratelimit.Tracker
	if cfg.RateLimitEnabled {
		tracker = ratelimit.NewTracker(redisClient, logging.NewLogger("rate-limiter"))
	}

	clientCfg := insights.DefaultConfig()
	clientCfg.BaseURL = cfg.GraphBaseURL
	clientCfg.APIVersion = cfg.GraphAPIVersion
	clientCfg.PageLimit = cfg.PageLimit
	clientCfg.MaxPages = cfg.MaxPages
	clientCfg.RequestTimeout = cfg.RequestTimeout
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Tracker = tracker

	client, err := insights.New(clientCfg)
	if err != nil {
		return nil, err
	}
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}

	memory, err := cache.NewMemory(cache.MemoryConfig{
		DefaultTTL:   cfg.MemoryTTL,
		MaxSizeBytes: cfg.MemoryMaxBytes,
	})
	if err != nil {
		return nil, err
	}

	tc, err := tiered.New(tiered.Config{
		Memory:          memory,
		Store:           store.NewRedis(redisClient),
		Fetcher:         client,
		DurableTTL:      cfg.DurableTTL,
		LookupTimeout:   cfg.LookupTimeout,
		WarmConcurrency: cfg.WarmConcurrency,
	})
	if err != nil {
		return nil, err
	}

	return &server{cache: tc, client: client, logger: logger}, nil
}

// server holds the handler dependencies.
type server struct {
	cache  *tiered.Cache
	client *insights.Client
	logger zerolog.Logger
}

func (s *server) cleanup() {
	if removed := s.cache.Cleanup(); removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Memory tier cleanup")
	}
}
