// Package tiered composes the memory tier, the durable tier and the insights
// API behind one read-through cache.
//
// A lookup checks the tiers strictly in order L1 (memory), L2 (durable store),
// L3 (remote API). A hit in a slower tier back-fills the faster ones. Remote
// failures never surface as Go errors from Get: they turn into a miss with the
// failure kept in the result metadata, so the caller can tell "no data" from
// "fetch failed".
package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
	"github.com/Sternrassler/ads-insights-cache/pkg/insights"
	"github.com/Sternrassler/ads-insights-cache/pkg/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source names the tier that answered a lookup.
type Source string

const (
	SourceL1   Source = "L1"
	SourceL2   Source = "L2"
	SourceL3   Source = "L3"
	SourceMiss Source = "miss"
)

// Error values of Metadata.Error besides the insights kinds.
const (
	ErrorInvalidKey = "InvalidKey"
	ErrorCanceled   = "Canceled"
	ErrorUnknown    = "Unknown"
)

// DefaultDurableTTL is how long durable records live when Config.DurableTTL is unset.
const DefaultDurableTTL = 6 * time.Hour

// DefaultFetchTimeout bounds a shared L3 fetch when no LookupTimeout is set.
const DefaultFetchTimeout = 5 * time.Minute

// Fetcher loads insights from the remote API. *insights.Client implements it.
type Fetcher interface {
	FetchInsights(ctx context.Context, req insights.Request) (*insights.Result, error)
}

var _ Fetcher = (*insights.Client)(nil)

// Config holds the tiered cache collaborators and defaults.
type Config struct {
	// Memory is the L1 tier (required)
	Memory *cache.Memory

	// Store is the L2 tier (required)
	Store store.Store

	// Fetcher is the L3 tier (required)
	Fetcher Fetcher

	// Fields requested from the API (default: the fetcher's own list)
	Fields []string

	// MemoryTTL for entries written by the cache (default: Memory's default TTL)
	MemoryTTL time.Duration

	// DurableTTL for records written to the store (default: DefaultDurableTTL)
	DurableTTL time.Duration

	// LookupTimeout bounds a whole Get across all tiers (0: only the caller's deadline).
	// It also bounds a shared L3 fetch, which otherwise gets DefaultFetchTimeout.
	LookupTimeout time.Duration

	// WarmConcurrency bounds parallel lookups in Warm and ClearAll (default: 4)
	WarmConcurrency int

	// Logger (default: global logger with component "tiered-cache")
	Logger *zerolog.Logger
}

// Metadata describes how a lookup was answered.
type Metadata struct {
	Key string `json:"key"`

	// Error is the failure kind of a miss, empty when the API simply had no data
	Error        string `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Err          error  `json:"-"`

	// RetryAfter is the API's backoff hint for RateLimited misses
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// StoreError reports a durable tier read failure the lookup continued past
	StoreError string `json:"store_error,omitempty"`

	// Incomplete is true when the data lacks trailing pages
	Incomplete bool `json:"incomplete,omitempty"`

	// Pages fetched from the API (L3 only)
	Pages int `json:"pages,omitempty"`

	// StoredAt is when the answering durable record was written (L2 only)
	StoredAt time.Time `json:"stored_at,omitzero"`

	// TTL is the remaining lifetime of the answering entry
	TTL time.Duration `json:"ttl,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a lookup.
type Result struct {
	Data     []insights.Record `json:"data"`
	Source   Source            `json:"source"`
	Metadata Metadata          `json:"metadata"`
}

// Hit reports whether any tier answered.
func (r Result) Hit() bool {
	return r.Source != SourceMiss
}

// payload is the serialized value shared by L1 and L2.
type payload struct {
	Records    []insights.Record `json:"records"`
	Incomplete bool              `json:"incomplete,omitempty"`
}

// Cache is the tiered read-through cache. Construct one per account or session
// and pass it to the code that needs it.
type Cache struct {
	memory  *cache.Memory
	store   store.Store
	fetcher Fetcher

	fields          []string
	memoryTTL       time.Duration
	durableTTL      time.Duration
	lookupTimeout   time.Duration
	fetchTimeout    time.Duration
	warmConcurrency int

	flights singleflight.Group
	stats   *statistics
	logger  zerolog.Logger
}

// New creates a tiered cache. Missing collaborators or negative durations are
// a *cache.ConfigError.
func New(cfg Config) (*Cache, error) {
	if cfg.Memory == nil {
		return nil, &cache.ConfigError{Field: "memory", Reason: "is required"}
	}
	if cfg.Store == nil {
		return nil, &cache.ConfigError{Field: "store", Reason: "is required"}
	}
	if cfg.Fetcher == nil {
		return nil, &cache.ConfigError{Field: "fetcher", Reason: "is required"}
	}
	if cfg.MemoryTTL < 0 {
		return nil, &cache.ConfigError{Field: "memory_ttl", Reason: "must be >= 0"}
	}
	if cfg.DurableTTL < 0 {
		return nil, &cache.ConfigError{Field: "durable_ttl", Reason: "must be >= 0"}
	}
	if cfg.LookupTimeout < 0 {
		return nil, &cache.ConfigError{Field: "lookup_timeout", Reason: "must be >= 0"}
	}
	if cfg.WarmConcurrency < 0 {
		return nil, &cache.ConfigError{Field: "warm_concurrency", Reason: "must be >= 0"}
	}

	memoryTTL := cfg.MemoryTTL
	if memoryTTL == 0 {
		memoryTTL = cfg.Memory.DefaultTTL()
	}
	durableTTL := cfg.DurableTTL
	if durableTTL == 0 {
		durableTTL = DefaultDurableTTL
	}
	fetchTimeout := cfg.LookupTimeout
	if fetchTimeout == 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	warmConcurrency := cfg.WarmConcurrency
	if warmConcurrency == 0 {
		warmConcurrency = 4
	}

	logger := log.With().Str("component", "tiered-cache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Cache{
		memory:          cfg.Memory,
		store:           cfg.Store,
		fetcher:         cfg.Fetcher,
		fields:          cfg.Fields,
		memoryTTL:       memoryTTL,
		durableTTL:      durableTTL,
		lookupTimeout:   cfg.LookupTimeout,
		fetchTimeout:    fetchTimeout,
		warmConcurrency: warmConcurrency,
		stats:           newStatistics(),
		logger:          logger,
	}, nil
}

// Get looks key up in L1, L2 and L3, in that order, honoring opts.
func (c *Cache) Get(ctx context.Context, key cache.Key, opts cache.Options) Result {
	start := time.Now()
	result := Result{
		Source:   SourceMiss,
		Metadata: Metadata{Key: key.String()},
	}

	if err := key.Validate(); err != nil {
		result.Metadata.Error = ErrorInvalidKey
		result.Metadata.ErrorMessage = err.Error()
		result.Metadata.Err = err
		return result
	}

	if c.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lookupTimeout)
		defer cancel()
	}

	result = c.lookup(ctx, key, opts, result)
	result.Metadata.Duration = time.Since(start)

	c.stats.record(key, result.Source)
	LookupsTotal.WithLabelValues(string(result.Source)).Inc()
	LookupDuration.WithLabelValues(string(result.Source)).Observe(result.Metadata.Duration.Seconds())

	c.logger.Debug().
		Str("key", result.Metadata.Key).
		Str("source", string(result.Source)).
		Str("error_kind", result.Metadata.Error).
		Dur("duration", result.Metadata.Duration).
		Msg("Lookup complete")

	return result
}

func (c *Cache) lookup(ctx context.Context, key cache.Key, opts cache.Options, result Result) Result {
	text := result.Metadata.Key

	if !opts.ForceRefresh {
		if !opts.SkipL1 {
			if value, ttl, ok := c.memory.Get(text); ok {
				p, err := decode(value)
				if err == nil {
					result.Source = SourceL1
					result.Data = p.Records
					result.Metadata.Incomplete = p.Incomplete
					result.Metadata.TTL = ttl
					return result
				}
				c.logger.Warn().Err(err).Str("key", text).Msg("Dropping undecodable memory entry")
				c.memory.Delete(text)
			}
		}

		if !opts.SkipL2 {
			if hit, ok := c.queryStore(ctx, key, opts, &result); ok {
				return hit
			}
		}
	}

	return c.fetch(ctx, key, opts, result)
}

// queryStore answers from L2 and back-fills L1. A read failure is recorded in
// result.Metadata.StoreError and reported as not found.
func (c *Cache) queryStore(ctx context.Context, key cache.Key, opts cache.Options, result *Result) (Result, bool) {
	text := result.Metadata.Key

	record, err := c.store.Query(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			StoreFailures.WithLabelValues("query").Inc()
			result.Metadata.StoreError = err.Error()
			c.logger.Warn().Err(err).Str("key", text).Msg("Durable tier read failed, falling through")
		}
		return Result{}, false
	}

	p, err := decode(record.Value)
	if err != nil {
		StoreFailures.WithLabelValues("decode").Inc()
		result.Metadata.StoreError = err.Error()
		c.logger.Warn().Err(err).Str("key", text).Msg("Undecodable durable record, falling through")
		return Result{}, false
	}

	remaining := record.Remaining()
	if !opts.SkipL1 {
		if ttl := opts.TTLOr(remaining); ttl > 0 {
			c.memory.Set(text, record.Value, ttl)
			Backfills.Inc()
		}
	}

	hit := *result
	hit.Source = SourceL2
	hit.Data = p.Records
	hit.Metadata.Incomplete = p.Incomplete
	hit.Metadata.StoredAt = record.StoredAt
	hit.Metadata.TTL = remaining
	return hit, true
}

// fetch answers from L3 and writes the non-skipped tiers. Concurrent fetches
// of one key share a single remote call.
func (c *Cache) fetch(ctx context.Context, key cache.Key, opts cache.Options, result Result) Result {
	text := result.Metadata.Key

	req := insights.Request{
		AccountID: key.OwnerID,
		Range:     key.Range,
		Fields:    c.fields,
	}

	// The shared call belongs to no caller: it is bounded by fetchTimeout only,
	// and each waiter stops waiting on its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(text, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(detached, c.fetchTimeout)
		defer cancel()
		return c.fetcher.FetchInsights(flightCtx, req)
	})

	var (
		fetched *insights.Result
		err     error
	)
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case r := <-ch:
		err = r.Err
		if err == nil {
			fetched = r.Val.(*insights.Result)
		}
	}

	if err != nil {
		kind := errorKind(err)
		FetchFailures.WithLabelValues(kind).Inc()
		result.Metadata.Error = kind
		result.Metadata.ErrorMessage = err.Error()
		result.Metadata.Err = err
		result.Metadata.RetryAfter = insights.RetryAfterOf(err)
		c.logger.Warn().Err(err).Str("key", text).Str("error_kind", kind).Msg("Remote fetch failed")
		return result
	}

	result.Metadata.Pages = fetched.Pages
	if len(fetched.Records) == 0 {
		return result
	}

	p := payload{Records: fetched.Records, Incomplete: fetched.Truncated}
	value, err := json.Marshal(p)
	if err != nil {
		result.Metadata.Error = ErrorUnknown
		result.Metadata.ErrorMessage = err.Error()
		result.Metadata.Err = err
		return result
	}

	if fetched.Truncated {
		IncompleteResults.Inc()
		c.logger.Warn().
			Str("key", text).
			Int("pages", fetched.Pages).
			Int("records", len(fetched.Records)).
			Msg("Incomplete pagination, caching partial result")
	}

	c.write(ctx, key, value, opts)

	result.Source = SourceL3
	result.Data = fetched.Records
	result.Metadata.Incomplete = fetched.Truncated
	result.Metadata.TTL = opts.TTLOr(c.memoryTTL)
	return result
}

// Set stores records under key in L2 and then L1, each unless skipped.
// A durable tier failure is logged and swallowed.
func (c *Cache) Set(ctx context.Context, key cache.Key, records []insights.Record, opts cache.Options) error {
	if err := key.Validate(); err != nil {
		return err
	}

	value, err := json.Marshal(payload{Records: records})
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	c.write(ctx, key, value, opts)
	return nil
}

func (c *Cache) write(ctx context.Context, key cache.Key, value []byte, opts cache.Options) {
	text := key.String()

	if !opts.SkipL2 {
		ttl := opts.TTLOr(c.durableTTL)
		if _, err := c.store.Create(ctx, key.OwnerID, key, value, ttl); err != nil {
			StoreFailures.WithLabelValues("create").Inc()
			c.logger.Warn().Err(err).Str("key", text).Msg("Durable tier write failed, memory tier still updated")
		}
	}

	if !opts.SkipL1 {
		if !c.memory.Set(text, value, opts.TTLOr(c.memoryTTL)) {
			c.logger.Debug().Str("key", text).Int("size_bytes", len(value)).Msg("Value not kept in memory tier")
		}
	}
}

// Clear evicts key from L1 and L2. Clearing an absent key is a no-op.
func (c *Cache) Clear(ctx context.Context, key cache.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	c.memory.Delete(key.String())

	// Deleting by id also removes records that no longer decode.
	if err := c.store.Delete(ctx, store.RecordID(key)); err != nil {
		StoreFailures.WithLabelValues("clear").Inc()
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}

// ClearAll purges L1 and removes from L2 every key looked up since the last
// statistics reset. The store has no bulk delete, so keys never looked up
// through this cache stay in L2.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.memory.Purge()

	keys := c.stats.knownKeys()
	var g errgroup.Group
	g.SetLimit(c.warmConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return c.Clear(ctx, key)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.logger.Info().Int("keys", len(keys)).Msg("Cache cleared")
	return nil
}

// Warm looks up keys concurrently so later reads hit a fast tier. It returns
// the source that answered each key, by key text.
func (c *Cache) Warm(ctx context.Context, keys []cache.Key, opts cache.Options) (map[string]Source, error) {
	var (
		mu      sync.Mutex
		sources = make(map[string]Source, len(keys))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.warmConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result := c.Get(gctx, key, opts)
			mu.Lock()
			sources[result.Metadata.Key] = result.Source
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return sources, err
}

// Cleanup sweeps expired entries from the memory tier and returns how many were removed.
func (c *Cache) Cleanup() int {
	return c.memory.Cleanup()
}

func decode(value []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(value, &p); err != nil {
		return payload{}, fmt.Errorf("decode cached value: %w", err)
	}
	return p, nil
}

func errorKind(err error) string {
	if kind := insights.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCanceled
	}
	return ErrorUnknown
}
