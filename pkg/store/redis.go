package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	// RedisKeyRecordPrefix prefixes serialized records: adcache:record:{id}
	RedisKeyRecordPrefix = "adcache:record:"

	// RedisKeyOwnerPrefix prefixes the per-owner id index: adcache:owner:{owner}
	RedisKeyOwnerPrefix = "adcache:owner:"
)

// idSeparator splits the owner from the key hash inside a record id.
const idSeparator = ":"

// Redis implements Store on a Redis server.
type Redis struct {
	redis *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis creates a durable store on redisClient.
func NewRedis(redisClient *redis.Client) *Redis {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{
		redis: redisClient,
	}
}

// RecordID derives the deterministic record id for key.
// Format: {ownerId}:{xxhash64(key) hex}
func RecordID(key cache.Key) string {
	return key.OwnerID + idSeparator + strconv.FormatUint(xxhash.Sum64String(key.String()), 16)
}

func recordKey(id string) string {
	return RedisKeyRecordPrefix + id
}

func ownerKey(ownerID string) string {
	return RedisKeyOwnerPrefix + ownerID
}

// Query retrieves the record for key.
// Returns ErrNotFound if the key doesn't exist or the record is expired.
func (s *Redis) Query(ctx context.Context, key cache.Key) (*Record, error) {
	id := RecordID(key)

	data, err := s.redis.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreMisses.Inc()
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("query").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		StoreErrors.WithLabelValues("query").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	if record.IsExpired() {
		_ = s.Delete(ctx, id)
		StoreMisses.Inc()
		return nil, ErrNotFound
	}

	StoreHits.Inc()
	return &record, nil
}

// Create stores value for key with ttl. Redis expires the record on its own.
func (s *Redis) Create(ctx context.Context, ownerID string, key cache.Key, value []byte, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("record ttl must be > 0 (got %v)", ttl)
	}
	if ownerID != key.OwnerID {
		return "", fmt.Errorf("owner id %q does not match key owner %q", ownerID, key.OwnerID)
	}

	id := RecordID(key)
	record := Record{
		ID:       id,
		OwnerID:  ownerID,
		Key:      key,
		Value:    value,
		StoredAt: time.Now(),
		TTL:      ttl,
	}

	data, err := json.Marshal(record)
	if err != nil {
		StoreErrors.WithLabelValues("create").Inc()
		return "", fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(id), data, ttl)
		pipe.SAdd(ctx, ownerKey(ownerID), id)
		return nil
	})
	if err != nil {
		StoreErrors.WithLabelValues("create").Inc()
		return "", fmt.Errorf("redis set: %w", err)
	}

	StoreWrittenBytes.Add(float64(len(data)))
	return id, nil
}

// Delete removes a record and its owner index entry.
func (s *Redis) Delete(ctx context.Context, id string) error {
	// The hash suffix never contains the separator; the owner id may.
	i := strings.LastIndex(id, idSeparator)
	if i < 0 {
		return fmt.Errorf("invalid record id %q", id)
	}
	ownerID := id[:i]

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(id))
		pipe.SRem(ctx, ownerKey(ownerID), id)
		return nil
	})
	if err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// ListByOwner returns the live records of ownerID. Index entries whose record
// has expired are pruned on the way.
func (s *Redis) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	ids, err := s.redis.SMembers(ctx, ownerKey(ownerID)).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	records := make([]Record, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			StoreErrors.WithLabelValues("list").Inc()
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		if record.IsExpired() {
			stale = append(stale, ids[i])
			continue
		}
		records = append(records, record)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, ownerKey(ownerID), stale...).Err(); err != nil {
			StoreErrors.WithLabelValues("list").Inc()
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key.String() < records[j].Key.String()
	})

	return records, nil
}

// Ping checks the Redis connection.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
