package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis starts an in-memory Redis server and a client connected to it.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestNewRedis_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with nil redis client")
		}
	}()
	NewRedis(nil)
}

func TestRecordID(t *testing.T) {
	key := cache.NewKey("123", "last_30d")

	id := RecordID(key)
	assert.Equal(t, id, RecordID(cache.NewKey("123", "last_30d")), "ids must be stable")
	assert.NotEqual(t, id, RecordID(cache.NewKey("123", "last_7d")))
	assert.Contains(t, id, "123:")
}

func TestRedis_CreateAndQuery(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	key := cache.NewKey("123", "last_30d")
	id, err := s.Create(ctx, "123", key, []byte(`[{"ad_id":"1"}]`), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, RecordID(key), id)

	record, err := s.Query(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "123", record.OwnerID)
	assert.Equal(t, key, record.Key)
	assert.Equal(t, `[{"ad_id":"1"}]`, string(record.Value))
	assert.Equal(t, time.Hour, record.TTL)
	assert.InDelta(t, time.Hour.Seconds(), record.Remaining().Seconds(), 5)
}

func TestRedis_CreateReplaces(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	key := cache.NewKey("123", "today")
	_, err := s.Create(ctx, "123", key, []byte("first"), time.Hour)
	require.NoError(t, err)
	_, err = s.Create(ctx, "123", key, []byte("second"), time.Hour)
	require.NoError(t, err)

	record, err := s.Query(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "second", string(record.Value))

	records, err := s.ListByOwner(ctx, "123")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRedis_CreateValidation(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	_, err := s.Create(ctx, "123", cache.NewKey("123", "today"), []byte("x"), 0)
	assert.Error(t, err)

	_, err = s.Create(ctx, "999", cache.NewKey("123", "today"), []byte("x"), time.Hour)
	assert.Error(t, err)
}

func TestRedis_QueryMiss(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewRedis(client)

	_, err := s.Query(context.Background(), cache.NewKey("123", "today"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedis_QueryExpired(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	key := cache.NewKey("123", "today")
	_, err := s.Create(ctx, "123", key, []byte("x"), time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.Query(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedis_QueryCorrupted(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedis(client)

	key := cache.NewKey("123", "today")
	require.NoError(t, mr.Set(recordKey(RecordID(key)), "{not json"))

	_, err := s.Query(context.Background(), key)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestRedis_DeleteIsIdempotent(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	key := cache.NewKey("123", "today")
	id, err := s.Create(ctx, "123", key, []byte("x"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id))

	_, err = s.Query(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, mr.Exists(ownerKey("123")), "owner index should be empty")

	assert.Error(t, s.Delete(ctx, "no-separator"))
}

func TestRedis_DeleteOwnerWithSeparator(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	key := cache.NewKey("acme:eu", "today")
	id, err := s.Create(ctx, key.OwnerID, key, []byte("x"), time.Hour)
	require.NoError(t, err)
	require.True(t, mr.Exists(ownerKey("acme:eu")))

	require.NoError(t, s.Delete(ctx, id))

	assert.False(t, mr.Exists(recordKey(id)))
	assert.False(t, mr.Exists(ownerKey("acme:eu")), "owner index should be empty")
	assert.False(t, mr.Exists(ownerKey("acme")))
}

func TestRedis_ListByOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	_, err := s.Create(ctx, "123", cache.NewKey("123", "last_7d"), []byte("a"), time.Hour)
	require.NoError(t, err)
	_, err = s.Create(ctx, "123", cache.NewKey("123", "last_30d"), []byte("b"), time.Hour)
	require.NoError(t, err)
	_, err = s.Create(ctx, "123", cache.NewKey("123", "today"), []byte("c"), time.Minute)
	require.NoError(t, err)
	_, err = s.Create(ctx, "456", cache.NewKey("456", "today"), []byte("d"), time.Hour)
	require.NoError(t, err)

	records, err := s.ListByOwner(ctx, "123")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "123_last_30d", records[0].Key.String())
	assert.Equal(t, "123_last_7d", records[1].Key.String())
	assert.Equal(t, "123_today", records[2].Key.String())

	mr.FastForward(2 * time.Minute)

	records, err = s.ListByOwner(ctx, "123")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	members, err := mr.Members(ownerKey("123"))
	require.NoError(t, err)
	assert.Len(t, members, 2, "expired ids should be pruned from the index")

	records, err = s.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRedis_Ping(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedis(client)

	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
