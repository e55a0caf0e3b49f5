package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() map[string]any {
	return map[string]any{
		"query":  "db timeout on payments",
		"route":  "deep",
		"answer": "",
		"metrics": map[string]any{
			"docs": float64(3),
		},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "thread-1", sampleSnapshot()))

	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "db timeout on payments", got["query"])
	assert.Equal(t, "deep", got["route"])
}

func TestMemoryStoreMissingThread(t *testing.T) {
	store := NewMemoryStore()

	got, err := store.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreRejectsEmptyThreadID(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.Save(context.Background(), "", sampleSnapshot()))
}

func TestMemoryStoreIsolatesStoredSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := sampleSnapshot()
	require.NoError(t, store.Save(ctx, "thread-1", snap))
	snap["query"] = "mutated after save"

	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "db timeout on payments", got["query"])
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "thread-1", sampleSnapshot()))
	require.NoError(t, store.Delete(ctx, "thread-1"))

	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), srv
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "thread-9", sampleSnapshot()))

	got, err := store.Load(ctx, "thread-9")
	require.NoError(t, err)
	assert.Equal(t, "db timeout on payments", got["query"])

	metrics, ok := got["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), metrics["docs"])
}

func TestRedisStoreMissingThread(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)

	got, err := store.Load(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, srv := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "thread-ttl", sampleSnapshot()))
	srv.FastForward(2 * time.Minute)

	got, err := store.Load(ctx, "thread-ttl")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "thread-del", sampleSnapshot()))
	require.NoError(t, store.Delete(ctx, "thread-del"))

	got, err := store.Load(ctx, "thread-del")
	require.NoError(t, err)
	assert.Nil(t, got)
}
