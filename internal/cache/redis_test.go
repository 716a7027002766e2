package cache

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*mr.Miniredis, *RedisCache) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	return m, NewRedisCache(client, true)
}

func TestRedisCache_SetGetDel(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	// miss before set
	b, err := c.Get(ctx, KeyDocSummary("d1"))
	require.NoError(t, err)
	require.Nil(t, b)

	require.NoError(t, c.Set(ctx, KeyDocSummary("d1"), []byte(`{"v":1}`), time.Minute))
	b, err = c.Get(ctx, KeyDocSummary("d1"))
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":1}`), b)

	require.NoError(t, c.Del(ctx, KeyDocSummary("d1")))
	b, err = c.Get(ctx, KeyDocSummary("d1"))
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	m, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	m.FastForward(2 * time.Second)

	b, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestRedisCache_InvalidationFanout(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	keys := []string{
		KeyDocSummary("d1"),
		KeyOwnerDocs("u1"),
		KeyProjectDocs("p1"),
		KeyAllDocs(),
	}
	for _, k := range keys {
		require.NoError(t, c.Set(ctx, k, []byte("stale"), 0))
	}
	// unrelated document keys must survive the fan-out
	require.NoError(t, c.Set(ctx, KeyDocSummary("other"), []byte("keep"), 0))

	require.NoError(t, Fanout{C: c}.InvalidateForDocumentWrite(ctx, "d1", "p1", "u1"))

	for _, k := range keys {
		b, err := c.Get(ctx, k)
		require.NoError(t, err)
		require.Nil(t, b, "key %s should have been invalidated", k)
	}
	b, err := c.Get(ctx, KeyDocSummary("other"))
	require.NoError(t, err)
	require.Equal(t, []byte("keep"), b)
}

func TestRedisCache_DelPattern(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Namespace+":docs:project:p1", []byte("a"), 0))
	require.NoError(t, c.Set(ctx, Namespace+":docs:project:p2", []byte("b"), 0))
	require.NoError(t, c.Set(ctx, Namespace+":doc:d1:summary", []byte("c"), 0))

	require.NoError(t, c.DelPattern(ctx, Namespace+":docs:project:"))

	b, err := c.Get(ctx, Namespace+":docs:project:p1")
	require.NoError(t, err)
	require.Nil(t, b)
	b, err = c.Get(ctx, Namespace+":doc:d1:summary")
	require.NoError(t, err)
	require.Equal(t, []byte("c"), b)
}

func TestRedisCache_FailOpenWhenBackendDown(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisCache(client, true)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	m.Close()

	// gets degrade to a miss, writes are swallowed
	b, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, b)
	require.NoError(t, c.Set(ctx, "k2", []byte("v"), 0))
	require.NoError(t, c.Del(ctx, "k"))
}

func TestRedisCache_FailClosedSurfacesErrors(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisCache(client, false)
	m.Close()

	_, err = c.Get(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, c.Set(context.Background(), "k", []byte("v"), 0))
}

func TestValidatorToken(t *testing.T) {
	require.Equal(t, `"v3"`, ValidatorToken(3))
	require.NotEqual(t, ValidatorToken(3), ValidatorToken(4))
}

func TestMemoryCache_SweepAndPattern(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a:1", []byte("x"), time.Nanosecond))
	require.NoError(t, c.Set(ctx, "a:2", []byte("y"), time.Hour))
	time.Sleep(5 * time.Millisecond)

	require.Equal(t, 1, c.Sweep())

	b, err := c.Get(ctx, "a:2")
	require.NoError(t, err)
	require.Equal(t, []byte("y"), b)

	require.NoError(t, c.DelPattern(ctx, "a:"))
	b, err = c.Get(ctx, "a:2")
	require.NoError(t, err)
	require.Nil(t, b)
}
