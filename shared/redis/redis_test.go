package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+s.Addr(), "test:", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, s
}

type page struct {
	IDs []string `json:"ids"`
}

func TestSetGet(t *testing.T) {
	client, s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "public:personas:20:0", page{IDs: []string{"a", "b"}}, 0))
	assert.True(t, s.Exists("test:public:personas:20:0"))

	var got page
	found, err := client.Get(ctx, "public:personas:20:0", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, got.IDs)

	found, err = client.Get(ctx, "nope", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDefaultTTL(t *testing.T) {
	client, s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", 1, 0))
	assert.Equal(t, time.Minute, s.TTL("test:k"))

	s.FastForward(2 * time.Minute)
	var v int
	found, err := client.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	client, s := setupTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"chat:1:branches", "public:personas:20:0", "public:personas:20:20", "user:u1"} {
		require.NoError(t, client.Set(ctx, k, true, 0))
	}

	require.NoError(t, client.Invalidate(ctx, "chat:1:branches"))
	require.NoError(t, client.InvalidatePrefix(ctx, "public:personas:"))

	assert.False(t, s.Exists("test:chat:1:branches"))
	assert.False(t, s.Exists("test:public:personas:20:0"))
	assert.False(t, s.Exists("test:public:personas:20:20"))
	assert.True(t, s.Exists("test:user:u1"))
}

func TestNewRedisClientBadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "://bad", "", 0)
	assert.Error(t, err)
}
