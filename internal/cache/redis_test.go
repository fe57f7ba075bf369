package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

type payload struct {
	IDs   []string `json:"ids"`
	Label string   `json:"label"`
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache[payload]) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache[payload](context.Background(), RedisConfig{
		Addr: mr.Addr(),
		TTL:  time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestRedisCache_RoundTrip(t *testing.T) {
	_, rc := newTestRedis(t)
	ctx := context.Background()
	want := payload{IDs: []string{"a", "b"}, Label: "entity"}

	require.NoError(t, rc.Put(ctx, "k", want))
	got, ok, err := rc.Get(ctx, "k")

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(1), rc.Stats().Hits)
}

func TestRedisCache_TTL(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.Put(ctx, "k", payload{Label: "x"}))

	mr.FastForward(2 * time.Minute)

	_, ok, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryIsMissAndDeleted(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{garbage"},
		{"checksum mismatch", `{"checksum":"deadbeef","payload":{"ids":["a"],"label":"x"}}`},
		{"empty payload", `{"checksum":"","payload":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a foreign value under a cache key
			mr, rc := newTestRedis(t)
			require.NoError(t, mr.Set(DefaultRedisPrefix+"k", tt.raw))

			// When: reading it
			_, ok, err := rc.Get(context.Background(), "k")

			// Then: it is a corruption miss and the key is gone
			assert.False(t, ok)
			require.Error(t, err)
			assert.True(t, nerrors.HasCode(err, nerrors.ErrCodeCacheCorruption))
			assert.False(t, mr.Exists(DefaultRedisPrefix+"k"))
			assert.Equal(t, int64(1), rc.Stats().Corruptions)
		})
	}
}

func TestRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache[payload](context.Background(), RedisConfig{
		Addr:    "127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, nerrors.IsRetryable(err))

	_, err = NewRedisCache[payload](context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func TestNewRedisCacheFromClient_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc := NewRedisCacheFromClient[payload](client, "", time.Minute)
	defer func() { _ = rc.Close() }()

	require.NoError(t, rc.Put(context.Background(), "k", payload{}))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"k"))
}
