package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

// DefaultRedisPrefix namespaces result keys in a shared Redis.
const DefaultRedisPrefix = "newsline:results:"

// RedisConfig configures the shared cache tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Timeout  time.Duration
}

// envelope wraps a payload with its checksum so a torn or foreign value is detected.
type envelope struct {
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// RedisCache is a Store shared across replicas. Values are JSON encoded, so
// V must round-trip through encoding/json.
//
// A value that fails to decode or verify is deleted and reported as a miss
// carrying ERR_301_CACHE_CORRUPTION.
type RedisCache[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits        atomic.Int64
	misses      atomic.Int64
	corruptions atomic.Int64
}

var _ Store[int] = (*RedisCache[int])(nil)

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache[V any](ctx context.Context, cfg RedisConfig) (*RedisCache[V], error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nerrors.Classify("redis", err)
	}

	return NewRedisCacheFromClient[V](client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient[V any](client *redis.Client, prefix string, ttl time.Duration) *RedisCache[V] {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache[V]{client: client, prefix: prefix, ttl: ttl}
}

// Get fetches and verifies a value.
func (r *RedisCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return zero, false, nil
	}
	if err != nil {
		r.misses.Add(1)
		return zero, false, nerrors.Classify("redis", err)
	}

	value, err := decodeEnvelope[V](raw)
	if err != nil {
		r.misses.Add(1)
		r.corruptions.Add(1)
		if delErr := r.client.Del(ctx, r.prefix+key).Err(); delErr != nil {
			slog.Warn("cache_corrupt_delete_failed",
				slog.String("key", key),
				slog.String("error", delErr.Error()))
		}
		return zero, false, nerrors.CacheCorruption(key, err)
	}

	r.hits.Add(1)
	return value, true, nil
}

// Put encodes value with a checksum and stores it with the configured TTL.
// SET is atomic, so a concurrent reader sees either the old or the new value.
func (r *RedisCache[V]) Put(ctx context.Context, key string, value V) error {
	data, err := encodeEnvelope(value)
	if err != nil {
		return nerrors.InternalError("encode cache value", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return nerrors.Classify("redis", err)
	}
	return nil
}

// Stats returns hit, miss and corruption counters. Entries is not tracked.
func (r *RedisCache[V]) Stats() Stats {
	return Stats{
		Hits:        r.hits.Load(),
		Misses:      r.misses.Load(),
		Corruptions: r.corruptions.Load(),
	}
}

// Close closes the client.
func (r *RedisCache[V]) Close() error {
	return r.client.Close()
}

func encodeEnvelope[V any](value V) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Checksum: checksum(payload), Payload: payload})
}

func decodeEnvelope[V any](raw []byte) (V, error) {
	var zero V
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Payload) == 0 || env.Checksum != checksum(env.Payload) {
		return zero, errors.New("checksum mismatch")
	}

	var value V
	if err := json.Unmarshal(env.Payload, &value); err != nil {
		return zero, fmt.Errorf("decode payload: %w", err)
	}
	return value, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
