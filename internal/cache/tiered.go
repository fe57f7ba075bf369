package cache

import (
	"context"
	"log/slog"
)

// TieredCache reads the local tier first, then the shared tier, backfilling
// local on a shared hit. Writes go to both.
//
// The shared tier is never authoritative: its failures are logged and the
// cache carries on with the local tier alone.
type TieredCache[V any] struct {
	local  Store[V]
	shared Store[V]
}

var _ Store[int] = (*TieredCache[int])(nil)

// NewTieredCache composes local and shared. A nil shared tier is allowed.
func NewTieredCache[V any](local, shared Store[V]) *TieredCache[V] {
	return &TieredCache[V]{local: local, shared: shared}
}

// Get returns the first hit. It reports no error for shared-tier failures.
func (t *TieredCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	if v, ok, err := t.local.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}

	var zero V
	if t.shared == nil {
		return zero, false, nil
	}

	v, ok, err := t.shared.Get(ctx, key)
	if err != nil {
		slog.Warn("shared_cache_get_failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return zero, false, nil
	}
	if !ok {
		return zero, false, nil
	}

	if err := t.local.Put(ctx, key, v); err != nil {
		slog.Debug("local_cache_backfill_failed", slog.String("error", err.Error()))
	}
	return v, true, nil
}

// Put writes local then shared.
func (t *TieredCache[V]) Put(ctx context.Context, key string, value V) error {
	if err := t.local.Put(ctx, key, value); err != nil {
		return err
	}
	if t.shared == nil {
		return nil
	}
	if err := t.shared.Put(ctx, key, value); err != nil {
		slog.Warn("shared_cache_put_failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return nil
}
