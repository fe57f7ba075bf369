package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// entry is one cached value with its bookkeeping.
type entry[V any] struct {
	value      V
	insertedAt time.Time
	lastAccess time.Time
}

// ResultCache is a process-local LRU cache with a per-entry TTL.
//
// Expired entries are misses and are removed when touched; Sweep removes
// them proactively. When full, the least recently used entry is evicted.
type ResultCache[V any] struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, *entry[V]]
	size  int
	ttl   time.Duration
	clock Clock
	clone func(V) V
	stats Stats
}

var _ Store[int] = (*ResultCache[int])(nil)

// ResultCacheOption configures a ResultCache.
type ResultCacheOption[V any] func(*ResultCache[V])

// WithClock injects the time source used for TTL checks.
func WithClock[V any](c Clock) ResultCacheOption[V] {
	return func(rc *ResultCache[V]) {
		rc.clock = c
	}
}

// WithClone sets the deep-copy function applied on Put and Get.
// Without it values are copied by assignment.
func WithClone[V any](clone func(V) V) ResultCacheOption[V] {
	return func(rc *ResultCache[V]) {
		rc.clone = clone
	}
}

// NewResultCache creates a cache holding at most capacity entries for ttl each.
func NewResultCache[V any](capacity int, ttl time.Duration, opts ...ResultCacheOption[V]) (*ResultCache[V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}

	l, err := simplelru.NewLRU[string, *entry[V]](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	rc := &ResultCache[V]{
		lru:   l,
		size:  capacity,
		ttl:   ttl,
		clock: RealClock{},
		clone: func(v V) V { return v },
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc, nil
}

// Get returns a copy of the cached value. It never fails.
func (c *ResultCache[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return zero, false, nil
	}
	if c.expired(e, now) {
		c.lru.Remove(key)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false, nil
	}

	e.lastAccess = now
	c.stats.Hits++
	return c.clone(e.value), true, nil
}

// Put stores a copy of value under key, replacing any previous entry.
func (c *ResultCache[V]) Put(_ context.Context, key string, value V) error {
	now := c.clock.Now()
	stored := c.clone(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Contains(key) {
		c.lru.Remove(key)
	} else if c.lru.Len() >= c.size {
		c.evictOne(now)
	}

	c.lru.Add(key, &entry[V]{value: stored, insertedAt: now, lastAccess: now})
	return nil
}

// evictOne makes room for one insert, preferring an expired entry over
// the least recently used live one. Must be called with mu held.
func (c *ResultCache[V]) evictOne(now time.Time) {
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && c.expired(e, now) {
			c.lru.Remove(k)
			c.stats.Expirations++
			return
		}
	}
	if _, _, ok := c.lru.RemoveOldest(); ok {
		c.stats.Evictions++
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *ResultCache[V]) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && c.expired(e, now) {
			c.lru.Remove(k)
			removed++
		}
	}
	c.stats.Expirations += int64(removed)
	return removed
}

// Purge drops every entry.
func (c *ResultCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *ResultCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *ResultCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

func (c *ResultCache[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) >= c.ttl
}
