package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, capacity int, ttl time.Duration) (*ResultCache[[]string], *FakeClock) {
	t.Helper()
	clock := NewFakeClock(t0)
	c, err := NewResultCache(capacity, ttl,
		WithClock[[]string](clock),
		WithClone(slices.Clone[[]string]))
	require.NoError(t, err)
	return c, clock
}

// =============================================================================
// Put / Get
// =============================================================================

func TestResultCache_PutThenGet(t *testing.T) {
	c, _ := newTestCache(t, 4, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []string{"a", "b"}))
	got, ok, err := c.Get(ctx, "k")

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestResultCache_ValuesAreImmutable(t *testing.T) {
	// Given: a cached value
	c, _ := newTestCache(t, 4, time.Minute)
	ctx := context.Background()
	original := []string{"a", "b"}
	require.NoError(t, c.Put(ctx, "k", original))

	// When: both the caller's slice and a returned copy are mutated
	original[0] = "x"
	got, _, _ := c.Get(ctx, "k")
	got[1] = "y"

	// Then: the stored value is unchanged
	again, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, again)
}

func TestResultCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, 4, time.Minute)

	_, ok, err := c.Get(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

// =============================================================================
// TTL
// =============================================================================

func TestResultCache_ExpiredEntryIsAbsent(t *testing.T) {
	// Given: an entry with a one minute TTL
	c, clock := newTestCache(t, 4, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", []string{"a"}))

	// When: just under the TTL passes the entry is still served
	clock.Advance(59 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)

	// Then: at the TTL it is a miss and removed
	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestResultCache_AccessDoesNotExtendTTL(t *testing.T) {
	c, clock := newTestCache(t, 4, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", []string{"a"}))

	for range 5 {
		clock.Advance(15 * time.Second)
		_, _, _ = c.Get(ctx, "k")
	}

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestResultCache_Sweep(t *testing.T) {
	c, clock := newTestCache(t, 8, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "old1", []string{"a"}))
	require.NoError(t, c.Put(ctx, "old2", []string{"b"}))
	clock.Advance(30 * time.Second)
	require.NoError(t, c.Put(ctx, "new", []string{"c"}))
	clock.Advance(45 * time.Second)

	removed := c.Sweep()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
	_, ok, _ := c.Get(ctx, "new")
	assert.True(t, ok)
}

// =============================================================================
// Capacity
// =============================================================================

func TestResultCache_NeverExceedsCapacity(t *testing.T) {
	c, _ := newTestCache(t, 3, time.Hour)
	ctx := context.Background()

	for i := range 10 {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("k%d", i), []string{"v"}))
		assert.LessOrEqual(t, c.Len(), 3)
	}
	assert.Equal(t, int64(7), c.Stats().Evictions)
}

func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	// Given: a full cache where "a" was read after "b" and "c" were written
	c, _ := newTestCache(t, 3, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a", []string{"1"}))
	require.NoError(t, c.Put(ctx, "b", []string{"2"}))
	require.NoError(t, c.Put(ctx, "c", []string{"3"}))
	_, _, _ = c.Get(ctx, "a")

	// When: a fourth key is inserted
	require.NoError(t, c.Put(ctx, "d", []string{"4"}))

	// Then: "b" is the victim
	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok, _ := c.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestResultCache_PrefersExpiredVictim(t *testing.T) {
	c, clock := newTestCache(t, 2, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "stale", []string{"1"}))
	clock.Advance(50 * time.Second)
	require.NoError(t, c.Put(ctx, "fresh", []string{"2"}))
	_, _, _ = c.Get(ctx, "stale")
	clock.Advance(20 * time.Second)

	require.NoError(t, c.Put(ctx, "newest", []string{"3"}))

	_, ok, _ := c.Get(ctx, "fresh")
	assert.True(t, ok)
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestNewResultCache_Validation(t *testing.T) {
	_, err := NewResultCache[int](0, time.Minute)
	assert.Error(t, err)
	_, err = NewResultCache[int](1, 0)
	assert.Error(t, err)
}

// =============================================================================
// Concurrency
// =============================================================================

func TestResultCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 16, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", i%20)
				value := []string{key, fmt.Sprint(w)}
				_ = c.Put(ctx, key, value)
				if got, ok, _ := c.Get(ctx, key); ok {
					// A value is always one complete write.
					assert.Len(t, got, 2)
					assert.Equal(t, key, got[0])
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
}

// =============================================================================
// Key derivation
// =============================================================================

func TestKey_EquivalentRequestsShareKey(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Key(KeyParts{
		Query:    "  Oil   PRICES ",
		From:     from,
		Entities: []string{"OPEC", "Saudi Arabia"},
		Alpha:    0.65,
		Temporal: true,
	})
	b := Key(KeyParts{
		Query:    "oil prices",
		From:     from.In(time.FixedZone("EST", -5*3600)),
		Entities: []string{"saudi arabia", "opec", "OPEC"},
		Alpha:    0.65,
		Temporal: true,
	})

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestKey_VariantOrderIsIgnored(t *testing.T) {
	a := Key(KeyParts{Query: "oil prices", Variants: []string{"crude oil price", "Brent  benchmark moves"}})
	b := Key(KeyParts{Query: "oil prices", Variants: []string{"brent benchmark moves", "Crude oil price"}})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Key(KeyParts{Query: "oil prices"}))
}

func TestKey_DistinguishesParameters(t *testing.T) {
	base := KeyParts{Query: "oil prices", Alpha: 0.65}
	variants := []KeyParts{
		{Query: "oil price", Alpha: 0.65},
		{Query: "oil prices", Alpha: 0.3},
		{Query: "oil prices", Alpha: 0.65, Temporal: true},
		{Query: "oil prices", Alpha: 0.65, Authors: []string{"Reuters"}},
		{Query: "oil prices", Alpha: 0.65, To: t0},
		{Query: "oil prices", Alpha: 0.65, Corpus: "snapshot-2"},
		{Query: "oil prices", Alpha: 0.65, Variants: []string{"crude oil price movements"}},
	}

	for _, v := range variants {
		assert.NotEqual(t, Key(base), Key(v))
	}
}
