// Package telemetry records per-query search metrics.
// All data stays local: in memory, and optionally in the index SQLite database.
package telemetry

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/newsline/internal/tokenize"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketUnder50ms  LatencyBucket = "lt50ms"
	BucketUnder200ms LatencyBucket = "lt200ms"
	BucketUnder1s    LatencyBucket = "lt1s"
	BucketUnder5s    LatencyBucket = "lt5s"
	BucketSlow       LatencyBucket = "gte5s"
)

// LatencyToBucket maps a duration onto its bucket. Searches that embed the
// query and call the oracle are slow compared to pure lexical lookups, so
// the buckets are wide.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 50*time.Millisecond:
		return BucketUnder50ms
	case d < 200*time.Millisecond:
		return BucketUnder200ms
	case d < time.Second:
		return BucketUnder1s
	case d < 5*time.Second:
		return BucketUnder5s
	default:
		return BucketSlow
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent is one completed search.
type QueryEvent struct {
	Query string

	// Label is the classification label used for weighting.
	Label       string
	ResultCount int
	Latency     time.Duration

	// Degraded lists the components that failed soft.
	Degraded  []string
	CacheHit  bool
	Timestamp time.Time
}

// IsZeroResult reports whether the search returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// =============================================================================
// Ring
// =============================================================================

// Ring keeps the most recent items up to a fixed capacity.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	next  int
	count int
}

// NewRing creates a ring. Non-positive capacities default to 100.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends item, overwriting the oldest entry when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = item
	r.next = (r.next + 1) % len(r.buf)
	r.count = min(r.count+1, len(r.buf))
}

// Items returns the contents oldest first. Never nil.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := range r.count {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// =============================================================================
// Terms
// =============================================================================

// ExtractTerms returns the analyzed query terms used for the top-terms table.
// Terms shorter than three bytes are ignored.
func ExtractTerms(query string) []string {
	a, err := tokenize.Default()
	if err != nil {
		return nil
	}
	var terms []string
	for _, t := range tokenize.Terms(a, query) {
		if len(t) >= 3 {
			terms = append(terms, t)
		}
	}
	return terms
}

// TermCount is a term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable copy of the in-memory metrics.
type Snapshot struct {
	LabelCounts         map[string]int64        `json:"label_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	DegradedCounts      map[string]int64        `json:"degraded_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	CacheHits           int64                   `json:"cache_hits"`
	RepeatCount         int64                   `json:"repeat_count"`
	Since               time.Time               `json:"since"`
}

// CacheHitRate returns hits over total queries in [0,1].
func (s *Snapshot) CacheHitRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalQueries)
}

// ZeroResultPercentage returns the share of zero-result queries as a percentage.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// =============================================================================
// Store
// =============================================================================

// Daily counter families persisted by Store.
const (
	MetricLabel    = "label"
	MetricLatency  = "latency"
	MetricDegraded = "degraded"
	MetricOutcome  = "outcome"
)

// Store persists metric deltas.
type Store interface {
	// AddDailyCounts adds counts to the (date, metric, key) counters.
	AddDailyCounts(ctx context.Context, date, metric string, counts map[string]int64) error

	// DailyCounts sums a metric family over an inclusive date range.
	DailyCounts(ctx context.Context, metric, from, to string) (map[string]int64, error)

	// AddTermCounts adds to the per-term search counts.
	AddTermCounts(ctx context.Context, terms map[string]int64) error

	// TopTerms returns the most searched terms.
	TopTerms(ctx context.Context, limit int) ([]TermCount, error)

	// AddZeroResultQuery remembers a query that returned nothing.
	AddZeroResultQuery(ctx context.Context, query string, at time.Time) error

	// ZeroResultQueries returns recent zero-result queries, newest first.
	ZeroResultQueries(ctx context.Context, limit int) ([]string, error)
}

// =============================================================================
// Metrics
// =============================================================================

// Config configures the collector.
type Config struct {
	TopTermsCapacity    int           // distinct terms tracked in memory
	ZeroResultsCapacity int           // zero-result queries kept in memory
	RecentCapacity      int           // query hashes kept for repeat detection
	FlushInterval       time.Duration // 0 disables background flushing
	Now                 func() time.Time
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		RecentCapacity:      500,
		FlushInterval:       time.Minute,
		Now:                 time.Now,
	}
}

// counters is one set of additive tallies.
type counters struct {
	labels   map[string]int64
	latency  map[LatencyBucket]int64
	degraded map[string]int64
	outcome  map[string]int64
	terms    map[string]int64
	zero     []QueryEvent
}

func newCounters() counters {
	return counters{
		labels:   make(map[string]int64),
		latency:  make(map[LatencyBucket]int64),
		degraded: make(map[string]int64),
		outcome:  make(map[string]int64),
		terms:    make(map[string]int64),
	}
}

// Metrics aggregates query events in memory and flushes deltas to a Store.
// Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	labels    map[string]int64
	latency   map[LatencyBucket]int64
	degraded  map[string]int64
	topTerms  *lru.Cache[string, int64]
	zero      *Ring[string]
	recent    *lru.Cache[string, struct{}]
	total     int64
	zeroCount int64
	cacheHits int64
	repeats   int64
	startTime time.Time

	// pending holds deltas not yet written to store.
	pending counters
	closed  bool

	store    Store
	cfg      Config
	stop     chan struct{}
	loopDone chan struct{}
}

// New creates a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config) *Metrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = def.RecentCapacity
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentCapacity)

	m := &Metrics{
		labels:    make(map[string]int64),
		latency:   make(map[LatencyBucket]int64),
		degraded:  make(map[string]int64),
		topTerms:  topTerms,
		zero:      NewRing[string](cfg.ZeroResultsCapacity),
		recent:    recent,
		startTime: cfg.Now(),
		pending:   newCounters(),
		store:     store,
		cfg:       cfg,
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.loopDone)
	}
	return m
}

func (m *Metrics) flushLoop(interval time.Duration) {
	defer close(m.loopDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stop:
			return
		}
	}
}

// Record adds one query event. Never blocks on I/O.
func (m *Metrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = m.cfg.Now()
	}
	label := event.Label
	if label == "" {
		label = "unknown"
	}
	bucket := LatencyToBucket(event.Latency)
	terms := ExtractTerms(event.Query)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.labels[label]++
	m.latency[bucket]++
	m.pending.labels[label]++
	m.pending.latency[bucket]++

	for _, c := range event.Degraded {
		m.degraded[c]++
		m.pending.degraded[c]++
	}
	if len(event.Degraded) > 0 {
		m.pending.outcome["degraded"]++
	}

	if event.CacheHit {
		m.cacheHits++
		m.pending.outcome["cache_hit"]++
	}

	for _, t := range terms {
		n, _ := m.topTerms.Get(t)
		m.topTerms.Add(t, n+1)
		m.pending.terms[t]++
	}

	if event.IsZeroResult() {
		m.zeroCount++
		m.zero.Push(event.Query)
		m.pending.zero = append(m.pending.zero, event)
		m.pending.outcome["zero_result"]++
	}

	h := hashQuery(event.Query)
	if _, seen := m.recent.Get(h); seen {
		m.repeats++
	}
	m.recent.Add(h, struct{}{})
}

func hashQuery(query string) string {
	key := strings.Join(ExtractTerms(query), " ")
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(query))
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the in-memory totals.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var top []TermCount
	for _, term := range m.topTerms.Keys() {
		if n, ok := m.topTerms.Peek(term); ok {
			top = append(top, TermCount{Term: term, Count: n})
		}
	}
	slices.SortFunc(top, func(a, b TermCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Term, b.Term)
	})

	latency := make(map[LatencyBucket]int64, len(m.latency))
	for k, v := range m.latency {
		latency[k] = v
	}

	return &Snapshot{
		LabelCounts:         copyCounts(m.labels),
		LatencyDistribution: latency,
		DegradedCounts:      copyCounts(m.degraded),
		TopTerms:            top,
		ZeroResultQueries:   m.zero.Items(),
		TotalQueries:        m.total,
		ZeroResultCount:     m.zeroCount,
		CacheHits:           m.cacheHits,
		RepeatCount:         m.repeats,
		Since:               m.startTime,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Flush writes everything recorded since the previous flush. On failure the
// unwritten deltas are kept for the next attempt.
func (m *Metrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	batch := m.pending
	m.pending = newCounters()
	date := m.cfg.Now().UTC().Format(time.DateOnly)
	m.mu.Unlock()

	err := m.write(ctx, date, &batch)
	if err != nil {
		m.mu.Lock()
		m.requeue(batch)
		m.mu.Unlock()
	}
	return err
}

// write persists a batch, clearing each family once it is stored.
func (m *Metrics) write(ctx context.Context, date string, b *counters) error {
	latency := make(map[string]int64, len(b.latency))
	for k, v := range b.latency {
		latency[string(k)] = v
	}

	families := []struct {
		metric string
		counts map[string]int64
		clear  func()
	}{
		{MetricLabel, b.labels, func() { b.labels = map[string]int64{} }},
		{MetricLatency, latency, func() { b.latency = map[LatencyBucket]int64{} }},
		{MetricDegraded, b.degraded, func() { b.degraded = map[string]int64{} }},
		{MetricOutcome, b.outcome, func() { b.outcome = map[string]int64{} }},
	}
	for _, f := range families {
		if len(f.counts) == 0 {
			continue
		}
		if err := m.store.AddDailyCounts(ctx, date, f.metric, f.counts); err != nil {
			return err
		}
		f.clear()
	}

	if len(b.terms) > 0 {
		if err := m.store.AddTermCounts(ctx, b.terms); err != nil {
			return err
		}
		b.terms = map[string]int64{}
	}

	for len(b.zero) > 0 {
		ev := b.zero[0]
		if err := m.store.AddZeroResultQuery(ctx, ev.Query, ev.Timestamp); err != nil {
			return err
		}
		b.zero = b.zero[1:]
	}
	return nil
}

// requeue merges an unwritten batch back into pending. Caller holds mu.
func (m *Metrics) requeue(b counters) {
	merge := func(dst, src map[string]int64) {
		for k, v := range src {
			dst[k] += v
		}
	}
	merge(m.pending.labels, b.labels)
	merge(m.pending.degraded, b.degraded)
	merge(m.pending.outcome, b.outcome)
	merge(m.pending.terms, b.terms)
	for k, v := range b.latency {
		m.pending.latency[k] += v
	}
	m.pending.zero = append(b.zero, m.pending.zero...)
}

// Close stops background flushing and writes what is left.
func (m *Metrics) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.loopDone
	return m.Flush(ctx)
}
