package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/cache"
	"github.com/Aman-CERP/newsline/internal/embed"
	"github.com/Aman-CERP/newsline/internal/index"
	"github.com/Aman-CERP/newsline/internal/search"
	"github.com/Aman-CERP/newsline/internal/store"
	"github.com/Aman-CERP/newsline/internal/telemetry"
	"github.com/Aman-CERP/newsline/internal/testcorpus"
	"github.com/Aman-CERP/newsline/internal/timeline"
)

// Integration tests run the full flow: generated snapshot -> index runner
// -> sparse and dense signals -> engine -> timeline.

type pipeline struct {
	articles *store.SQLiteArticleStore
	vectors  *store.HNSWStore
	embedder embed.Embedder
	corpus   []store.Article
	opts     testcorpus.Options
	dataDir  string
}

func newPipeline(t *testing.T, n int) *pipeline {
	t.Helper()
	dataDir := t.TempDir()

	articles, err := store.NewSQLiteArticleStore(filepath.Join(dataDir, index.ArticlesFileName))
	require.NoError(t, err)
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vectors.Close()
		_ = articles.Close()
	})

	opts := testcorpus.DefaultOptions()
	opts.Articles = n
	return &pipeline{
		articles: articles,
		vectors:  vectors,
		embedder: embed.NewStaticEmbedder(embed.StaticDimensions),
		corpus:   testcorpus.Articles(opts),
		opts:     opts,
		dataDir:  dataDir,
	}
}

func (p *pipeline) index(t *testing.T) *index.RunnerResult {
	t.Helper()
	var snapshot bytes.Buffer
	require.NoError(t, testcorpus.WriteJSONL(&snapshot, p.corpus))

	runner, err := index.NewRunner(index.RunnerDependencies{
		Articles: p.articles,
		Vector:   p.vectors,
		Embedder: p.embedder,
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), index.RunnerConfig{
		Input:      &snapshot,
		DataDir:    p.dataDir,
		VectorPath: filepath.Join(p.dataDir, index.VectorsFileName),
		BatchSize:  16,
	})
	require.NoError(t, err)
	return result
}

func (p *pipeline) engine(t *testing.T, opts ...search.EngineOption) *search.Engine {
	t.Helper()
	sparse, err := search.BuildSparseIndexFromStore(context.Background(), p.articles, search.DefaultSparseConfig())
	require.NoError(t, err)

	now := p.opts.Start.Add(p.opts.Span)
	opts = append(opts, search.WithClock(func() time.Time { return now }))
	engine, err := search.NewEngine(p.articles, sparse, p.vectors, p.embedder, search.DefaultEngineConfig(), opts...)
	require.NoError(t, err)
	return engine
}

// =============================================================================
// Index and search
// =============================================================================

func TestIntegration_IndexAndSearch_FindsResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed corpus of 200 generated articles
	p := newPipeline(t, 200)
	result := p.index(t)
	require.Equal(t, 200, result.Total)
	require.Equal(t, 200, p.vectors.Count())

	engine := p.engine(t)

	// When: searching for a topic the generator writes about
	resp, err := engine.Search(context.Background(), search.Request{Query: "Federal Reserve interest rates", Limit: 10})
	require.NoError(t, err)

	// Then: results are ranked from both signals and nothing degraded
	require.NotEmpty(t, resp.Candidates)
	assert.LessOrEqual(t, len(resp.Candidates), 10)
	assert.Empty(t, resp.Degraded)
	for i := 1; i < len(resp.Candidates); i++ {
		assert.GreaterOrEqual(t, resp.Candidates[i-1].Final, resp.Candidates[i].Final)
	}
}

func TestIntegration_FiltersRestrictEveryCandidate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed corpus
	p := newPipeline(t, 200)
	p.index(t)
	engine := p.engine(t)

	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 8, 31, 23, 59, 59, 0, time.UTC)

	// When: restricting to a window and an entity
	resp, err := engine.Search(context.Background(), search.Request{
		Query:   "chip exports",
		Filters: search.Filters{From: &from, To: &to, Entities: []string{"Nvidia"}},
		Limit:   50,
	})
	require.NoError(t, err)

	// Then: every candidate satisfies the filters
	ids := make([]string, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		ids = append(ids, c.ArticleID)
	}
	got, err := p.articles.Get(context.Background(), ids)
	require.NoError(t, err)
	for _, a := range got {
		assert.False(t, a.PublishedAt.Before(from), a.ID)
		assert.False(t, a.PublishedAt.After(to), a.ID)
		assert.Contains(t, a.Entities, "Nvidia", a.ID)
	}
}

func TestIntegration_ReindexIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	p := newPipeline(t, 50)
	p.index(t)

	second := p.index(t)

	assert.Equal(t, 50, second.Total)
	assert.Equal(t, 50, p.vectors.Count())
	assert.Zero(t, second.OrphansRemoved)
}

// =============================================================================
// Caching and telemetry
// =============================================================================

func TestIntegration_SharedCacheAndTelemetry(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an engine with a local+Redis tiered cache and SQLite telemetry
	ctx := context.Background()
	p := newPipeline(t, 100)
	p.index(t)

	mr := miniredis.RunT(t)
	shared, err := cache.NewRedisCache[search.CachedResult](ctx, cache.RedisConfig{Addr: mr.Addr(), Prefix: "it", TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shared.Close() })
	local, err := cache.NewResultCache(64, time.Minute, cache.WithClone[search.CachedResult](search.CloneCachedResult))
	require.NoError(t, err)

	ts, err := telemetry.NewSQLiteStore(ctx, p.articles.DB())
	require.NoError(t, err)
	mcfg := telemetry.DefaultConfig()
	mcfg.FlushInterval = 0
	metrics := telemetry.New(ts, mcfg)

	engine := p.engine(t,
		search.WithCache(cache.NewTieredCache[search.CachedResult](local, shared)),
		search.WithMetrics(metrics))
	req := search.Request{Query: "antitrust review of the acquisition"}

	// When: the same query runs twice
	first, err := engine.Search(ctx, req)
	require.NoError(t, err)
	second, err := engine.Search(ctx, req)
	require.NoError(t, err)

	// Then: the second is served from cache with the same ranking
	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	require.Len(t, second.Candidates, len(first.Candidates))
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].ArticleID, second.Candidates[i].ArticleID)
	}
	assert.NotEmpty(t, mr.Keys())

	// And: both queries are persisted after a flush
	require.NoError(t, metrics.Close(ctx))
	day := time.Now().UTC().Format(time.DateOnly)
	labels, err := ts.DailyCounts(ctx, telemetry.MetricLabel, day, day)
	require.NoError(t, err)
	var total int64
	for _, n := range labels {
		total += n
	}
	assert.Equal(t, int64(2), total)
}

// =============================================================================
// Timeline
// =============================================================================

func TestIntegration_TimelineFromSearchResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: events extracted from the top search results for a topic
	ctx := context.Background()
	p := newPipeline(t, 150)
	p.index(t)
	engine := p.engine(t)

	topic := "central banks interest rates"
	resp, err := engine.Search(ctx, search.Request{Query: topic, Limit: 20})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)

	ids := make([]string, len(resp.Candidates))
	for i, c := range resp.Candidates {
		ids[i] = c.ArticleID
	}
	found, err := p.articles.Get(ctx, ids)
	require.NoError(t, err)
	hits := make([]store.Article, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, found[id])
	}
	events := testcorpus.Events(hits, 2, 5)

	cfg := timeline.DefaultConfig()
	cfg.UseOracle = false
	cfg.MinConfidence = 0
	cfg.ImportanceThreshold = 0
	builder, err := timeline.NewBuilder(nil, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = builder.Close() })

	// When: building the timeline
	tl, err := builder.Build(ctx, topic, events)
	require.NoError(t, err)

	// Then: dated events are in chronological order and every event cites
	// an article from the result set
	require.NotEmpty(t, tl.Events)
	var last time.Time
	for _, e := range tl.Events {
		if e.DateStatus != timeline.DateUnresolved && e.Date != nil {
			assert.False(t, e.Date.Before(last), e.Description)
			last = *e.Date
		}
		for _, src := range e.SourceArticleIDs {
			assert.Contains(t, ids, src)
		}
	}
}
