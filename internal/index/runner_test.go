package index

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/newsline/internal/embed"
	"github.com/Aman-CERP/newsline/internal/output"
	"github.com/Aman-CERP/newsline/internal/store"
)

const testDims = 32

const snapshot = `{"id":"a1","title":"Oil prices climb","content":"Brent rose after OPEC cut output.","published_at":"2024-03-01T09:00:00Z"}
{"id":"a2","title":"Chesapeake agrees merger","content":"The deal creates the largest gas producer.","published_at":"2024-01-11T12:00:00Z","entities":["Chesapeake","Southwestern"]}

{"id":"a3","title":"Regulators review deal","content":"The FTC opened a review.","published_at":"2024-02-20T15:30:00Z"}
`

// countingEmbedder records batch sizes and can fail on demand.
type countingEmbedder struct {
	embed.Embedder
	batches []int
	err     error
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, len(texts))
	if e.err != nil {
		return nil, e.err
	}
	return e.Embedder.EmbedBatch(ctx, texts)
}

type testStores struct {
	articles *store.SQLiteArticleStore
	vectors  *store.HNSWStore
	embedder *countingEmbedder
	dataDir  string
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	dataDir := t.TempDir()
	articles, err := store.NewSQLiteArticleStore(filepath.Join(dataDir, ArticlesFileName))
	require.NoError(t, err)
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = articles.Close()
		_ = vectors.Close()
	})
	return &testStores{
		articles: articles,
		vectors:  vectors,
		embedder: &countingEmbedder{Embedder: embed.NewStaticEmbedder(testDims)},
		dataDir:  dataDir,
	}
}

func (s *testStores) runner(t *testing.T, out *output.Writer) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerDependencies{
		Output:   out,
		Articles: s.articles,
		Vector:   s.vectors,
		Embedder: s.embedder,
	})
	require.NoError(t, err)
	return r
}

func (s *testStores) config(input string) RunnerConfig {
	return RunnerConfig{
		Input:      strings.NewReader(input),
		DataDir:    s.dataDir,
		VectorPath: filepath.Join(s.dataDir, VectorsFileName),
		BatchSize:  2,
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewRunner_RequiresDependencies(t *testing.T) {
	s := newTestStores(t)

	tests := []struct {
		name string
		deps RunnerDependencies
		want string
	}{
		{"articles", RunnerDependencies{Vector: s.vectors, Embedder: s.embedder}, "article store is required"},
		{"vector", RunnerDependencies{Articles: s.articles, Embedder: s.embedder}, "vector store is required"},
		{"embedder", RunnerDependencies{Articles: s.articles, Vector: s.vectors}, "embedder is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.deps)
			assert.EqualError(t, err, tt.want)
		})
	}
}

// =============================================================================
// Pipeline
// =============================================================================

func TestRunner_Run_IndexesSnapshot(t *testing.T) {
	// Given: a three-article snapshot and empty stores
	s := newTestStores(t)
	cfg := s.config(snapshot)

	// When: indexing with batches of two
	result, err := s.runner(t, nil).Run(context.Background(), cfg)

	// Then: every article is stored and embedded, and the vectors are saved
	require.NoError(t, err)
	assert.Equal(t, 3, result.Articles)
	assert.Equal(t, 3, result.Embedded)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, testDims, result.Dimensions)
	assert.Equal(t, []int{2, 1}, s.embedder.batches)
	assert.Equal(t, []string{"a1", "a2", "a3"}, s.vectors.AllIDs())

	dims, err := store.ReadHNSWStoreDimensions(cfg.VectorPath)
	require.NoError(t, err)
	assert.Equal(t, testDims, dims)

	got, err := s.articles.Get(context.Background(), []string{"a2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Chesapeake", "Southwestern"}, got["a2"].Entities)
}

func TestRunner_Run_VectorsCarryPublicationDate(t *testing.T) {
	s := newTestStores(t)
	_, err := s.runner(t, nil).Run(context.Background(), s.config(snapshot))
	require.NoError(t, err)

	query, err := s.embedder.Embed(context.Background(), "merger")
	require.NoError(t, err)
	results, err := s.vectors.Search(context.Background(), query, 3, store.VectorFilter{
		From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a3"}, ids)
}

func TestRunner_Run_RepairsMissingAndOrphanedVectors(t *testing.T) {
	// Given: an article stored without a vector and a vector without an article
	s := newTestStores(t)
	ctx := context.Background()
	require.NoError(t, s.articles.Upsert(ctx, []store.Article{
		{ID: "old", Title: "Earlier coverage", PublishedAt: time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)},
	}))
	ghost := make([]float32, testDims)
	ghost[0] = 1
	require.NoError(t, s.vectors.Add(ctx, []string{"ghost"}, [][]float32{ghost}, []time.Time{time.Now()}))

	// When: indexing a one-article snapshot
	input := `{"id":"new","title":"Fresh story","published_at":"2024-04-01T00:00:00Z"}`
	result, err := s.runner(t, nil).Run(ctx, s.config(input))

	// Then: the missing vector is embedded and the orphan removed
	require.NoError(t, err)
	assert.Equal(t, 1, result.Articles)
	assert.Equal(t, 1, result.Repaired)
	assert.Equal(t, 2, result.Embedded)
	assert.Equal(t, 1, result.OrphansRemoved)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, []string{"new", "old"}, s.vectors.AllIDs())
}

func TestRunner_Run_ReportsProgress(t *testing.T) {
	s := newTestStores(t)
	buf := &bytes.Buffer{}

	_, err := s.runner(t, output.NewWithColor(buf, false)).Run(context.Background(), s.config(snapshot))

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Embedding articles")
	assert.Contains(t, buf.String(), "100%")
}

func TestRunner_Run_EmptySnapshot(t *testing.T) {
	s := newTestStores(t)

	result, err := s.runner(t, nil).Run(context.Background(), s.config("\n\n"))

	require.NoError(t, err)
	assert.Zero(t, result.Articles)
	assert.Zero(t, result.Embedded)
	assert.Empty(t, s.embedder.batches)
}

// =============================================================================
// Failures
// =============================================================================

func TestRunner_Run_MalformedInputStoresNothing(t *testing.T) {
	s := newTestStores(t)
	input := `{"id":"a1","title":"ok"}` + "\n" + `{"id":`

	_, err := s.runner(t, nil).Run(context.Background(), s.config(input))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	n, err := s.articles.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunner_Run_EmbedderFailure(t *testing.T) {
	s := newTestStores(t)
	boom := errors.New("model offline")
	s.embedder.err = boom

	_, err := s.runner(t, nil).Run(context.Background(), s.config(snapshot))

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "batch 0-2")
	assert.Zero(t, s.vectors.Count())
}

func TestRunner_Run_LockHeld(t *testing.T) {
	// Given: another run holds the data directory
	s := newTestStores(t)
	held := NewFileLock(s.dataDir)
	require.NoError(t, held.Lock())
	defer func() { _ = held.Unlock() }()

	// When: indexing without waiting
	_, err := s.runner(t, nil).Run(context.Background(), s.config(snapshot))

	// Then: the run is refused before touching the stores
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another index run holds")
	assert.Empty(t, s.embedder.batches)
}

func TestRunner_Run_RequiresInput(t *testing.T) {
	s := newTestStores(t)

	_, err := s.runner(t, nil).Run(context.Background(), RunnerConfig{})

	assert.EqualError(t, err, "input is required")
}

func TestRunner_EmbedArticles_Cancelled(t *testing.T) {
	s := newTestStores(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := s.runner(t, nil).embedArticles(ctx, []store.Article{{ID: "a", Title: "t"}}, RunnerConfig{BatchSize: 1}, "x")

	assert.Zero(t, n)
	assert.ErrorIs(t, err, context.Canceled)
}
