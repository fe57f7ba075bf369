package search

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/store"
)

func newTestHNSW(t *testing.T) *store.HNSWStore {
	t.Helper()
	s, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.Add(context.Background(),
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {-1, 0, 0}},
		[]time.Time{daysAgo(1), daysAgo(10), daysAgo(100)},
	)
	require.NoError(t, err)
	return s
}

func TestDenseScorer_Similarities(t *testing.T) {
	// Given: three orthogonal or opposite articles
	d := NewDenseScorer(newTestHNSW(t), time.Second)

	// When: querying along the first axis
	scores, err := d.Score(context.Background(), []float32{1, 0, 0}, 10, store.VectorFilter{}, nil, nil)

	// Then: raw cosine similarities come back unnormalized
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.InDelta(t, 1.0, scores["a"], 1e-5)
	assert.InDelta(t, 0.0, scores["b"], 1e-5)
	assert.InDelta(t, -1.0, scores["c"], 1e-5)
}

func TestDenseScorer_RestrictedToUniverse(t *testing.T) {
	d := NewDenseScorer(newTestHNSW(t), 0)

	scores, err := d.Score(context.Background(), []float32{1, 0, 0}, 10, store.VectorFilter{},
		map[string]struct{}{"b": {}}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys(scores))
}

func TestDenseScorer_PublicationWindow(t *testing.T) {
	d := NewDenseScorer(newTestHNSW(t), 0)

	scores, err := d.Score(context.Background(), []float32{1, 0, 0}, 10,
		store.VectorFilter{From: daysAgo(30)}, nil, nil)

	require.NoError(t, err)
	assert.Contains(t, scores, "a")
	assert.Contains(t, scores, "b")
	assert.NotContains(t, scores, "c")
}

func TestDenseScorer_LooksUpRequestedIDs(t *testing.T) {
	// Given: k=1 so only the nearest article is returned by search
	d := NewDenseScorer(newTestHNSW(t), 0)

	// When: c was requested explicitly
	scores, err := d.Score(context.Background(), []float32{1, 0, 0}, 1, store.VectorFilter{}, nil, []string{"c"})

	// Then: c is scored exactly from its stored vector
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores["a"], 1e-5)
	assert.InDelta(t, -1.0, scores["c"], 1e-5)
	assert.NotContains(t, scores, "b")
}

func TestDenseScorer_RequestedOutsideUniverseSkipped(t *testing.T) {
	d := NewDenseScorer(newTestHNSW(t), 0)

	scores, err := d.Score(context.Background(), []float32{1, 0, 0}, 1, store.VectorFilter{},
		map[string]struct{}{"a": {}}, []string{"c"})

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys(scores))
}

func TestDenseScorer_DimensionMismatch(t *testing.T) {
	d := NewDenseScorer(newTestHNSW(t), 0)

	_, err := d.Score(context.Background(), []float32{1, 0}, 10, store.VectorFilter{}, nil, nil)

	require.Error(t, err)
	assert.Equal(t, nerrors.ErrCodeDimensionMismatch, nerrors.GetCode(err))
	var dm store.ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
}

func TestDenseScorer_StoreErrorClassified(t *testing.T) {
	d := NewDenseScorer(&fakeVectors{err: errBoom}, 0)

	_, err := d.Score(context.Background(), []float32{1, 0, 0}, 10, store.VectorFilter{}, nil, nil)

	assert.True(t, nerrors.HasCode(err, nerrors.ErrCodeUpstreamUnavailable))
	assert.ErrorIs(t, err, errBoom)
}

func TestDenseScorer_DropsNonFiniteSimilarities(t *testing.T) {
	vectors := &fakeVectors{results: []store.VectorResult{
		{ID: "ok", Similarity: 0.4},
		{ID: "nan", Similarity: float32(math.NaN())},
		{ID: "inf", Similarity: float32(math.Inf(1))},
		{ID: "over", Similarity: 1.5},
	}}
	d := NewDenseScorer(vectors, 0)

	scores, err := d.Score(context.Background(), []float32{1, 0, 0}, 10, store.VectorFilter{}, nil, []string{"missing"})

	require.NoError(t, err)
	assert.Len(t, scores, 2)
	assert.InDelta(t, 0.4, scores["ok"], 1e-6)
	assert.Equal(t, 1.0, scores["over"])
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{2, 0}, []float32{5, 0}), 1e-12)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 3}), 1e-12)
	assert.True(t, math.IsNaN(cosine([]float32{0, 0}, []float32{1, 0})))
	assert.True(t, math.IsNaN(cosine([]float32{1}, []float32{1, 0})))
}
