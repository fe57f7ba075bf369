package search

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/newsline/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n float64) time.Time {
	return testNow.Add(-time.Duration(n * 24 * float64(time.Hour)))
}

// memArticles is an in-memory store.ArticleStore.
type memArticles struct {
	byID    map[string]store.Article
	listErr error
}

func newMemArticles(articles ...store.Article) *memArticles {
	m := &memArticles{byID: make(map[string]store.Article)}
	for _, a := range articles {
		m.byID[a.ID] = a
	}
	return m
}

func (m *memArticles) Upsert(_ context.Context, articles []store.Article) error {
	for _, a := range articles {
		m.byID[a.ID] = a
	}
	return nil
}

func (m *memArticles) Get(_ context.Context, ids []string) (map[string]store.Article, error) {
	out := make(map[string]store.Article)
	for _, id := range ids {
		if a, ok := m.byID[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (m *memArticles) List(ctx context.Context, f store.ArticleFilter) ([]store.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []store.Article
	for _, a := range m.byID {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b store.Article) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *memArticles) Count(context.Context) (int, error) { return len(m.byID), nil }
func (m *memArticles) Close() error                        { return nil }

// fakeSparse returns fixed scores restricted to the universe. byQuery, when
// it has the query, overrides scores.
type fakeSparse struct {
	scores      map[string]float64
	byQuery     map[string]map[string]float64
	err         error
	fingerprint string
}

func (f *fakeSparse) Score(_ context.Context, query string, universe map[string]struct{}) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	scores := f.scores
	if s, ok := f.byQuery[query]; ok {
		scores = s
	}
	out := make(map[string]float64)
	for id, s := range scores {
		if _, ok := universe[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeSparse) Fingerprint() string {
	if f.fingerprint == "" {
		return "fake"
	}
	return f.fingerprint
}

// fakeVectors returns fixed neighbours filtered by publication window.
type fakeVectors struct {
	results   []store.VectorResult
	published map[string]time.Time
	err       error
}

func (f *fakeVectors) Add(context.Context, []string, [][]float32, []time.Time) error { return nil }

func (f *fakeVectors) Search(ctx context.Context, _ []float32, k int, filter store.VectorFilter) ([]store.VectorResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []store.VectorResult
	for _, r := range f.results {
		if filter.Matches(f.published[r.ID]) {
			out = append(out, r)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeVectors) Count() int   { return len(f.results) }
func (f *fakeVectors) Close() error { return nil }

// lookupVectors adds exact lookup by id to fakeVectors.
type lookupVectors struct {
	*fakeVectors
	vectors map[string][]float32
	lookups atomic.Int32
}

func (l *lookupVectors) Vectors(_ context.Context, ids []string) (map[string][]float32, error) {
	l.lookups.Add(1)
	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if v, ok := l.vectors[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// fakeEmbedder returns a constant vector or a fixed error.
type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, ctx.Err()
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                  { return 3 }
func (f *fakeEmbedder) ModelName() string                { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool { return f.err == nil }
func (f *fakeEmbedder) Close() error                     { return nil }

var errBoom = errors.New("boom")
