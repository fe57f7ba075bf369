// Package store provides article persistence (SQLite) and vector search
// backends (local HNSW, Milvus) for the retrieval engine.
package store

import (
	"context"
	"fmt"
	"time"
)

// Article is one news article in the corpus snapshot.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Author      string    `json:"author,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Entities    []string  `json:"entities,omitempty"`
}

// Text returns the text used for sparse and dense indexing.
func (a Article) Text() string {
	if a.Title == "" {
		return a.Content
	}
	if a.Content == "" {
		return a.Title
	}
	return a.Title + "\n\n" + a.Content
}

// ArticleFilter narrows the candidate universe. Zero values mean "no constraint".
type ArticleFilter struct {
	From     time.Time
	To       time.Time
	Authors  []string
	Entities []string
}

// Matches reports whether a passes every constraint in f.
func (f ArticleFilter) Matches(a Article) bool {
	if !f.From.IsZero() && a.PublishedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.PublishedAt.After(f.To) {
		return false
	}
	if len(f.Authors) > 0 && !containsFold(f.Authors, a.Author) {
		return false
	}
	for _, e := range f.Entities {
		if !containsFold(a.Entities, e) {
			return false
		}
	}
	return true
}

// ArticleStore persists the corpus snapshot.
type ArticleStore interface {
	// Upsert inserts or replaces articles by ID.
	Upsert(ctx context.Context, articles []Article) error

	// Get returns the articles with the given IDs. Missing IDs are skipped.
	Get(ctx context.Context, ids []string) (map[string]Article, error)

	// List returns every article matching the filter, ordered by ID.
	List(ctx context.Context, filter ArticleFilter) ([]Article, error)

	// Count returns the number of stored articles.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}

// VectorFilter restricts nearest-neighbour search to a publication window.
type VectorFilter struct {
	From time.Time
	To   time.Time
}

// Matches reports whether a publication time falls inside the window.
func (f VectorFilter) Matches(published time.Time) bool {
	if !f.From.IsZero() && published.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && published.After(f.To) {
		return false
	}
	return true
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ID string
	// Similarity is the raw cosine similarity in [-1, 1].
	Similarity float32
}

// VectorStore provides approximate nearest-neighbour search over article vectors.
type VectorStore interface {
	// Add inserts vectors with their publication times. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32, published []time.Time) error

	// Search returns up to k neighbours of query inside the filter window,
	// ordered by similarity descending.
	Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]VectorResult, error)

	// Count returns the number of live vectors.
	Count() int

	// Close releases resources.
	Close() error
}

// VectorLookup is implemented by stores that can return stored vectors by ID.
type VectorLookup interface {
	Vectors(ctx context.Context, ids []string) (map[string][]float32, error)
}

// VectorStoreConfig configures the local HNSW store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// M is HNSW max connections per layer.
	M int

	// EfSearch is the search candidate list size.
	EfSearch int

	// Overfetch multiplies k when a date filter is active, since HNSW
	// cannot filter during traversal.
	Overfetch int
}

// DefaultVectorStoreConfig returns defaults for the local HNSW store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
		Overfetch:  4,
	}
}

// ErrDimensionMismatch is returned when a vector has the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
