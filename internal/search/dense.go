package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/store"
)

// DenseScorer turns nearest-neighbour hits into a similarity map.
// The vector store decides which articles are near; the scorer only
// validates the similarities it gets back.
type DenseScorer struct {
	vectors store.VectorStore
	timeout time.Duration
}

// NewDenseScorer wraps a vector store. A non-positive timeout disables the per-call deadline.
func NewDenseScorer(vectors store.VectorStore, timeout time.Duration) *DenseScorer {
	return &DenseScorer{vectors: vectors, timeout: timeout}
}

// Score returns id → cosine similarity in [-1,1] for the k nearest articles
// inside filter, restricted to universe (nil means unrestricted).
//
// Requested ids the search did not return are scored exactly when the
// store implements store.VectorLookup. Non-finite similarities are dropped.
func (d *DenseScorer) Score(
	ctx context.Context,
	query []float32,
	k int,
	filter store.VectorFilter,
	universe map[string]struct{},
	requested []string,
) (map[string]float64, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	results, err := d.vectors.Search(ctx, query, k, filter)
	if err != nil {
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			return nil, nerrors.New(nerrors.ErrCodeDimensionMismatch, "query vector does not match the index", err).
				WithSuggestion("Re-run 'newsline index' with the current embedding model")
		}
		return nil, nerrors.Classify("vector", err)
	}

	scores := make(map[string]float64, len(results))
	for _, r := range results {
		if !inUniverse(universe, r.ID) {
			continue
		}
		if s, ok := validSimilarity(float64(r.Similarity)); ok {
			scores[r.ID] = s
		}
	}

	var missing []string
	for _, id := range requested {
		if _, ok := scores[id]; !ok && inUniverse(universe, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return scores, nil
	}

	lookup, ok := d.vectors.(store.VectorLookup)
	if !ok {
		return scores, nil
	}
	vecs, err := lookup.Vectors(ctx, missing)
	if err != nil {
		return nil, nerrors.Classify("vector", fmt.Errorf("lookup requested vectors: %w", err))
	}
	for id, v := range vecs {
		if s, ok := validSimilarity(cosine(query, v)); ok {
			scores[id] = s
		}
	}
	return scores, nil
}

func inUniverse(universe map[string]struct{}, id string) bool {
	if universe == nil {
		return true
	}
	_, ok := universe[id]
	return ok
}

func validSimilarity(s float64) (float64, bool) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, false
	}
	return max(-1, min(1, s)), true
}

// cosine returns NaN when either vector has zero length or the dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
