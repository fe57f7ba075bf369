package search

import (
	"slices"
	"strings"
	"time"
)

// Fuse mixes the two signals into a ranked candidate list.
//
// Each signal is min-max normalized over the candidates that carry it; a
// candidate missing a signal contributes 0 for it. When every carrier has
// the same raw score it normalizes to 1 if that score is positive, else 0.
//
//	fused = alpha·dense_norm + (1−alpha)·sparse_norm
//
// Output order is fused descending, then newer publication time, then
// article id ascending.
func Fuse(sparse, dense map[string]float64, published map[string]time.Time, alpha float64) []ScoredCandidate {
	alpha = clamp01(alpha)
	sparseNorm := minMax(sparse)
	denseNorm := minMax(dense)

	ids := make([]string, 0, len(sparse)+len(dense))
	for id := range sparse {
		ids = append(ids, id)
	}
	for id := range dense {
		if _, ok := sparse[id]; !ok {
			ids = append(ids, id)
		}
	}

	out := make([]ScoredCandidate, 0, len(ids))
	for _, id := range ids {
		c := ScoredCandidate{ArticleID: id, PublishedAt: published[id]}
		c.Sparse, c.HasSparse = sparse[id]
		c.Dense, c.HasDense = dense[id]
		c.SparseNorm = sparseNorm[id]
		c.DenseNorm = denseNorm[id]
		c.Fused = alpha*c.DenseNorm + (1-alpha)*c.SparseNorm
		c.Final = c.Fused
		out = append(out, c)
	}

	sortCandidates(out)
	return out
}

// minMax scales values into [0,1].
func minMax(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := 0.0, 0.0
	first := true
	for _, v := range scores {
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}

	for id, v := range scores {
		switch {
		case hi == lo && hi > 0:
			out[id] = 1
		case hi == lo:
			out[id] = 0
		default:
			out[id] = (v - lo) / (hi - lo)
		}
	}
	return out
}

// sortCandidates orders by Final descending with the deterministic tie-break.
func sortCandidates(cands []ScoredCandidate) {
	slices.SortStableFunc(cands, compareCandidates)
}

// compareCandidates returns <0 when a ranks before b.
//
// Priority:
//  1. Higher Final score
//  2. Newer publication time
//  3. Lexicographically smaller article id
func compareCandidates(a, b ScoredCandidate) int {
	if a.Final != b.Final {
		if a.Final > b.Final {
			return -1
		}
		return 1
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		if a.PublishedAt.After(b.PublishedAt) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ArticleID, b.ArticleID)
}
