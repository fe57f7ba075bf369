package search

import (
	"math"
	"slices"
	"time"
)

// DefaultHalfLifeDays is used when a non-positive half-life is configured.
const DefaultHalfLifeDays = 30.0

// Rerank applies exponential recency decay and returns a re-sorted copy.
//
//	temporal = fused·exp(−ln2·age_days/half_life)
//	final    = (1−w)·fused + w·temporal
//
// Ages are measured from now, so reranking the same input at the same
// instant always yields the same order. Future timestamps have age 0 and a
// zero timestamp counts as infinitely old. The input is not modified.
func Rerank(cands []ScoredCandidate, now time.Time, cfg TemporalConfig) []ScoredCandidate {
	halfLife := cfg.HalfLifeDays
	if halfLife <= 0 {
		halfLife = DefaultHalfLifeDays
	}
	w := clamp01(cfg.Weight)

	out := slices.Clone(cands)
	for i := range out {
		c := &out[i]
		c.Temporal = c.Fused * Decay(c.PublishedAt, now, halfLife)
		c.TemporalApplied = true
		c.Final = (1-w)*c.Fused + w*c.Temporal
	}

	sortCandidates(out)
	return out
}

// Decay returns exp(−ln2·age_days/half_life) in [0,1].
func Decay(published, now time.Time, halfLifeDays float64) float64 {
	if published.IsZero() {
		return 0
	}
	ageDays := now.Sub(published).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / halfLifeDays)
}
