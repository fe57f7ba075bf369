// Package search implements hybrid retrieval over a news corpus: a sparse
// TF-IDF signal and a dense embedding signal, min-max normalized and mixed by
// a query-adaptive weight, followed by an optional recency rerank.
package search

import (
	"slices"
	"time"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

// QueryType is the classification label that selects the dense weight.
type QueryType string

const (
	// QueryTypeFactual asks for a specific fact or figure.
	QueryTypeFactual QueryType = "factual"

	// QueryTypeEntity centres on a named person, company or place.
	QueryTypeEntity QueryType = "entity"

	// QueryTypeConceptual asks about causes, ideas or explanations.
	QueryTypeConceptual QueryType = "conceptual"

	// QueryTypeTemporal asks about timing or sequence.
	QueryTypeTemporal QueryType = "temporal"

	// QueryTypeComparative compares two or more things.
	QueryTypeComparative QueryType = "comparative"

	// QueryTypeUnclassified is the fallback when no classifier produced a valid label.
	QueryTypeUnclassified QueryType = "unclassified"
)

// Labels returns the closed set a classifier may choose from.
func Labels() []QueryType {
	return []QueryType{
		QueryTypeFactual,
		QueryTypeEntity,
		QueryTypeConceptual,
		QueryTypeTemporal,
		QueryTypeComparative,
	}
}

// Valid reports whether q is one of Labels or unclassified.
func (q QueryType) Valid() bool {
	return q == QueryTypeUnclassified || slices.Contains(Labels(), q)
}

// DefaultAlpha is the dense weight per label.
func DefaultAlpha() map[QueryType]float64 {
	return map[QueryType]float64{
		QueryTypeConceptual:   0.8,
		QueryTypeFactual:      0.4,
		QueryTypeEntity:       0.3,
		QueryTypeTemporal:     0.6,
		QueryTypeComparative:  0.7,
		QueryTypeUnclassified: 0.65,
	}
}

// Filters bound the candidate universe. Nil or empty fields mean no constraint.
type Filters struct {
	From     *time.Time
	To       *time.Time
	Entities []string
	Authors  []string
}

// Validate rejects a date range whose end precedes its start.
func (f Filters) Validate() error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nerrors.InvalidFilter("filter end date precedes start date").
			WithDetail("from", f.From.Format(time.RFC3339)).
			WithDetail("to", f.To.Format(time.RFC3339))
	}
	return nil
}

func (f Filters) from() time.Time {
	if f.From == nil {
		return time.Time{}
	}
	return *f.From
}

func (f Filters) to() time.Time {
	if f.To == nil {
		return time.Time{}
	}
	return *f.To
}

// Request is one search.
type Request struct {
	Query   string
	Filters Filters

	// Limit is the number of results. Zero means the configured default.
	Limit int

	// Hint forces a label, skipping classification when valid.
	Hint QueryType

	// Alpha overrides the label's dense weight. Clamped to [0,1].
	Alpha *float64

	// Temporal overrides whether the recency rerank runs.
	Temporal *bool

	// Now is the instant ages are measured from. Zero means the engine clock.
	Now time.Time
}

// ScoredCandidate is one ranked article. It is not mutated after ranking.
type ScoredCandidate struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`

	Sparse     float64 `json:"sparse"`
	Dense      float64 `json:"dense"`
	HasSparse  bool    `json:"has_sparse"`
	HasDense   bool    `json:"has_dense"`
	SparseNorm float64 `json:"sparse_norm"`
	DenseNorm  float64 `json:"dense_norm"`

	Fused float64 `json:"fused"`

	// Temporal is set only when the recency rerank ran.
	Temporal        float64 `json:"temporal,omitempty"`
	TemporalApplied bool    `json:"temporal_applied,omitempty"`

	// Final is the ranking score: Fused, or the temporal blend when applied.
	Final float64 `json:"final"`

	// VariantHits counts the query variants that ranked the article. Zero
	// when the query was not expanded.
	VariantHits int `json:"variant_hits,omitempty"`
}

// Degradation records a signal or stage that fell back.
type Degradation struct {
	Component string `json:"component"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

// Degradation components.
const (
	ComponentClassifier = "classifier"
	ComponentDense      = "dense"
	ComponentSparse     = "sparse"
	ComponentCache      = "cache"
	ComponentEntities   = "entities"
	ComponentExpansion  = "expansion"
)

func degradation(component string, err error) Degradation {
	code := nerrors.GetCode(err)
	if code == "" {
		code = nerrors.ErrCodeInternal
	}
	return Degradation{Component: component, Code: code, Reason: err.Error()}
}

// Response is a ranked result set.
type Response struct {
	RequestID  string            `json:"request_id"`
	Query      string            `json:"query"`
	Label      QueryType         `json:"label"`
	LabelFrom  string            `json:"label_source"`
	Alpha      float64           `json:"alpha"`
	Temporal   bool              `json:"temporal"`
	Filters    Filters           `json:"-"`
	DateTerm   string            `json:"date_term,omitempty"`

	// Entities are the names extracted from the query. When the caller gave
	// no entity filter and the list is non-empty it becomes the filter, and
	// EntitiesApplied reports whether it stayed applied.
	Entities        []string `json:"entities,omitempty"`
	EntitiesApplied bool     `json:"entities_applied,omitempty"`

	// Expansions are the rewrites ranked alongside the query.
	Expansions []string `json:"expansions,omitempty"`

	Candidates []ScoredCandidate `json:"candidates"`
	Degraded   []Degradation     `json:"degraded,omitempty"`
	CacheHit   bool              `json:"cache_hit"`
	Took       time.Duration     `json:"took"`
}

// CachedResult is the value stored in the result cache.
type CachedResult struct {
	Candidates []ScoredCandidate `json:"candidates"`

	// EntitiesDropped is set when a filter derived from the query matched
	// nothing and the ranking ran without it.
	EntitiesDropped bool `json:"entities_dropped,omitempty"`
}

// CloneCachedResult deep-copies a cached result.
func CloneCachedResult(r CachedResult) CachedResult {
	r.Candidates = slices.Clone(r.Candidates)
	return r
}

// TemporalConfig configures the recency rerank.
type TemporalConfig struct {
	Enabled      bool
	HalfLifeDays float64
	Weight       float64
}

// EngineConfig carries every tunable the engine reads.
type EngineConfig struct {
	DefaultLimit int
	MaxLimit     int

	// CandidatePool is k for the nearest-neighbour query.
	CandidatePool int

	Alpha    map[QueryType]float64
	Temporal TemporalConfig

	EmbedTimeout  time.Duration
	VectorTimeout time.Duration

	// MaxQueryChars bounds the text sent to the embedder.
	MaxQueryChars int

	// ExpansionWeight is each rewrite's weight when merging variant
	// rankings; the original query weighs 1.
	ExpansionWeight float64

	// ConsensusBoost rewards articles ranked by several variants.
	ConsensusBoost float64
}

// DefaultEngineConfig returns the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:  10,
		MaxLimit:      100,
		CandidatePool: 100,
		Alpha:         DefaultAlpha(),
		Temporal: TemporalConfig{
			Enabled:      true,
			HalfLifeDays: 30,
			Weight:       0.3,
		},
		EmbedTimeout:    20 * time.Second,
		VectorTimeout:   10 * time.Second,
		MaxQueryChars:   2048,
		ExpansionWeight: DefaultExpansionWeight,
		ConsensusBoost:  DefaultConsensusBoost,
	}
}

// AlphaFor returns the dense weight for a label, falling back to unclassified.
func (c EngineConfig) AlphaFor(label QueryType) float64 {
	if a, ok := c.Alpha[label]; ok {
		return clamp01(a)
	}
	if a, ok := c.Alpha[QueryTypeUnclassified]; ok {
		return clamp01(a)
	}
	return DefaultAlpha()[QueryTypeUnclassified]
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}
