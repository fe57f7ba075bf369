// Package timeline turns extracted news events into an ordered, deduplicated
// timeline. Construction runs in stages: raw events are deduplicated into
// groups, the groups are dated, scored and filtered, ordered, and finally
// validated for causal consistency.
package timeline

import (
	"time"

	"github.com/Aman-CERP/newsline/internal/search"
)

// DefaultConfidence is assumed for events extracted without a confidence.
const DefaultConfidence = 0.5

// Event is one occurrence extracted from a single article.
type Event struct {
	// ID is unique within one Build call. Empty IDs are assigned from the
	// event's position.
	ID        string `json:"id,omitempty"`
	ArticleID string `json:"article_id"`

	Description string `json:"description"`

	// Date is the explicit date, if the extractor found one.
	Date *time.Time `json:"date,omitempty"`

	// DateEnd closes a date range that starts at Date.
	DateEnd *time.Time `json:"date_end,omitempty"`

	// DateText is the phrase the date came from, e.g. "January 11, 2024".
	DateText string `json:"date_text,omitempty"`

	// Confidence is in [0,1]. Nil means DefaultConfidence.
	Confidence *float64 `json:"confidence,omitempty"`

	Entities []string `json:"entities,omitempty"`

	// CausedBy lists the IDs of events that led to this one.
	CausedBy []string `json:"caused_by,omitempty"`
}

// DateStatus says where a merged event's date came from.
type DateStatus string

const (
	// DateExplicit is the median of the members' explicit dates.
	DateExplicit DateStatus = "explicit"

	// DateEstimated was parsed from a member's date text.
	DateEstimated DateStatus = "estimated"

	// DateUnresolved means no member carried any date.
	DateUnresolved DateStatus = "unresolved"
)

// Event types assigned by keyword.
const (
	TypeAnnouncement = "announcement"
	TypeTransaction  = "transaction"
	TypeDecision     = "decision"
	TypeRegulatory   = "regulatory"
	TypeMarketAction = "market_action"
	TypeGeneral      = "general"
)

// MergedEvent is one deduplication group.
type MergedEvent struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Date        *time.Time `json:"date,omitempty"`
	DateEnd     *time.Time `json:"date_end,omitempty"`
	DateText    string     `json:"date_text,omitempty"`
	DateStatus  DateStatus `json:"date_status"`
	Importance  float64    `json:"importance"`
	Confidence  float64    `json:"confidence"`
	EventType   string     `json:"event_type"`

	// SourceEventIDs are the absorbed events, in extraction order.
	SourceEventIDs []string `json:"source_event_ids"`

	// SourceArticleIDs are the distinct cited articles, sorted.
	SourceArticleIDs []string `json:"source_article_ids"`

	Entities []string `json:"entities,omitempty"`

	// CausedBy holds IDs of other merged events in this timeline.
	CausedBy []string `json:"caused_by,omitempty"`

	// first is the extraction index of the earliest member.
	first int
}

// Warning kinds.
const (
	WarnCausalOrder      = "causal_order"
	WarnUnknownReference = "unknown_reference"
)

// Warning is a consistency problem that does not stop construction.
type Warning struct {
	Kind    string `json:"kind"`
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

// DropReport counts merged groups removed by filtering, and the raw events they held.
type DropReport struct {
	LowConfidence int `json:"low_confidence"`
	Irrelevant    int `json:"irrelevant"`
	OverCap       int `json:"over_cap"`
	RawEvents     int `json:"raw_events"`
}

// Total is the number of dropped groups.
func (d DropReport) Total() int {
	return d.LowConfidence + d.Irrelevant + d.OverCap
}

// DateRange spans the dated events of a timeline.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Stats summarizes a built timeline.
type Stats struct {
	RawEvents      int       `json:"raw_events"`
	Groups         int       `json:"groups"`
	Total          int       `json:"total"`
	Dated          int       `json:"dated"`
	Estimated      int       `json:"estimated"`
	Unresolved     int       `json:"unresolved"`
	CausalLinks    int       `json:"causal_links"`
	DateRange      DateRange `json:"date_range"`
	MeanConfidence float64   `json:"mean_confidence"`
}

// Timeline is the final artifact.
type Timeline struct {
	ID     string        `json:"id"`
	Topic  string        `json:"topic"`
	Events []MergedEvent `json:"events"`

	// ConsistencyScore is 1 − contradictions/max(1, causal links).
	ConsistencyScore float64 `json:"consistency_score"`

	// CompletenessScore is the fraction of raw events kept.
	CompletenessScore float64 `json:"completeness_score"`

	Confidence float64              `json:"confidence"`
	DateRange  DateRange            `json:"date_range"`
	Warnings   []Warning            `json:"warnings,omitempty"`
	Dropped    DropReport           `json:"dropped"`
	Stats      Stats                `json:"stats"`
	Degraded   []search.Degradation `json:"degraded,omitempty"`
	Took       time.Duration        `json:"took"`
}

// Degradation components for the oracle stages.
const (
	ComponentSimilarity    = "oracle_similarity"
	ComponentImportance    = "oracle_importance"
	ComponentRelationships = "oracle_relationships"
)

// Config carries every tunable the builder reads.
type Config struct {
	// DedupThreshold merges two events whose similarity is at least this.
	DedupThreshold float64

	// MinConfidence drops groups whose mean confidence is below it.
	MinConfidence float64

	// ImportanceThreshold drops groups less relevant to the topic.
	ImportanceThreshold float64

	// MaxEvents caps the merged groups kept.
	MaxEvents int

	// UseOracle enables oracle similarity and importance scoring.
	UseOracle bool

	SimilarityWorkers   int
	SimilarityBatchSize int
	OracleTimeout       time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DedupThreshold:      0.8,
		MinConfidence:       0.5,
		ImportanceThreshold: 0.3,
		MaxEvents:           50,
		UseOracle:           true,
		SimilarityWorkers:   4,
		SimilarityBatchSize: 64,
		OracleTimeout:       60 * time.Second,
	}
}
