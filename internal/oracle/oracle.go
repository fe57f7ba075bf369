// Package oracle defines the language-model collaborator used for query
// analysis (classification, entity extraction, expansion) and for timeline
// scoring (event similarity, topic importance, causal links). Every reply is
// parsed into a validated struct at the boundary; anything that does not fit
// becomes ERR_203_MALFORMED_UPSTREAM.
package oracle

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Oracle scores and classifies text. Implementations must be safe for concurrent use.
type Oracle interface {
	// Classify assigns the query one of req.Labels.
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error)

	// Similarity scores how likely each pair of texts describes the same occurrence.
	Similarity(ctx context.Context, req SimilarityRequest) (SimilarityResponse, error)

	// Importance scores each text's relevance to a topic.
	Importance(ctx context.Context, req ImportanceRequest) (ImportanceResponse, error)

	// Entities lists the people, companies, organisations and places named in a query.
	Entities(ctx context.Context, req EntitiesRequest) (EntitiesResponse, error)

	// Expand proposes alternative phrasings of a search query.
	Expand(ctx context.Context, req ExpandRequest) (ExpandResponse, error)

	// Relationships links causes to effects among chronologically ordered texts.
	Relationships(ctx context.Context, req RelationshipsRequest) (RelationshipsResponse, error)

	// Available reports whether the upstream is reachable.
	Available(ctx context.Context) bool
}

// ClassifyRequest asks for one label out of a closed set.
type ClassifyRequest struct {
	Query  string
	Labels []string
}

// ClassifyResponse is a validated classification. Label is always one of the
// requested labels and Confidence is in [0,1].
type ClassifyResponse struct {
	Label      string
	Confidence float64
}

// Pair indexes two entries of SimilarityRequest.Texts.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Ordered returns the pair with A <= B.
func (p Pair) Ordered() Pair {
	if p.A > p.B {
		return Pair{A: p.B, B: p.A}
	}
	return p
}

// SimilarityRequest asks for scores on specific pairs of texts.
type SimilarityRequest struct {
	Texts []string
	Pairs []Pair
}

// SimilarityResponse holds scores in [0,1] keyed by ordered pair.
// Pairs the upstream did not score validly are absent.
type SimilarityResponse struct {
	Scores map[Pair]float64
}

// ImportanceRequest asks how relevant each text is to a topic.
type ImportanceRequest struct {
	Topic string
	Texts []string
}

// ImportanceResponse holds scores in [0,1] keyed by text index.
// Texts the upstream did not score validly are absent.
type ImportanceResponse struct {
	Scores map[int]float64
}

// EntitiesRequest asks for the named entities in a query.
type EntitiesRequest struct {
	Query string
}

// EntitiesResponse holds trimmed, case-insensitively unique entity names.
// An empty list is a valid answer.
type EntitiesResponse struct {
	Entities []string
}

// ExpandRequest asks for up to Max alternative phrasings of Query.
// QueryType and Entities steer the rewrite and may be empty.
type ExpandRequest struct {
	Query     string
	QueryType string
	Entities  []string
	Max       int
}

// ExpandResponse holds alternatives only, never the original query. Each is
// between MinExpansionLen and MaxExpansionLen characters and unique ignoring case.
type ExpandResponse struct {
	Queries []string
}

// Causal link kinds.
const (
	LinkDirectCause  = "direct_cause"
	LinkContributing = "contributing_factor"
	LinkReaction     = "reaction"
)

// RelationshipsRequest lists texts in chronological order.
type RelationshipsRequest struct {
	Texts []string
}

// Link says the text at Cause led to the text at Effect.
type Link struct {
	Cause      int
	Effect     int
	Type       string
	Confidence float64
}

// RelationshipsResponse holds links between distinct valid indices, at most
// one per ordered pair. An empty list is a valid answer.
type RelationshipsResponse struct {
	Links []Link
}

// Bounds on expanded query length, in characters.
const (
	MinExpansionLen = 10
	MaxExpansionLen = 150

	// DefaultExpansions is used when ExpandRequest.Max is not positive.
	DefaultExpansions = 4

	maxEntities  = 10
	maxEntityLen = 100
)

var (
	listMarker = regexp.MustCompile(`^(?:\d+[.):]|[-*\x{2022}])\s*`)

	fillerPrefixes = []string{"okay", "the user", "let me", "first", "alternative", "here are"}
)

// cleanQueries strips list markers and quotes from model output, skips
// filler lines and anything out of bounds, and drops repeats of the
// original. At most limit entries are returned.
func cleanQueries(original string, raw []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultExpansions
	}
	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(original)): {}}
	out := make([]string, 0, limit)
	for _, q := range raw {
		q = strings.TrimSpace(q)
		q = listMarker.ReplaceAllString(q, "")
		q = strings.TrimSpace(strings.Trim(q, "\"'`"))
		lower := strings.ToLower(q)
		if hasFillerPrefix(lower) {
			continue
		}
		if n := utf8.RuneCountInString(q); n < MinExpansionLen || n > MaxExpansionLen {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

func hasFillerPrefix(lower string) bool {
	for _, p := range fillerPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// cleanEntities trims and dedupes entity names, keeping first spellings.
func cleanEntities(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		e = strings.TrimSpace(strings.Trim(strings.TrimSpace(e), "\"'`"))
		if e == "" || utf8.RuneCountInString(e) > maxEntityLen {
			continue
		}
		key := strings.ToLower(e)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
		if len(out) == maxEntities {
			break
		}
	}
	return out
}

// cleanLinks drops links with indices outside [0,n), self links, invalid
// confidence and repeated pairs. Unknown kinds become LinkContributing.
func cleanLinks(n int, raw []Link) []Link {
	seen := make(map[Pair]struct{}, len(raw))
	out := make([]Link, 0, len(raw))
	for _, l := range raw {
		if l.Cause < 0 || l.Cause >= n || l.Effect < 0 || l.Effect >= n || l.Cause == l.Effect {
			continue
		}
		if !validScore(l.Confidence) {
			continue
		}
		p := Pair{A: l.Cause, B: l.Effect}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		switch l.Type = strings.ToLower(strings.TrimSpace(l.Type)); l.Type {
		case LinkDirectCause, LinkContributing, LinkReaction:
		default:
			l.Type = LinkContributing
		}
		out = append(out, l)
	}
	return out
}

func validScore(f float64) bool {
	return f >= 0 && f <= 1
}
