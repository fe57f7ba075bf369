package search

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/newsline/internal/oracle"
)

// Default expansion parameters.
const (
	// DefaultMaxVariants counts the original query.
	DefaultMaxVariants = 5

	// minVariants is the count below which template rewrites are added.
	minVariants = 3

	DefaultExpansionWeight = 0.5
	DefaultConsensusBoost  = 0.1
	DefaultExpansionCache  = 1000
)

// Expander rewrites a query into variants. The first variant is always the
// query itself. On error the returned slice holds the query alone.
type Expander interface {
	Expand(ctx context.Context, query string, label QueryType, entities []string) ([]string, error)
}

// =============================================================================
// OracleExpander
// =============================================================================

// OracleExpander asks the oracle for alternatives and tops up short answers
// with per-label templates. Successful expansions are cached.
type OracleExpander struct {
	oracle      oracle.Oracle
	maxVariants int
	cache       *lru.Cache[string, []string]
}

var _ Expander = (*OracleExpander)(nil)

// ExpanderOption configures an OracleExpander.
type ExpanderOption func(*OracleExpander)

// WithMaxVariants caps the variants returned, the original included.
func WithMaxVariants(n int) ExpanderOption {
	return func(x *OracleExpander) {
		if n > 0 {
			x.maxVariants = n
		}
	}
}

// WithExpansionCacheSize sets the LRU capacity.
func WithExpansionCacheSize(n int) ExpanderOption {
	return func(x *OracleExpander) {
		if n > 0 {
			x.cache, _ = lru.New[string, []string](n)
		}
	}
}

// NewOracleExpander wraps o.
func NewOracleExpander(o oracle.Oracle, opts ...ExpanderOption) *OracleExpander {
	cache, _ := lru.New[string, []string](DefaultExpansionCache)
	x := &OracleExpander{oracle: o, maxVariants: DefaultMaxVariants, cache: cache}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Expand returns the query followed by up to maxVariants-1 rewrites.
func (x *OracleExpander) Expand(ctx context.Context, query string, label QueryType, entities []string) ([]string, error) {
	query = strings.TrimSpace(query)
	only := []string{query}
	if query == "" || x.maxVariants < 2 {
		return only, nil
	}

	key := expansionKey(query, label, entities)
	if v, ok := x.cache.Get(key); ok {
		out := slices.Clone(v)
		out[0] = query
		return out, nil
	}

	queryType := string(label)
	if label == QueryTypeUnclassified {
		queryType = ""
	}
	resp, err := x.oracle.Expand(ctx, oracle.ExpandRequest{
		Query:     query,
		QueryType: queryType,
		Entities:  entities,
		Max:       x.maxVariants - 1,
	})
	if err != nil {
		slog.Debug("query_expansion_failed",
			slog.String("query", truncateQuery(query, 50)),
			slog.String("error", err.Error()))
		return only, err
	}

	variants := appendUnique(only, resp.Queries...)
	if len(variants) < minVariants {
		variants = appendUnique(variants, templateVariants(query, label, entities)...)
	}
	if len(variants) > x.maxVariants {
		variants = variants[:x.maxVariants]
	}

	slog.Debug("query_expanded",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("variants", len(variants)))

	x.cache.Add(key, slices.Clone(variants))
	return variants, nil
}

func expansionKey(query string, label QueryType, entities []string) string {
	ents := make([]string, len(entities))
	for i, e := range entities {
		ents[i] = strings.ToLower(strings.TrimSpace(e))
	}
	slices.Sort(ents)
	return normalizeQuery(query) + "\x00" + string(label) + "\x00" + strings.Join(ents, "\x1f")
}

// appendUnique appends each candidate not already present, ignoring case.
func appendUnique(dst []string, candidates ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(candidates))
	for _, q := range dst {
		seen[normalizeQuery(q)] = struct{}{}
	}
	for _, q := range candidates {
		key := normalizeQuery(q)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, strings.TrimSpace(q))
	}
	return dst
}

// templateVariants are the local rewrites used when the oracle returns too
// few alternatives. Unclassified queries get none.
func templateVariants(query string, label QueryType, entities []string) []string {
	switch label {
	case QueryTypeFactual:
		return []string{"latest news " + query, query + " recent developments"}
	case QueryTypeConceptual:
		return []string{query + " trends analysis", query + " industry impact"}
	case QueryTypeTemporal:
		return []string{query + " timeline", "chronology " + query}
	case QueryTypeComparative:
		return []string{query + " comparison analysis", query + " differences similarities"}
	case QueryTypeEntity:
		var out []string
		for _, ent := range entities[:min(2, len(entities))] {
			rest := strings.Join(strings.Fields(removeFold(query, ent)), " ")
			out = append(out, strings.TrimSpace(ent+" news "+rest))
		}
		return out
	default:
		return nil
	}
}

// removeFold deletes every case-insensitive occurrence of sub from s.
func removeFold(s, sub string) string {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return s
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(sub))
	if err != nil {
		return s
	}
	return re.ReplaceAllString(s, " ")
}

// =============================================================================
// Variant fusion
// =============================================================================

// VariantResult is the fused ranking for one query variant.
type VariantResult struct {
	Query   string
	Weight  float64
	Ranking []ScoredCandidate
}

// VariantFusion merges per-variant rankings into one.
//
//	merged(d) = Σ weight_i · fused_i(d) · (1 + boost · (hits − 1))
//
// where hits is the number of variants that ranked d. Merged scores are
// divided by the maximum so the best candidate scores 1. Each candidate
// keeps the per-signal fields of the highest weighted variant that ranked
// it, ties going to the higher fused score.
type VariantFusion struct {
	ConsensusBoost float64
}

// Merge returns a single ranking unchanged. Non-positive weights count as 1.
func (v VariantFusion) Merge(results []VariantResult) []ScoredCandidate {
	switch len(results) {
	case 0:
		return []ScoredCandidate{}
	case 1:
		return results[0].Ranking
	}

	type acc struct {
		rep       ScoredCandidate
		repWeight float64
		score     float64
		hits      int
	}
	merged := make(map[string]*acc)
	for _, r := range results {
		w := r.Weight
		if w <= 0 {
			w = 1
		}
		for _, c := range r.Ranking {
			a, ok := merged[c.ArticleID]
			if !ok {
				a = &acc{rep: c, repWeight: w}
				merged[c.ArticleID] = a
			} else if w > a.repWeight || (w == a.repWeight && c.Fused > a.rep.Fused) {
				a.rep, a.repWeight = c, w
			}
			a.score += w * c.Fused
			a.hits++
		}
	}

	out := make([]ScoredCandidate, 0, len(merged))
	best := 0.0
	for _, a := range merged {
		if a.hits > 1 {
			a.score *= 1 + max(0, v.ConsensusBoost)*float64(a.hits-1)
		}
		best = max(best, a.score)
	}
	for _, a := range merged {
		c := a.rep
		c.Fused = a.score
		if best > 0 {
			c.Fused = a.score / best
		}
		c.Final = c.Fused
		c.Temporal, c.TemporalApplied = 0, false
		c.VariantHits = a.hits
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}
