package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/oracle"
)

// Default classifier configuration values.
const (
	DefaultClassifierCacheSize     = 1000
	DefaultClassifierMinConfidence = 0.5
)

// Classification sources.
const (
	SourceHint    = "hint"
	SourceOracle  = "oracle"
	SourcePattern = "pattern"
	SourceDefault = "default"
)

// Classification is a validated label.
type Classification struct {
	Label      QueryType
	Source     string
	Confidence float64

	// Fallback is set when a preferred source failed and a later one answered.
	Fallback error
}

// Classifier labels a query. Implementations never return a label outside
// Labels() plus unclassified.
type Classifier interface {
	Classify(ctx context.Context, query string) (Classification, error)
}

// ClassifierConfig configures the hybrid classifier.
type ClassifierConfig struct {
	// UseOracle enables the oracle stage.
	UseOracle bool

	// MinConfidence rejects oracle labels below this confidence.
	MinConfidence float64

	// UsePatterns enables the regex stage between oracle and default.
	UsePatterns bool

	CacheSize int
}

// DefaultClassifierConfig returns the defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		UseOracle:     true,
		MinConfidence: DefaultClassifierMinConfidence,
		UsePatterns:   true,
		CacheSize:     DefaultClassifierCacheSize,
	}
}

// =============================================================================
// OracleClassifier
// =============================================================================

// OracleClassifier asks the oracle for a label and validates the reply.
type OracleClassifier struct {
	oracle        oracle.Oracle
	minConfidence float64
}

// NewOracleClassifier wraps o. Labels below minConfidence are rejected.
func NewOracleClassifier(o oracle.Oracle, minConfidence float64) *OracleClassifier {
	return &OracleClassifier{oracle: o, minConfidence: minConfidence}
}

// Classify returns an error when the oracle fails, answers outside the
// label set, or is not confident enough.
func (c *OracleClassifier) Classify(ctx context.Context, query string) (Classification, error) {
	labels := Labels()
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}

	resp, err := c.oracle.Classify(ctx, oracle.ClassifyRequest{Query: query, Labels: names})
	if err != nil {
		return Classification{}, err
	}

	label := QueryType(strings.ToLower(resp.Label))
	if label == QueryTypeUnclassified || !label.Valid() {
		return Classification{}, nerrors.MalformedUpstream("oracle",
			fmt.Sprintf("label %q outside the label set", resp.Label), nil)
	}
	if resp.Confidence < c.minConfidence {
		return Classification{}, nerrors.New(nerrors.ErrCodeNoSignal,
			fmt.Sprintf("oracle confidence %.2f below %.2f", resp.Confidence, c.minConfidence), nil)
	}

	return Classification{Label: label, Source: SourceOracle, Confidence: resp.Confidence}, nil
}

var _ Classifier = (*OracleClassifier)(nil)

// =============================================================================
// HybridClassifier
// =============================================================================

// HybridClassifier tries the oracle, then patterns, then the default label.
// Results are cached in an LRU keyed by normalized query.
type HybridClassifier struct {
	oracle   *OracleClassifier
	patterns *PatternClassifier
	cache    *lru.Cache[string, Classification]
}

// NewHybridClassifier builds a classifier. A nil oracle disables that stage.
func NewHybridClassifier(o oracle.Oracle, cfg ClassifierConfig) *HybridClassifier {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultClassifierCacheSize
	}
	cache, _ := lru.New[string, Classification](size)

	h := &HybridClassifier{cache: cache}
	if o != nil && cfg.UseOracle {
		h.oracle = NewOracleClassifier(o, cfg.MinConfidence)
	}
	if cfg.UsePatterns {
		h.patterns = NewPatternClassifier()
	}
	return h
}

// Classify never returns an error. Oracle failures are reported through
// Classification.Fallback and are not cached, so a recovered oracle is
// consulted again on the next request.
func (h *HybridClassifier) Classify(ctx context.Context, query string) (Classification, error) {
	key := normalizeQuery(query)
	if key == "" {
		return defaultClassification(), nil
	}

	if c, ok := h.cache.Get(key); ok {
		return c, nil
	}

	var fallback error
	if h.oracle != nil {
		c, err := h.oracle.Classify(ctx, query)
		if err == nil {
			h.cache.Add(key, c)
			return c, nil
		}
		fallback = err
		slog.Debug("oracle_classification_failed",
			slog.String("query", truncateQuery(query, 50)),
			slog.String("error", err.Error()))
	}

	c := defaultClassification()
	if h.patterns != nil {
		c, _ = h.patterns.Classify(ctx, query)
	}
	c.Fallback = fallback

	if fallback == nil {
		h.cache.Add(key, c)
	}
	return c, nil
}

var _ Classifier = (*HybridClassifier)(nil)

func defaultClassification() Classification {
	return Classification{Label: QueryTypeUnclassified, Source: SourceDefault}
}

// normalizeQuery normalizes a query for cache key.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func truncateQuery(q string, n int) string {
	r := []rune(q)
	if len(r) <= n {
		return q
	}
	return string(r[:n]) + "..."
}
