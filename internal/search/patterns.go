package search

import (
	"context"
	"regexp"
	"strings"
)

// Compiled regex patterns for query classification.
var (
	// "BP vs Shell", "compare X and Y", "difference between"
	comparativePattern = regexp.MustCompile(`(?i)\b(vs\.?|versus|compare[ds]?|comparison|difference between|differ from|better than|worse than)\b`)

	// "when did", "timeline of", "since 2020", "last week", "after the merger"
	temporalPattern = regexp.MustCompile(`(?i)(^when\b|\btimeline\b|\bhistory of\b|\bsince\b|\bbefore\b|\bafter\b|\bduring\b|\bchronolog|\b(last|past|this|next)\s+(week|month|year|quarter)\b|\b(19|20)\d{2}\b|\byesterday\b|\bdays? ago\b)`)

	// "how many", "how much", "what is the price", numbers and percentages
	factualPattern = regexp.MustCompile(`(?i)(^how (many|much)\b|^what (is|was|are|were) the\b|\b\d+(\.\d+)?\s*(%|percent|million|billion|barrels)\b|\bhow (high|low|large)\b)`)

	// "who is", "who runs"
	whoPattern = regexp.MustCompile(`(?i)^who\s`)

	// Runs of capitalized words: "Royal Dutch Shell", "Federal Reserve"
	properNounPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z&.\-]+(\s+[A-Z][a-zA-Z&.\-]+)*\b`)

	// Questions about causes or explanations
	conceptualPattern = regexp.MustCompile(`(?i)^(why|how|what (impact|effect|role)|explain|describe)\b|\b(impact|effect|cause|implications?|reasons?)\b`)
)

// PatternClassifier classifies queries with regular expressions.
// It is the fallback when the oracle is unavailable or unsure.
type PatternClassifier struct{}

// NewPatternClassifier creates a new pattern-based classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify never returns an error.
func (p *PatternClassifier) Classify(_ context.Context, query string) (Classification, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return defaultClassification(), nil
	}

	label, confidence := p.classifyQuery(query)
	if label == QueryTypeUnclassified {
		return defaultClassification(), nil
	}
	return Classification{Label: label, Source: SourcePattern, Confidence: confidence}, nil
}

// classifyQuery checks the most specific patterns first.
func (p *PatternClassifier) classifyQuery(query string) (QueryType, float64) {
	switch {
	case comparativePattern.MatchString(query):
		return QueryTypeComparative, 0.8
	case temporalPattern.MatchString(query):
		return QueryTypeTemporal, 0.7
	case factualPattern.MatchString(query):
		return QueryTypeFactual, 0.7
	case whoPattern.MatchString(query) || p.isEntityQuery(query):
		return QueryTypeEntity, 0.6
	case conceptualPattern.MatchString(query):
		return QueryTypeConceptual, 0.6
	}

	// Longer natural-language queries lean on meaning rather than keywords.
	if len(strings.Fields(query)) >= 4 {
		return QueryTypeConceptual, 0.4
	}
	return QueryTypeUnclassified, 0
}

// isEntityQuery reports short queries made mostly of proper nouns.
func (p *PatternClassifier) isEntityQuery(query string) bool {
	words := strings.Fields(query)
	if len(words) > 4 {
		return false
	}

	capitalized := 0
	for _, m := range properNounPattern.FindAllString(query, -1) {
		capitalized += len(strings.Fields(m))
	}
	return capitalized*2 > len(words)
}

var _ Classifier = (*PatternClassifier)(nil)
