// Package tokenize turns news text into normalized terms with a bleve
// analysis pipeline: unicode word segmentation, lowercasing and English
// stop-word removal.
package tokenize

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/registry"
)

// AnalyzerName is the name the news analyzer is registered under.
const AnalyzerName = "newsline_en"

var (
	defaultOnce     sync.Once
	defaultAnalyzer analysis.Analyzer
	defaultErr      error
)

// NewAnalyzer builds the news analyzer in a private registry cache.
func NewAnalyzer() (analysis.Analyzer, error) {
	cache := registry.NewCache()
	a, err := cache.DefineAnalyzer(AnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []interface{}{
			lowercase.Name,
			en.StopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("define analyzer %s: %w", AnalyzerName, err)
	}
	return a, nil
}

// Default returns a shared analyzer. Analyzers are safe for concurrent use.
func Default() (analysis.Analyzer, error) {
	defaultOnce.Do(func() {
		defaultAnalyzer, defaultErr = NewAnalyzer()
	})
	return defaultAnalyzer, defaultErr
}

// Terms returns the analyzed unigrams of text, in order.
func Terms(a analysis.Analyzer, text string) []string {
	stream := a.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// NGrams returns unigrams followed by adjacent n-grams up to order n,
// joined with a single space.
func NGrams(terms []string, n int) []string {
	if n < 1 {
		n = 1
	}
	out := make([]string, 0, len(terms)*n)
	out = append(out, terms...)
	for order := 2; order <= n; order++ {
		for i := 0; i+order <= len(terms); i++ {
			out = append(out, strings.Join(terms[i:i+order], " "))
		}
	}
	return out
}

// Set returns the distinct analyzed terms of text.
func Set(a analysis.Analyzer, text string) map[string]struct{} {
	terms := Terms(a, text)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard is |a ∩ b| / |a ∪ b|. Two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
