package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"

	"github.com/Aman-CERP/newsline/internal/tokenize"
)

// MaxNGram is the longest term n-gram in the sparse vocabulary.
const MaxNGram = 2

// SparseConfig bounds the TF-IDF vocabulary.
type SparseConfig struct {
	// MaxFeatures caps the vocabulary, keeping the most frequent terms.
	MaxFeatures int

	// MinDF drops terms in fewer documents than this.
	MinDF int

	// MaxDF drops terms in more than this fraction of documents.
	MaxDF float64
}

// DefaultSparseConfig returns the documented vocabulary bounds.
func DefaultSparseConfig() SparseConfig {
	return SparseConfig{MaxFeatures: 20000, MinDF: 2, MaxDF: 0.95}
}

// Document is one text in the sparse corpus.
type Document struct {
	ID   string
	Text string
}

type posting struct {
	doc    int
	weight float64
}

// SparseIndex is an immutable TF-IDF model over a corpus snapshot.
//
// Weights are raw term counts times smoothed IDF, ln((1+n)/(1+df)) + 1,
// with every document row L2-normalized. A query scores each document by
// the cosine between the two rows, so scores are in [0,1].
type SparseIndex struct {
	analyzer analysis.Analyzer
	vocab    map[string]int
	idf      []float64
	postings [][]posting
	ids      []string
	corpus   string
}

// BuildSparseIndex fits the vocabulary and weights. Documents with a
// repeated ID keep the last text.
func BuildSparseIndex(docs []Document, cfg SparseConfig) (*SparseIndex, error) {
	if cfg.MinDF < 1 {
		cfg.MinDF = 1
	}
	if cfg.MaxDF <= 0 || cfg.MaxDF > 1 {
		cfg.MaxDF = 1
	}
	if cfg.MaxFeatures <= 0 {
		return nil, fmt.Errorf("max features must be positive, got %d", cfg.MaxFeatures)
	}

	analyzer, err := tokenize.Default()
	if err != nil {
		return nil, err
	}

	docs = dedupeDocuments(docs)
	n := len(docs)

	fp := sha256.New()
	for _, d := range docs {
		fp.Write([]byte(d.ID))
		fp.Write([]byte{0})
		fp.Write([]byte(d.Text))
		fp.Write([]byte{0})
	}

	counts := make([]map[string]int, n)
	df := make(map[string]int)
	tf := make(map[string]int)
	for i, d := range docs {
		counts[i] = termCounts(analyzer, d.Text)
		for term, c := range counts[i] {
			df[term]++
			tf[term] += c
		}
	}

	maxDocs := cfg.MaxDF * float64(n)
	kept := make([]string, 0, len(df))
	for term, d := range df {
		if d >= cfg.MinDF && float64(d) <= maxDocs {
			kept = append(kept, term)
		}
	}

	slices.SortFunc(kept, func(a, b string) int {
		if tf[a] != tf[b] {
			return tf[b] - tf[a]
		}
		return strings.Compare(a, b)
	})
	if len(kept) > cfg.MaxFeatures {
		kept = kept[:cfg.MaxFeatures]
	}
	slices.Sort(kept)

	idx := &SparseIndex{
		analyzer: analyzer,
		vocab:    make(map[string]int, len(kept)),
		idf:      make([]float64, len(kept)),
		postings: make([][]posting, len(kept)),
		ids:      make([]string, n),
		corpus:   hex.EncodeToString(fp.Sum(nil)[:12]),
	}
	for i, term := range kept {
		idx.vocab[term] = i
		idx.idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	for i, d := range docs {
		idx.ids[i] = d.ID
		row := idx.weigh(counts[i])
		for term, w := range row {
			idx.postings[term] = append(idx.postings[term], posting{doc: i, weight: w})
		}
	}

	return idx, nil
}

// Score returns the cosine of the query against each document in universe.
// A nil universe means every document. Documents scoring zero are absent,
// so a query sharing no vocabulary with the corpus yields an empty map.
// The only error is a done context.
func (s *SparseIndex) Score(ctx context.Context, query string, universe map[string]struct{}) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := s.weigh(termCounts(s.analyzer, query))
	scores := make(map[string]float64)

	// Fixed term order keeps floating-point sums reproducible.
	terms := make([]int, 0, len(q))
	for term := range q {
		terms = append(terms, term)
	}
	slices.Sort(terms)

	for _, term := range terms {
		qw := q[term]
		for _, p := range s.postings[term] {
			id := s.ids[p.doc]
			if universe != nil {
				if _, ok := universe[id]; !ok {
					continue
				}
			}
			scores[id] += qw * p.weight
		}
	}

	for id, v := range scores {
		if v <= 0 {
			delete(scores, id)
		} else if v > 1 {
			scores[id] = 1
		}
	}
	return scores, nil
}

// VocabularySize returns the number of retained terms.
func (s *SparseIndex) VocabularySize() int {
	return len(s.vocab)
}

// Len returns the number of indexed documents.
func (s *SparseIndex) Len() int {
	return len(s.ids)
}

// Fingerprint identifies the corpus snapshot the index was built from.
// Identical documents in the same order produce the same fingerprint.
func (s *SparseIndex) Fingerprint() string {
	return s.corpus
}

// HasTerm reports whether term survived vocabulary pruning.
func (s *SparseIndex) HasTerm(term string) bool {
	_, ok := s.vocab[term]
	return ok
}

// weigh maps raw counts onto an L2-normalized TF-IDF row keyed by term index.
func (s *SparseIndex) weigh(counts map[string]int) map[int]float64 {
	row := make(map[int]float64, len(counts))
	keys := make([]int, 0, len(counts))
	for term, c := range counts {
		i, ok := s.vocab[term]
		if !ok {
			continue
		}
		row[i] = float64(c) * s.idf[i]
		keys = append(keys, i)
	}
	slices.Sort(keys)

	var norm float64
	for _, i := range keys {
		norm += row[i] * row[i]
	}
	if norm == 0 {
		return row
	}
	norm = math.Sqrt(norm)
	for i := range row {
		row[i] /= norm
	}
	return row
}

func termCounts(a analysis.Analyzer, text string) map[string]int {
	grams := tokenize.NGrams(tokenize.Terms(a, text), MaxNGram)
	counts := make(map[string]int, len(grams))
	for _, g := range grams {
		counts[g]++
	}
	return counts
}

func dedupeDocuments(docs []Document) []Document {
	pos := make(map[string]int, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if i, ok := pos[d.ID]; ok {
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}
