// Package index loads article snapshots into the local stores and keeps
// the article database and the vector index in step.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/newsline/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector whose article is not in the database.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is an article with no vector.
	InconsistencyMissingVector
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type      InconsistencyType
	ArticleID string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of articles verified.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Missing returns the article IDs that have no vector.
func (r *CheckResult) Missing() []string {
	return r.idsOf(InconsistencyMissingVector)
}

// Orphans returns the vector IDs with no article.
func (r *CheckResult) Orphans() []string {
	return r.idsOf(InconsistencyOrphanVector)
}

func (r *CheckResult) idsOf(t InconsistencyType) []string {
	var ids []string
	for _, issue := range r.Inconsistencies {
		if issue.Type == t {
			ids = append(ids, issue.ArticleID)
		}
	}
	return ids
}

// VectorIndex is the part of a vector store the checker needs.
// store.HNSWStore implements it; remote stores do not enumerate IDs.
type VectorIndex interface {
	AllIDs() []string
	Delete(ctx context.Context, ids []string) error
}

// ConsistencyChecker compares the article database (source of truth)
// with the vector index.
type ConsistencyChecker struct {
	articles store.ArticleStore
	vectors  VectorIndex
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(articles store.ArticleStore, vectors VectorIndex) *ConsistencyChecker {
	return &ConsistencyChecker{articles: articles, vectors: vectors}
}

// Check lists orphaned and missing vectors. Issues are ordered by article ID
// within each type, orphans first.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	articles, err := c.articles.List(ctx, store.ArticleFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	known := make(map[string]bool, len(articles))
	for _, a := range articles {
		known[a.ID] = true
	}

	vectorIDs := c.vectors.AllIDs()
	indexed := make(map[string]bool, len(vectorIDs))

	var issues []Inconsistency
	for _, id := range vectorIDs {
		indexed[id] = true
		if !known[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, ArticleID: id})
		}
	}
	for _, a := range articles {
		if !indexed[a.ID] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, ArticleID: a.ID})
		}
	}

	return &CheckResult{
		Checked:         len(articles),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// RemoveOrphans deletes orphaned vectors. Missing vectors need the
// embedder, so the Runner handles those.
func (c *ConsistencyChecker) RemoveOrphans(ctx context.Context, result *CheckResult) (int, error) {
	orphans := result.Orphans()
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := c.vectors.Delete(ctx, orphans); err != nil {
		return 0, fmt.Errorf("failed to delete orphan vectors: %w", err)
	}
	slog.Info("deleted_orphan_vectors", slog.Int("count", len(orphans)))
	return len(orphans), nil
}
