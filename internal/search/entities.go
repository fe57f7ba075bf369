package search

import (
	"context"
	"log/slog"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/newsline/internal/oracle"
)

// DefaultEntityCacheSize bounds the extracted-entity LRU.
const DefaultEntityCacheSize = 1000

// EntityExtractor finds the named entities in a query. An empty result is
// a valid answer and means the query names nothing.
type EntityExtractor interface {
	Extract(ctx context.Context, query string) ([]string, error)
}

// OracleEntityExtractor asks the oracle and caches successful answers by
// normalized query. Failures are not cached.
type OracleEntityExtractor struct {
	oracle oracle.Oracle
	cache  *lru.Cache[string, []string]
}

var _ EntityExtractor = (*OracleEntityExtractor)(nil)

// NewOracleEntityExtractor wraps o. A non-positive size uses the default.
func NewOracleEntityExtractor(o oracle.Oracle, size int) *OracleEntityExtractor {
	if size <= 0 {
		size = DefaultEntityCacheSize
	}
	cache, _ := lru.New[string, []string](size)
	return &OracleEntityExtractor{oracle: o, cache: cache}
}

// Extract returns the oracle's entities for query.
func (x *OracleEntityExtractor) Extract(ctx context.Context, query string) ([]string, error) {
	key := normalizeQuery(query)
	if key == "" {
		return []string{}, nil
	}
	if ents, ok := x.cache.Get(key); ok {
		return slices.Clone(ents), nil
	}

	resp, err := x.oracle.Entities(ctx, oracle.EntitiesRequest{Query: query})
	if err != nil {
		slog.Debug("entity_extraction_failed",
			slog.String("query", truncateQuery(query, 50)),
			slog.String("error", err.Error()))
		return nil, err
	}
	ents := resp.Entities
	if ents == nil {
		ents = []string{}
	}
	x.cache.Add(key, slices.Clone(ents))
	return ents, nil
}
