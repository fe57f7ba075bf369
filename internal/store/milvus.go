package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

// Milvus collection field names.
const (
	milvusFieldID        = "article_id"
	milvusFieldEmbedding = "embedding"
	milvusFieldPublished = "published_at"
)

// MilvusConfig configures the remote vector backend.
type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// MilvusStore implements VectorStore against a Milvus collection. Date
// windows are pushed down as a filter expression on published_at.
type MilvusStore struct {
	client *milvusclient.Client
	cfg    MilvusConfig
}

// NewMilvusStore connects to Milvus and ensures the collection exists and is loaded.
func NewMilvusStore(ctx context.Context, cfg MilvusConfig) (*MilvusStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	c, err := milvusclient.New(connectCtx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	s := &MilvusStore{client: c, cfg: cfg}
	if err := s.ensureCollection(connectCtx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	name := s.cfg.Collection
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription("newsline article embeddings").
			WithField(entity.NewField().
				WithName(milvusFieldID).
				WithDataType(entity.FieldTypeVarChar).
				WithIsPrimaryKey(true).
				WithMaxLength(128)).
			WithField(entity.NewField().
				WithName(milvusFieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(s.cfg.Dimensions))).
			WithField(entity.NewField().
				WithName(milvusFieldPublished).
				WithDataType(entity.FieldTypeInt64))

		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewIvfFlatIndex(entity.COSINE, 128)
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, milvusFieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Add upserts vectors keyed by article ID and flushes the collection.
func (s *MilvusStore) Add(ctx context.Context, ids []string, vectors [][]float32, published []time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(published) {
		return fmt.Errorf("ids, vectors and published length mismatch: %d, %d, %d",
			len(ids), len(vectors), len(published))
	}
	for _, v := range vectors {
		if len(v) != s.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(v)}
		}
	}

	times := make([]int64, len(published))
	for i, p := range published {
		times[i] = p.UTC().Unix()
	}

	columns := []column.Column{
		column.NewColumnVarChar(milvusFieldID, ids),
		column.NewColumnFloatVector(milvusFieldEmbedding, s.cfg.Dimensions, vectors),
		column.NewColumnInt64(milvusFieldPublished, times),
	}

	if _, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(s.cfg.Collection, columns...)); err != nil {
		return fmt.Errorf("failed to upsert into milvus: %w", err)
	}

	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(s.cfg.Collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// Search runs an ANN query with the date window as a filter expression.
// With the COSINE metric Milvus returns similarity directly as the score.
func (s *MilvusStore) Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]VectorResult, error) {
	if len(query) != s.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return []VectorResult{}, nil
	}

	opt := milvusclient.NewSearchOption(s.cfg.Collection, k, []entity.Vector{entity.FloatVector(query)}).
		WithANNSField(milvusFieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithOutputFields(milvusFieldID)
	if expr := milvusFilterExpr(filter); expr != "" {
		opt = opt.WithFilter(expr)
	}

	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}
	if len(results) == 0 {
		return []VectorResult{}, nil
	}

	rs := results[0]
	out := make([]VectorResult, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		var id string
		if col, ok := rs.IDs.(*column.ColumnVarChar); ok {
			id = col.Data()[i]
		}
		for _, field := range rs.Fields {
			if col, ok := field.(*column.ColumnVarChar); ok && col.Name() == milvusFieldID {
				id = col.Data()[i]
			}
		}
		if id == "" {
			continue
		}
		out = append(out, VectorResult{ID: id, Similarity: rs.Scores[i]})
	}
	return out, nil
}

// Count returns the collection row count, or 0 if stats are unavailable.
func (s *MilvusStore) Count() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	stats, err := s.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(s.cfg.Collection))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the client connection.
func (s *MilvusStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	return s.client.Close(ctx)
}

// milvusFilterExpr renders a publication window as a boolean expression.
// Times are compared at second precision.
func milvusFilterExpr(filter VectorFilter) string {
	var parts []string
	if !filter.From.IsZero() {
		parts = append(parts, fmt.Sprintf("%s >= %d", milvusFieldPublished, filter.From.UTC().Unix()))
	}
	if !filter.To.IsZero() {
		parts = append(parts, fmt.Sprintf("%s <= %d", milvusFieldPublished, filter.To.UTC().Unix()))
	}
	return strings.Join(parts, " && ")
}

var _ VectorStore = (*MilvusStore)(nil)
