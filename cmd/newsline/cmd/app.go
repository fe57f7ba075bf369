package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/newsline/internal/config"
	"github.com/Aman-CERP/newsline/internal/embed"
	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/index"
	"github.com/Aman-CERP/newsline/internal/store"
)

// project locates the project root, its data directory and configuration.
type project struct {
	root    string
	dataDir string
	cfg     *config.Config
}

func loadProject(dir string) (*project, error) {
	root, err := config.FindProjectRoot(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, nerrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Run 'newsline config show' to inspect the merged settings")
	}
	return &project{
		root:    root,
		dataDir: filepath.Join(root, config.DataDirName),
		cfg:     cfg,
	}, nil
}

func (p *project) articlesPath() string {
	return filepath.Join(p.dataDir, index.ArticlesFileName)
}

func (p *project) vectorPath() string {
	return filepath.Join(p.dataDir, index.VectorsFileName)
}

func (p *project) hasIndex() bool {
	_, err := os.Stat(p.articlesPath())
	return err == nil
}

// stores bundles the opened article store, vector store and embedder.
type stores struct {
	articles *store.SQLiteArticleStore
	vectors  store.VectorStore
	embedder embed.Embedder
}

// openStores opens everything a search or index run needs. fresh discards
// saved local vectors so a changed embedder can rebuild them.
func (p *project) openStores(ctx context.Context, fresh bool) (*stores, error) {
	if err := os.MkdirAll(p.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, p.cfg.Embeddings)
	if err != nil {
		return nil, nerrors.UpstreamUnavailable("embedder", err).
			WithSuggestion("Start Ollama or set embeddings.provider: static")
	}

	articles, err := store.NewSQLiteArticleStore(p.articlesPath())
	if err != nil {
		_ = embedder.Close()
		return nil, nerrors.StoreFailure("failed to open article store", err)
	}

	vectors, err := p.openVectors(ctx, embedder.Dimensions(), fresh)
	if err != nil {
		_ = articles.Close()
		_ = embedder.Close()
		return nil, err
	}

	slog.Debug("stores_opened",
		slog.String("data_dir", p.dataDir),
		slog.String("vector_backend", p.cfg.Vector.Backend),
		slog.String("embedder_model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	return &stores{articles: articles, vectors: vectors, embedder: embedder}, nil
}

func (p *project) openVectors(ctx context.Context, dims int, fresh bool) (store.VectorStore, error) {
	if strings.EqualFold(p.cfg.Vector.Backend, "milvus") {
		s, err := store.NewMilvusStore(ctx, store.MilvusConfig{
			Address:    p.cfg.Vector.MilvusAddress,
			Collection: p.cfg.Vector.MilvusCollection,
			Dimensions: dims,
			Timeout:    p.cfg.Vector.Timeout,
		})
		if err != nil {
			return nil, nerrors.Classify("milvus", err)
		}
		return s, nil
	}

	path := p.vectorPath()
	if fresh {
		for _, f := range []string{path, path + ".meta"} {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove %s: %w", f, err)
			}
		}
	}

	existing, err := store.ReadHNSWStoreDimensions(path)
	if err != nil {
		return nil, nerrors.StoreFailure("failed to read vector metadata", err)
	}
	if existing > 0 && existing != dims {
		return nil, nerrors.New(nerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vectors were built with %d dimensions, embedder produces %d", existing, dims),
			store.ErrDimensionMismatch{Expected: existing, Got: dims}).
			WithSuggestion("Re-run 'newsline index --force' with the current embedder")
	}

	s, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		if err := s.Load(path); err != nil {
			_ = s.Close()
			return nil, nerrors.StoreFailure("failed to load vectors", err)
		}
	}
	return s, nil
}

func (s *stores) Close() {
	_ = s.vectors.Close()
	_ = s.articles.Close()
	_ = s.embedder.Close()
}
