package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/newsline/internal/cache"
	"github.com/Aman-CERP/newsline/internal/embed"
	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/index"
	"github.com/Aman-CERP/newsline/internal/preflight"
	"github.com/Aman-CERP/newsline/internal/search"
	"github.com/Aman-CERP/newsline/internal/store"
)

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics to ensure newsline can index and search.

Checks:
  - Disk space and write access for the data directory
  - File descriptor limit
  - Embedder reachability (required)
  - Oracle reachability (optional; searches fall back to patterns)
  - Redis and Milvus reachability, when configured
  - Article/vector consistency of an existing index`,
		Example: `  # Run diagnostics
  newsline doctor

  # JSON output for scripting
  newsline doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runDoctor(ctx, cmd, g, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// doctorReport is the JSON output of the doctor command.
type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func runDoctor(ctx context.Context, cmd *cobra.Command, g *globalOptions, verbose, jsonOutput bool) error {
	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}
	cfg := p.cfg

	opts := []preflight.Option{
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithVerbose(verbose),
	}

	embedder, embedErr := embed.NewEmbedder(ctx, cfg.Embeddings)
	if embedErr == nil {
		defer func() { _ = embedder.Close() }()
		opts = append(opts, preflight.WithUpstream("embedder", true, embedder,
			fmt.Sprintf("%s model %s", cfg.Embeddings.Provider, embedder.ModelName())))
	} else {
		opts = append(opts, preflight.WithUpstream("embedder", true, nil,
			"Start Ollama or set embeddings.provider: static"))
	}

	if strings.EqualFold(cfg.Oracle.Provider, "ollama") {
		if o := newOracle(cfg); o != nil {
			opts = append(opts, preflight.WithUpstream("oracle", false, o,
				fmt.Sprintf("Pull %s in Ollama or set oracle.provider: stub", cfg.Oracle.Model)))
		}
	}

	if cfg.Cache.RedisAddr != "" {
		opts = append(opts, preflight.WithUpstream("redis", false, preflight.PingFunc(func(ctx context.Context) bool {
			c, err := cache.NewRedisCache[search.CachedResult](ctx, cache.RedisConfig{
				Addr:     cfg.Cache.RedisAddr,
				Password: cfg.Cache.RedisPassword,
				DB:       cfg.Cache.RedisDB,
			})
			if err != nil {
				return false
			}
			_ = c.Close()
			return true
		}), "Results are cached locally only while Redis is down"))
	}

	if strings.EqualFold(cfg.Vector.Backend, "milvus") {
		dims := cfg.Embeddings.Dimensions
		if embedErr == nil {
			dims = embedder.Dimensions()
		}
		opts = append(opts, preflight.WithUpstream("vector_store", true, preflight.PingFunc(func(ctx context.Context) bool {
			s, err := store.NewMilvusStore(ctx, store.MilvusConfig{
				Address:    cfg.Vector.MilvusAddress,
				Collection: cfg.Vector.MilvusCollection,
				Dimensions: dims,
				Timeout:    cfg.Vector.Timeout,
			})
			if err != nil {
				return false
			}
			_ = s.Close()
			return true
		}), "Check vector.milvus_address"))
	} else if p.hasIndex() {
		articles, err := store.NewSQLiteArticleStore(p.articlesPath())
		if err != nil {
			return nerrors.StoreFailure("failed to open article store", err)
		}
		defer func() { _ = articles.Close() }()
		vectors, err := p.loadSavedVectors()
		if err != nil {
			return nerrors.StoreFailure("failed to load vectors", err)
		}
		if vectors == nil {
			vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(cfg.Embeddings.Dimensions))
			if err != nil {
				return err
			}
		}
		defer func() { _ = vectors.Close() }()
		opts = append(opts, preflight.WithIndex(index.NewConsistencyChecker(articles, vectors)))
	}

	checker := preflight.New(p.dataDir, opts...)
	results := checker.RunAll(ctx)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(doctorReport{Status: checker.SummaryStatus(results), Checks: results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return nerrors.New(nerrors.ErrCodeConfigInvalid, "system check failed", nil).
			WithSuggestion("Fix the FAIL items above and re-run 'newsline doctor'")
	}
	return nil
}
