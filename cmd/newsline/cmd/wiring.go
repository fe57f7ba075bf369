package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/newsline/internal/cache"
	"github.com/Aman-CERP/newsline/internal/config"
	"github.com/Aman-CERP/newsline/internal/oracle"
	"github.com/Aman-CERP/newsline/internal/search"
	"github.com/Aman-CERP/newsline/internal/telemetry"
	"github.com/Aman-CERP/newsline/internal/timeline"
)

// The engines never read config.Config; these functions map it onto their parameters.

func engineConfig(cfg *config.Config) search.EngineConfig {
	ec := search.DefaultEngineConfig()
	ec.DefaultLimit = cfg.Search.DefaultLimit
	ec.MaxLimit = cfg.Search.MaxLimit
	ec.CandidatePool = cfg.Search.CandidatePool
	ec.Alpha = search.DefaultAlpha()
	for label, a := range cfg.Search.Alpha {
		ec.Alpha[search.QueryType(strings.ToLower(label))] = a
	}
	ec.Temporal = search.TemporalConfig{
		Enabled:      cfg.Search.Temporal.Enabled,
		HalfLifeDays: cfg.Search.Temporal.HalfLifeDays,
		Weight:       cfg.Search.Temporal.Weight,
	}
	ec.EmbedTimeout = cfg.Embeddings.Timeout
	ec.VectorTimeout = cfg.Vector.Timeout
	ec.MaxQueryChars = cfg.Embeddings.MaxSequenceChars
	ec.ExpansionWeight = cfg.Search.Expansion.Weight
	ec.ConsensusBoost = cfg.Search.Expansion.ConsensusBoost
	return ec
}

func sparseConfig(cfg *config.Config) search.SparseConfig {
	return search.SparseConfig{
		MaxFeatures: cfg.Search.MaxFeatures,
		MinDF:       cfg.Search.MinDF,
		MaxDF:       cfg.Search.MaxDF,
	}
}

func timelineConfig(cfg *config.Config) timeline.Config {
	tc := timeline.DefaultConfig()
	tc.DedupThreshold = cfg.Timeline.DedupThreshold
	tc.MinConfidence = cfg.Timeline.MinConfidence
	tc.ImportanceThreshold = cfg.Timeline.ImportanceThreshold
	tc.MaxEvents = cfg.Timeline.MaxEvents
	tc.SimilarityWorkers = cfg.Timeline.SimilarityWorkers
	tc.UseOracle = cfg.Timeline.UseOracle
	if cfg.Oracle.Timeout > 0 {
		tc.OracleTimeout = cfg.Oracle.Timeout
	}
	return tc
}

// newOracle returns nil when the configured provider cannot be built, which
// disables every oracle stage.
func newOracle(cfg *config.Config) oracle.Oracle {
	o, err := oracle.New(cfg.Oracle)
	if err != nil {
		slog.Warn("oracle_disabled", slog.String("error", err.Error()))
		return nil
	}
	return o
}

// engineRuntime is a search engine plus the background pieces it owns.
type engineRuntime struct {
	engine  *search.Engine
	local   *cache.ResultCache[search.CachedResult]
	janitor *cache.Janitor
	shared  *cache.RedisCache[search.CachedResult]
	metrics *telemetry.Metrics
}

// newEngineRuntime assembles the engine and the background pieces it owns.
func newEngineRuntime(ctx context.Context, cfg *config.Config, s *stores, sparse search.SparseScorer) (*engineRuntime, error) {
	rt := &engineRuntime{}

	local, err := cache.NewResultCache(cfg.Cache.Capacity, cfg.Cache.TTL,
		cache.WithClone[search.CachedResult](search.CloneCachedResult))
	if err != nil {
		return nil, err
	}
	rt.local = local

	var results cache.Store[search.CachedResult] = local
	if cfg.Cache.RedisAddr != "" {
		shared, err := cache.NewRedisCache[search.CachedResult](ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Cache.RedisPrefix,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			slog.Warn("shared_cache_disabled",
				slog.String("addr", cfg.Cache.RedisAddr),
				slog.String("error", err.Error()))
		} else {
			rt.shared = shared
			results = cache.NewTieredCache[search.CachedResult](local, shared)
		}
	}

	if cfg.Cache.SweepInterval > 0 {
		janitor, err := cache.NewJanitor(local, cfg.Cache.SweepInterval)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		janitor.Start()
		rt.janitor = janitor
	}

	o := newOracle(cfg)
	opts := []search.EngineOption{
		search.WithCache(results),
		search.WithClassifier(search.NewHybridClassifier(o, search.ClassifierConfig{
			UseOracle:     cfg.Classifier.UseOracle,
			MinConfidence: cfg.Classifier.MinConfidence,
			UsePatterns:   true,
			CacheSize:     cfg.Classifier.CacheSize,
		})),
	}
	if o != nil {
		if cfg.Search.ExtractEntities {
			opts = append(opts, search.WithEntityExtractor(
				search.NewOracleEntityExtractor(o, cfg.Classifier.CacheSize)))
		}
		if cfg.Search.Expansion.Enabled && cfg.Search.Expansion.MaxVariants > 1 {
			opts = append(opts, search.WithExpander(search.NewOracleExpander(o,
				search.WithMaxVariants(cfg.Search.Expansion.MaxVariants),
				search.WithExpansionCacheSize(cfg.Classifier.CacheSize))))
		}
	}

	if cfg.Telemetry.Enabled {
		ts, err := telemetry.NewSQLiteStore(ctx, s.articles.DB())
		if err != nil {
			slog.Warn("telemetry_disabled", slog.String("error", err.Error()))
		} else {
			rt.metrics = telemetry.New(ts, telemetry.DefaultConfig())
			opts = append(opts, search.WithMetrics(rt.metrics))
		}
	}

	engine, err := search.NewEngine(s.articles, sparse, s.vectors, s.embedder, engineConfig(cfg), opts...)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

// Close stops the janitor and flushes telemetry.
func (rt *engineRuntime) Close(ctx context.Context) {
	if rt.janitor != nil {
		rt.janitor.Stop(ctx)
	}
	if rt.metrics != nil {
		if err := rt.metrics.Close(ctx); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
	}
	if rt.shared != nil {
		_ = rt.shared.Close()
	}
}
