package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/newsline/internal/cache"
	"github.com/Aman-CERP/newsline/internal/embed"
	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/store"
	"github.com/Aman-CERP/newsline/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// SparseScorer scores a query against a fixed corpus snapshot.
type SparseScorer interface {
	Score(ctx context.Context, query string, universe map[string]struct{}) (map[string]float64, error)

	// Fingerprint identifies the snapshot; it is part of every cache key.
	Fingerprint() string
}

var _ SparseScorer = (*SparseIndex)(nil)

// MetricsRecorder receives one event per completed search.
type MetricsRecorder interface {
	Record(event telemetry.QueryEvent)
}

// Engine runs hybrid retrieval: analyze the query, score sparse and dense
// signals concurrently for each query variant, fuse, optionally rerank by
// recency, and memoize the result.
type Engine struct {
	articles   store.ArticleStore
	embedder   embed.Embedder
	dense      *DenseScorer
	classifier Classifier
	entities   EntityExtractor
	expander   Expander
	cache      cache.Store[CachedResult]
	metrics    MetricsRecorder
	config     EngineConfig
	now        func() time.Time

	mu     sync.RWMutex
	sparse SparseScorer
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithClassifier replaces the default pattern-only classifier.
func WithClassifier(c Classifier) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithEntityExtractor derives an entity filter from queries that carry none.
func WithEntityExtractor(x EntityExtractor) EngineOption {
	return func(e *Engine) {
		e.entities = x
	}
}

// WithExpander ranks rewrites of each query alongside the original.
func WithExpander(x Expander) EngineOption {
	return func(e *Engine) {
		e.expander = x
	}
}

// WithCache enables read-through result caching.
func WithCache(c cache.Store[CachedResult]) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithMetrics sets a query telemetry collector.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the source of the request-wide "now".
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a search engine. Articles, sparse, vectors and embedder
// are required.
func NewEngine(
	articles store.ArticleStore,
	sparse SparseScorer,
	vectors store.VectorStore,
	embedder embed.Embedder,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if articles == nil {
		return nil, fmt.Errorf("%w: article store is required", ErrNilDependency)
	}
	if sparse == nil {
		return nil, fmt.Errorf("%w: sparse scorer is required", ErrNilDependency)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	config = normalizeEngineConfig(config)
	e := &Engine{
		articles:   articles,
		embedder:   embedder,
		dense:      NewDenseScorer(vectors, config.VectorTimeout),
		classifier: NewHybridClassifier(nil, ClassifierConfig{UsePatterns: true}),
		config:     config,
		now:        time.Now,
		sparse:     sparse,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func normalizeEngineConfig(c EngineConfig) EngineConfig {
	def := DefaultEngineConfig()
	if c.MaxLimit <= 0 {
		c.MaxLimit = def.MaxLimit
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = def.DefaultLimit
	}
	c.DefaultLimit = min(c.DefaultLimit, c.MaxLimit)
	if c.CandidatePool <= 0 {
		c.CandidatePool = def.CandidatePool
	}
	if c.Alpha == nil {
		c.Alpha = DefaultAlpha()
	}
	if c.ExpansionWeight <= 0 {
		c.ExpansionWeight = def.ExpansionWeight
	}
	c.ConsensusBoost = max(0, c.ConsensusBoost)
	return c
}

// BuildSparseIndexFromStore fits a sparse index over every stored article.
func BuildSparseIndexFromStore(ctx context.Context, articles store.ArticleStore, cfg SparseConfig) (*SparseIndex, error) {
	all, err := articles.List(ctx, store.ArticleFilter{})
	if err != nil {
		return nil, nerrors.StoreFailure("list articles for sparse index", err)
	}
	docs := make([]Document, len(all))
	for i, a := range all {
		docs[i] = Document{ID: a.ID, Text: a.Text()}
	}
	return BuildSparseIndex(docs, cfg)
}

// SetSparse swaps in a scorer built from a newer corpus snapshot. Cached
// results from the old snapshot stop matching because the fingerprint is
// part of the key.
func (e *Engine) SetSparse(s SparseScorer) {
	if s == nil {
		return
	}
	e.mu.Lock()
	e.sparse = s
	e.mu.Unlock()
}

// Search ranks articles for one request.
//
// Invalid requests fail before any work. Query analysis (classification,
// entity extraction, expansion) never fails a request; a failed stage is
// tagged and skipped. When only one of the sparse and dense signals is
// available the response is degraded but still ranked; only when both fail
// is an ERR_503_NO_SIGNAL error returned.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	limit, err := e.validate(query, req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := req.Now
	if now.IsZero() {
		now = e.now()
	}

	resp := &Response{
		RequestID: uuid.NewString(),
		Query:     query,
		Filters:   req.Filters,
	}

	if resp.Filters.From == nil && resp.Filters.To == nil {
		if dr, ok := ExtractDateRange(query, now); ok {
			resp.Filters.From, resp.Filters.To = &dr.From, &dr.To
			resp.DateTerm = dr.Term
		}
	}

	cls, deg := e.classify(ctx, query, req.Hint)
	if deg != nil {
		resp.Degraded = append(resp.Degraded, *deg)
	}
	resp.Label, resp.LabelFrom = cls.Label, cls.Source

	extracted := e.extractEntities(ctx, query, resp)

	resp.Alpha = e.config.AlphaFor(cls.Label)
	if cls.Label == QueryTypeEntity && extracted && len(resp.Filters.Entities) == 0 {
		resp.Alpha = e.config.AlphaFor(QueryTypeUnclassified)
	}
	if req.Alpha != nil && !math.IsNaN(*req.Alpha) {
		resp.Alpha = clamp01(*req.Alpha)
	}
	resp.Temporal = e.config.Temporal.Enabled
	if req.Temporal != nil {
		resp.Temporal = *req.Temporal
	}

	variants := e.expand(ctx, query, cls.Label, resp)

	e.mu.RLock()
	sparse := e.sparse
	e.mu.RUnlock()

	key := cache.Key(cache.KeyParts{
		Query:    query,
		Variants: resp.Expansions,
		From:     resp.Filters.from(),
		To:       resp.Filters.to(),
		Entities: resp.Filters.Entities,
		Authors:  resp.Filters.Authors,
		Alpha:    resp.Alpha,
		Temporal: resp.Temporal,
		Corpus:   sparse.Fingerprint(),
	})

	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			resp.Degraded = append(resp.Degraded, degradation(ComponentCache, err))
		case ok:
			resp.CacheHit = true
			if cached.EntitiesDropped {
				dropDerivedEntities(resp)
			}
			resp.Candidates = truncate(slices.Clone(cached.Candidates), limit)
			return e.finish(resp, start), nil
		}
	}

	articles, err := e.universe(ctx, resp.Filters)
	if err != nil {
		return nil, err
	}
	entitiesDropped := false
	if len(articles) == 0 && resp.EntitiesApplied {
		slog.Debug("derived_entity_filter_matched_nothing",
			slog.String("request_id", resp.RequestID),
			slog.Any("entities", resp.Entities))
		dropDerivedEntities(resp)
		entitiesDropped = true
		if articles, err = e.universe(ctx, resp.Filters); err != nil {
			return nil, err
		}
	}

	ranked, signalDegraded, err := e.rank(ctx, sparse, variants, articles, resp.Filters, resp.Alpha, resp.Temporal, now)
	if err != nil {
		return nil, err
	}
	resp.Degraded = append(resp.Degraded, signalDegraded...)

	// A partial ranking is not memoized; the next request retries the missing signal.
	if e.cache != nil && len(signalDegraded) == 0 && ctx.Err() == nil {
		value := CachedResult{Candidates: slices.Clone(ranked), EntitiesDropped: entitiesDropped}
		if err := e.cache.Put(ctx, key, value); err != nil {
			slog.Warn("result_cache_put_failed",
				slog.String("request_id", resp.RequestID),
				slog.String("error", err.Error()))
			resp.Degraded = append(resp.Degraded, degradation(ComponentCache, err))
		}
	}

	resp.Candidates = truncate(ranked, limit)
	return e.finish(resp, start), nil
}

// validate returns the effective limit.
func (e *Engine) validate(query string, req Request) (int, error) {
	if query == "" {
		return 0, nerrors.New(nerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide search terms")
	}
	if req.Hint != "" && !req.Hint.Valid() {
		return 0, nerrors.InvalidInput(fmt.Sprintf("unknown query type %q", req.Hint))
	}
	if err := req.Filters.Validate(); err != nil {
		return 0, err
	}

	switch {
	case req.Limit < 0:
		return 0, nerrors.InvalidInput(fmt.Sprintf("limit must not be negative, got %d", req.Limit))
	case req.Limit == 0:
		return e.config.DefaultLimit, nil
	case req.Limit > e.config.MaxLimit:
		return 0, nerrors.LimitExceeded(req.Limit, e.config.MaxLimit)
	default:
		return req.Limit, nil
	}
}

// classify resolves the label. It never fails; problems become a degradation.
func (e *Engine) classify(ctx context.Context, query string, hint QueryType) (Classification, *Degradation) {
	if hint != "" {
		return Classification{Label: hint, Source: SourceHint, Confidence: 1}, nil
	}

	c, err := e.classifier.Classify(ctx, query)
	if err != nil {
		d := degradation(ComponentClassifier, err)
		return defaultClassification(), &d
	}
	if !c.Label.Valid() {
		d := degradation(ComponentClassifier,
			nerrors.MalformedUpstream("classifier", fmt.Sprintf("label %q outside the label set", c.Label), nil))
		return defaultClassification(), &d
	}
	if c.Fallback != nil {
		d := degradation(ComponentClassifier, c.Fallback)
		return c, &d
	}
	return c, nil
}

// extractEntities fills resp.Entities and, when non-empty, the entity
// filter. It runs only when the caller gave no entity filter and reports
// whether the extractor answered.
func (e *Engine) extractEntities(ctx context.Context, query string, resp *Response) bool {
	if e.entities == nil || len(resp.Filters.Entities) > 0 {
		return false
	}
	ents, err := e.entities.Extract(ctx, query)
	if err != nil {
		resp.Degraded = append(resp.Degraded, degradation(ComponentEntities, nerrors.Classify("oracle", err)))
		return false
	}
	resp.Entities = ents
	if len(ents) > 0 {
		resp.Filters.Entities = slices.Clone(ents)
		resp.EntitiesApplied = true
	}
	return true
}

func dropDerivedEntities(resp *Response) {
	resp.Filters.Entities = nil
	resp.EntitiesApplied = false
}

// expand returns the query variants, the query first, and records the
// rewrites on resp.
func (e *Engine) expand(ctx context.Context, query string, label QueryType, resp *Response) []string {
	if e.expander == nil {
		return []string{query}
	}
	variants, err := e.expander.Expand(ctx, query, label, resp.Filters.Entities)
	if err != nil {
		resp.Degraded = append(resp.Degraded, degradation(ComponentExpansion, nerrors.Classify("oracle", err)))
	}
	if len(variants) == 0 || variants[0] != query {
		variants = append([]string{query}, variants...)
	}
	resp.Expansions = variants[1:]
	return variants
}

// universe lists the articles the filters admit.
func (e *Engine) universe(ctx context.Context, f Filters) ([]store.Article, error) {
	articles, err := e.articles.List(ctx, store.ArticleFilter{
		From:     f.from(),
		To:       f.to(),
		Authors:  f.Authors,
		Entities: f.Entities,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, nerrors.StoreFailure("list candidate articles", err)
	}
	return articles, nil
}

// variantSignals holds both signals for one query variant.
type variantSignals struct {
	sparse, dense       map[string]float64
	sparseErr, denseErr error
}

// rank scores every variant over the universe, fuses each, merges the
// variant rankings and applies the recency rerank. variants[0] is the
// query as given.
func (e *Engine) rank(
	ctx context.Context,
	sparse SparseScorer,
	variants []string,
	articles []store.Article,
	f Filters,
	alpha float64,
	temporal bool,
	now time.Time,
) ([]ScoredCandidate, []Degradation, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(articles) == 0 {
		return []ScoredCandidate{}, nil, nil
	}

	universe := make(map[string]struct{}, len(articles))
	published := make(map[string]time.Time, len(articles))
	titles := make(map[string]string, len(articles))
	for _, a := range articles {
		universe[a.ID] = struct{}{}
		published[a.ID] = a.PublishedAt
		titles[a.ID] = a.Title
	}

	signals := make([]variantSignals, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range variants {
		g.Go(func() error {
			signals[i].sparse, signals[i].sparseErr = sparse.Score(gctx, q, universe)
			return nil
		})
		g.Go(func() error {
			signals[i].dense, signals[i].denseErr = e.scoreDense(gctx, q, f, universe)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		results             []VariantResult
		sparseErr, denseErr error
	)
	for i, sig := range signals {
		if sig.sparseErr != nil && sparseErr == nil {
			sparseErr = sig.sparseErr
		}
		if sig.denseErr != nil && denseErr == nil {
			denseErr = sig.denseErr
		}
		if sig.sparseErr != nil && sig.denseErr != nil {
			continue
		}
		weight := 1.0
		if i > 0 {
			weight = e.config.ExpansionWeight
		}
		results = append(results, VariantResult{
			Query:   variants[i],
			Weight:  weight,
			Ranking: Fuse(sig.sparse, sig.dense, published, alpha),
		})
	}

	if len(results) == 0 {
		return nil, nil, nerrors.New(nerrors.ErrCodeNoSignal,
			"neither sparse nor dense scoring produced a signal", errors.Join(sparseErr, denseErr))
	}
	var degraded []Degradation
	if sparseErr != nil {
		slog.Warn("sparse_scoring_failed", slog.String("error", sparseErr.Error()))
		degraded = append(degraded, degradation(ComponentSparse, sparseErr))
	}
	if denseErr != nil {
		slog.Warn("dense_scoring_failed", slog.String("error", denseErr.Error()))
		degraded = append(degraded, degradation(ComponentDense, denseErr))
	}

	ranked := VariantFusion{ConsensusBoost: e.config.ConsensusBoost}.Merge(results)
	if temporal {
		ranked = Rerank(ranked, now, e.config.Temporal)
	}
	for i := range ranked {
		ranked[i].Title = titles[ranked[i].ArticleID]
	}
	return ranked, degraded, nil
}

// scoreDense embeds the query under its own timeout, then asks the vector
// store. When the universe fits in the candidate pool, or an entity or
// author filter narrows it in ways the vector store cannot see, every
// universe member is requested so in-universe articles outside the nearest
// neighbours still get a dense score.
func (e *Engine) scoreDense(ctx context.Context, query string, f Filters, universe map[string]struct{}) (map[string]float64, error) {
	embedCtx := ctx
	if e.config.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, e.config.EmbedTimeout)
		defer cancel()
	}

	vec, err := e.embedder.Embed(embedCtx, embed.Truncate(query, e.config.MaxQueryChars))
	if err != nil {
		return nil, nerrors.Classify("embedder", err)
	}

	var requested []string
	if len(universe) <= e.config.CandidatePool || len(f.Entities) > 0 || len(f.Authors) > 0 {
		requested = make([]string, 0, len(universe))
		for id := range universe {
			requested = append(requested, id)
		}
		slices.Sort(requested)
	}

	filter := store.VectorFilter{From: f.from(), To: f.to()}
	return e.dense.Score(ctx, vec, e.config.CandidatePool, filter, universe, requested)
}

func (e *Engine) finish(resp *Response, start time.Time) *Response {
	resp.Took = time.Since(start)

	components := make([]string, len(resp.Degraded))
	for i, d := range resp.Degraded {
		components[i] = d.Component
	}

	slog.Debug("search_completed",
		slog.String("request_id", resp.RequestID),
		slog.String("label", string(resp.Label)),
		slog.Float64("alpha", resp.Alpha),
		slog.Bool("temporal", resp.Temporal),
		slog.Int("expansions", len(resp.Expansions)),
		slog.Int("entities", len(resp.Entities)),
		slog.Bool("cache_hit", resp.CacheHit),
		slog.Int("results", len(resp.Candidates)),
		slog.Any("degraded", components),
		slog.Duration("took", resp.Took))

	if e.metrics != nil {
		e.metrics.Record(telemetry.QueryEvent{
			Query:       resp.Query,
			Label:       string(resp.Label),
			ResultCount: len(resp.Candidates),
			Latency:     resp.Took,
			Degraded:    components,
			CacheHit:    resp.CacheHit,
		})
	}
	return resp
}

func truncate(cands []ScoredCandidate, limit int) []ScoredCandidate {
	if len(cands) > limit {
		return cands[:limit]
	}
	return cands
}
