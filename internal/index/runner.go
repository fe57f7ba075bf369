package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Aman-CERP/newsline/internal/embed"
	"github.com/Aman-CERP/newsline/internal/output"
	"github.com/Aman-CERP/newsline/internal/store"
)

// File names inside the data directory.
const (
	ArticlesFileName = "articles.db"
	VectorsFileName  = "vectors.hnsw"
)

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// Input is a JSONL article snapshot, one store.Article per line.
	Input io.Reader

	// DataDir holds the lock file.
	DataDir string

	// VectorPath is where a local vector store is saved. Empty skips saving.
	VectorPath string

	// BatchSize is the number of articles per embedding request.
	BatchSize int

	// MaxSequenceChars truncates article text before embedding.
	MaxSequenceChars int

	// Wait blocks on a held lock instead of failing.
	Wait bool

	// InterBatchDelay is a pause between embedding batches.
	InterBatchDelay time.Duration
}

// RunnerResult contains the outcome of an indexing run.
type RunnerResult struct {
	// Articles is the number of articles read from the input.
	Articles int `json:"articles"`

	// Embedded counts vectors written, including repaired ones.
	Embedded int `json:"embedded"`

	// Repaired is the number of previously stored articles that had no vector.
	Repaired int `json:"repaired"`

	// OrphansRemoved is the number of vectors deleted because their article is gone.
	OrphansRemoved int `json:"orphans_removed"`

	// Total is the article count after the run.
	Total int `json:"total"`

	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	Duration   time.Duration `json:"duration"`
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Output receives progress. Optional.
	Output *output.Writer

	Articles store.ArticleStore
	Vector   store.VectorStore
	Embedder embed.Embedder
}

// Runner loads an article snapshot into the stores.
type Runner struct {
	out      *output.Writer
	articles store.ArticleStore
	vector   store.VectorStore
	embedder embed.Embedder
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Articles == nil {
		return nil, fmt.Errorf("article store is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Runner{
		out:      deps.Output,
		articles: deps.Articles,
		vector:   deps.Vector,
		embedder: deps.Embedder,
	}, nil
}

// vectorSaver is implemented by vector stores persisted to a local file.
type vectorSaver interface {
	Save(path string) error
}

// Run executes the pipeline: read, store, embed, repair, save.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	if cfg.Input == nil {
		return nil, fmt.Errorf("input is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	cfg.BatchSize = min(cfg.BatchSize, embed.MaxBatchSize)

	if cfg.DataDir != "" {
		lock := NewFileLock(cfg.DataDir)
		if cfg.Wait {
			if err := lock.Lock(); err != nil {
				return nil, err
			}
		} else {
			acquired, err := lock.TryLock()
			if err != nil {
				return nil, err
			}
			if !acquired {
				return nil, fmt.Errorf("another index run holds %s", lock.Path())
			}
		}
		defer func() { _ = lock.Unlock() }()
	}

	// Stage 1: read and store
	articles, err := store.ReadArticlesJSONL(cfg.Input)
	if err != nil {
		return nil, err
	}
	slog.Info("index_read_complete", slog.Int("articles", len(articles)))

	if len(articles) > 0 {
		if err := r.articles.Upsert(ctx, articles); err != nil {
			return nil, fmt.Errorf("failed to store articles: %w", err)
		}
	}

	// Stage 2: embed the snapshot
	embedded, err := r.embedArticles(ctx, articles, cfg, "Embedding articles")
	if err != nil {
		return nil, err
	}

	result := &RunnerResult{
		Articles:   len(articles),
		Embedded:   embedded,
		Model:      r.embedder.ModelName(),
		Dimensions: r.embedder.Dimensions(),
	}

	// Stage 3: repair articles stored by earlier runs without a vector
	if idx, ok := r.vector.(VectorIndex); ok {
		if err := r.repair(ctx, idx, cfg, result); err != nil {
			return nil, err
		}
	}

	// Stage 4: persist
	if saver, ok := r.vector.(vectorSaver); ok && cfg.VectorPath != "" {
		if err := saver.Save(cfg.VectorPath); err != nil {
			return nil, fmt.Errorf("failed to save vectors: %w", err)
		}
	}

	total, err := r.articles.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}
	result.Total = total
	result.Duration = time.Since(start)

	slog.Info("index_complete",
		slog.Int("articles", result.Articles),
		slog.Int("embedded", result.Embedded),
		slog.Int("repaired", result.Repaired),
		slog.Int("orphans_removed", result.OrphansRemoved),
		slog.Int("total", result.Total),
		slog.String("embedder_model", result.Model),
		slog.Int("embedder_dimensions", result.Dimensions),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))

	return result, nil
}

func (r *Runner) repair(ctx context.Context, idx VectorIndex, cfg RunnerConfig, result *RunnerResult) error {
	checker := NewConsistencyChecker(r.articles, idx)
	check, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	removed, err := checker.RemoveOrphans(ctx, check)
	if err != nil {
		return err
	}
	result.OrphansRemoved = removed

	missing := check.Missing()
	if len(missing) == 0 {
		return nil
	}
	byID, err := r.articles.Get(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to load articles for repair: %w", err)
	}
	toEmbed := make([]store.Article, 0, len(missing))
	for _, id := range missing {
		if a, ok := byID[id]; ok {
			toEmbed = append(toEmbed, a)
		}
	}

	slog.Info("index_repair_started", slog.Int("missing", len(toEmbed)))
	n, err := r.embedArticles(ctx, toEmbed, cfg, "Repairing vectors")
	if err != nil {
		return err
	}
	result.Repaired = n
	result.Embedded += n
	return nil
}

// embedArticles embeds articles in batches and adds them to the vector store.
func (r *Runner) embedArticles(ctx context.Context, articles []store.Article, cfg RunnerConfig, label string) (int, error) {
	embedded := 0
	r.progress(0, len(articles), label)

	for batchStart := 0; batchStart < len(articles); batchStart += cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			slog.Info("index_interrupted",
				slog.Int("embedded", embedded),
				slog.Int("total", len(articles)))
			return embedded, fmt.Errorf("indexing interrupted at %d/%d articles: %w", embedded, len(articles), err)
		}

		batch := articles[batchStart:min(batchStart+cfg.BatchSize, len(articles))]
		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		published := make([]time.Time, len(batch))
		for i, a := range batch {
			ids[i] = a.ID
			texts[i] = embed.Truncate(a.Text(), cfg.MaxSequenceChars)
			published[i] = a.PublishedAt
		}

		vectors, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return embedded, fmt.Errorf("failed to embed batch %d-%d: %w", batchStart, batchStart+len(batch), err)
		}
		if len(vectors) != len(batch) {
			return embedded, fmt.Errorf("embedder returned %d vectors for %d articles", len(vectors), len(batch))
		}
		if err := r.vector.Add(ctx, ids, vectors, published); err != nil {
			return embedded, fmt.Errorf("failed to add vectors: %w", err)
		}

		embedded += len(batch)
		r.progress(embedded, len(articles), label)

		if cfg.InterBatchDelay > 0 && embedded < len(articles) {
			select {
			case <-ctx.Done():
				return embedded, ctx.Err()
			case <-time.After(cfg.InterBatchDelay):
			}
		}
	}
	return embedded, nil
}

func (r *Runner) progress(current, total int, msg string) {
	if r.out != nil {
		r.out.Progress(current, total, msg)
	}
}
