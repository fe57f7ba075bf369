package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/panjf2000/ants/v2"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/oracle"
	"github.com/Aman-CERP/newsline/internal/tokenize"
)

// pairScores holds a similarity for every unordered pair i<j.
type pairScores map[oracle.Pair]float64

// eventText is what both the oracle and the local metric compare.
func eventText(e Event) string {
	if len(e.Entities) == 0 {
		return e.Description
	}
	return e.Description + " (entities: " + strings.Join(e.Entities, ", ") + ")"
}

// localSimilarity is token-set Jaccard over description and entities.
func localSimilarity(a analysis.Analyzer, events []Event) pairScores {
	sets := make([]map[string]struct{}, len(events))
	for i, e := range events {
		sets[i] = tokenize.Set(a, e.Description+" "+strings.Join(e.Entities, " "))
	}
	out := make(pairScores, len(events)*(len(events)-1)/2)
	for i := range events {
		for j := i + 1; j < len(events); j++ {
			out[oracle.Pair{A: i, B: j}] = tokenize.Jaccard(sets[i], sets[j])
		}
	}
	return out
}

// oracleSimilarity asks the oracle for every pair in batches run on the
// pool. Pairs from failed batches are absent; the returned error describes
// the failures and is nil when every batch succeeded.
func (b *Builder) oracleSimilarity(ctx context.Context, events []Event) (pairScores, error) {
	texts := make([]string, len(events))
	for i, e := range events {
		texts[i] = eventText(e)
	}

	var pairs []oracle.Pair
	for i := range events {
		for j := i + 1; j < len(events); j++ {
			pairs = append(pairs, oracle.Pair{A: i, B: j})
		}
	}

	size := b.config.SimilarityBatchSize
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		scores = make(pairScores, len(pairs))
		errs   []error
		total  int
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for start := 0; start < len(pairs); start += size {
		batch := pairs[start:min(start+size, len(pairs))]
		total++
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			got, err := b.similarityBatch(ctx, texts, batch)
			if err != nil {
				fail(err)
				return
			}
			mu.Lock()
			for p, s := range got {
				scores[p] = s
			}
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit similarity batch: %w", err))
		}
	}
	wg.Wait()

	if len(errs) == 0 {
		return scores, nil
	}
	slog.Warn("oracle_similarity_degraded",
		slog.Int("failed_batches", len(errs)),
		slog.Int("batches", total))
	return scores, fmt.Errorf("%d of %d similarity batches failed: %w", len(errs), total, errors.Join(errs...))
}

func (b *Builder) similarityBatch(ctx context.Context, texts []string, batch []oracle.Pair) (pairScores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.config.OracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.OracleTimeout)
		defer cancel()
	}

	resp, err := b.oracle.Similarity(ctx, oracle.SimilarityRequest{Texts: texts, Pairs: batch})
	if err != nil {
		return nil, nerrors.Classify("oracle", err)
	}

	wanted := make(map[oracle.Pair]struct{}, len(batch))
	for _, p := range batch {
		wanted[p] = struct{}{}
	}
	out := make(pairScores, len(resp.Scores))
	for p, s := range resp.Scores {
		p = p.Ordered()
		if _, ok := wanted[p]; !ok || s < 0 || s > 1 {
			continue
		}
		out[p] = s
	}
	return out, nil
}

// similarities returns a score for every pair: the oracle's when it gave a
// valid one, the local metric otherwise. The two are never mixed for a pair.
func (b *Builder) similarities(ctx context.Context, events []Event) (pairScores, error) {
	scores := localSimilarity(b.analyzer, events)
	if !b.useOracle() || len(events) < 2 {
		return scores, nil
	}

	remote, err := b.oracleSimilarity(ctx, events)
	for p, s := range remote {
		scores[p] = s
	}
	return scores, err
}

func newPool(workers int) (*ants.Pool, error) {
	return ants.NewPool(workers,
		ants.WithPanicHandler(func(p any) {
			slog.Error("similarity_worker_panic", slog.Any("panic", p))
		}),
	)
}
