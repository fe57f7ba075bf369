package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/index"
	"github.com/Aman-CERP/newsline/internal/output"
)

type indexOptions struct {
	force      bool
	wait       bool
	batchSize  int
	jsonOutput bool
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <snapshot.jsonl|->",
		Short: "Load a JSONL article snapshot into the local stores",
		Long: `Load articles into the article database and embed them into the vector index.

Each input line is one article:
  {"id": "a1", "title": "...", "content": "...", "author": "...",
   "published_at": "2024-03-01T09:00:00Z", "entities": ["..."]}

Articles are upserted by id, so re-running with a newer snapshot updates
changed articles. Stored articles without a vector are re-embedded and
vectors whose article is gone are removed.`,
		Example: `  newsline index articles.jsonl
  cat articles.jsonl | newsline index -
  newsline index articles.jsonl --force   # rebuild vectors after changing the embedder`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, g, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Discard saved vectors and re-embed everything")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for a concurrent index run instead of failing")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Articles per embedding request (default 32)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result as JSON")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globalOptions, source string, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}

	var input io.Reader = cmd.InOrStdin()
	if source != "-" {
		f, err := os.Open(source)
		if err != nil {
			return nerrors.InvalidInput(fmt.Sprintf("cannot open snapshot: %v", err))
		}
		defer func() { _ = f.Close() }()
		input = f
	}

	s, err := p.openStores(ctx, opts.force)
	if err != nil {
		return err
	}
	defer s.Close()

	deps := index.RunnerDependencies{
		Articles: s.articles,
		Vector:   s.vectors,
		Embedder: s.embedder,
	}
	if !opts.jsonOutput {
		deps.Output = out
	}
	runner, err := index.NewRunner(deps)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, index.RunnerConfig{
		Input:            input,
		DataDir:          p.dataDir,
		VectorPath:       p.vectorPath(),
		BatchSize:        opts.batchSize,
		MaxSequenceChars: p.cfg.Embeddings.MaxSequenceChars,
		Wait:             opts.wait,
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return out.JSON(result)
	}

	out.Successf("Indexed %d articles (%d in store)", result.Articles, result.Total)
	out.Statusf("🧮", "Embedded %d with %s (%d dims) in %s",
		result.Embedded, result.Model, result.Dimensions, result.Duration.Round(time.Millisecond))
	if result.Repaired > 0 || result.OrphansRemoved > 0 {
		out.Statusf("🔧", "Repaired %d missing vectors, removed %d orphans", result.Repaired, result.OrphansRemoved)
	}
	return nil
}
