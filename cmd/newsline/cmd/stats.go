package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/output"
	"github.com/Aman-CERP/newsline/internal/store"
	"github.com/Aman-CERP/newsline/internal/telemetry"
)

func newStatsCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool
	var days int
	var top int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index and query statistics",
		Long: `Display index size and persisted query telemetry:
  - Query label distribution
  - Latency distribution
  - Degraded components and outcomes
  - Top query terms and recent zero-result queries`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runStats(ctx, cmd, g, jsonOutput, days, top)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&top, "top", 10, "Number of top terms and zero-result queries")

	return cmd
}

// StatsOutput is the JSON output format for stats.
type StatsOutput struct {
	Articles            int                   `json:"articles"`
	Vectors             int                   `json:"vectors"`
	From                string                `json:"from"`
	To                  string                `json:"to"`
	TotalQueries        int64                 `json:"total_queries"`
	LabelCounts         map[string]int64      `json:"label_counts"`
	LatencyDistribution map[string]int64      `json:"latency_distribution"`
	DegradedCounts      map[string]int64      `json:"degraded_counts"`
	Outcomes            map[string]int64      `json:"outcomes"`
	TopTerms            []telemetry.TermCount `json:"top_terms"`
	ZeroResultQueries   []string              `json:"zero_result_queries"`
}

func runStats(ctx context.Context, cmd *cobra.Command, g *globalOptions, jsonOutput bool, days, top int) error {
	if days <= 0 {
		return nerrors.InvalidInput(fmt.Sprintf("--days must be positive, got %d", days))
	}

	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}
	if !p.hasIndex() {
		return nerrors.InvalidInput("no index found in " + p.dataDir).
			WithSuggestion("Run 'newsline index <snapshot.jsonl>' first")
	}

	articles, err := store.NewSQLiteArticleStore(p.articlesPath())
	if err != nil {
		return nerrors.StoreFailure("failed to open article store", err)
	}
	defer func() { _ = articles.Close() }()

	ts, err := telemetry.NewSQLiteStore(ctx, articles.DB())
	if err != nil {
		return nerrors.StoreFailure("failed to open telemetry store", err)
	}

	stats, err := collectStats(ctx, articles, ts, time.Now(), days, top)
	if err != nil {
		return err
	}
	stats.Vectors = p.savedVectorCount()

	if jsonOutput {
		return output.New(cmd.OutOrStdout()).JSON(stats)
	}
	printStats(output.New(cmd.OutOrStdout()), stats)
	return nil
}

func collectStats(ctx context.Context, articles store.ArticleStore, ts *telemetry.SQLiteStore, now time.Time, days, top int) (*StatsOutput, error) {
	n, err := articles.Count(ctx)
	if err != nil {
		return nil, nerrors.StoreFailure("failed to count articles", err)
	}

	to := now.UTC()
	from := to.AddDate(0, 0, -(days - 1))
	out := &StatsOutput{
		Articles: n,
		From:     from.Format(time.DateOnly),
		To:       to.Format(time.DateOnly),
	}

	families := []struct {
		metric string
		dst    *map[string]int64
	}{
		{telemetry.MetricLabel, &out.LabelCounts},
		{telemetry.MetricLatency, &out.LatencyDistribution},
		{telemetry.MetricDegraded, &out.DegradedCounts},
		{telemetry.MetricOutcome, &out.Outcomes},
	}
	for _, f := range families {
		counts, err := ts.DailyCounts(ctx, f.metric, out.From, out.To)
		if err != nil {
			return nil, nerrors.StoreFailure("failed to read query telemetry", err)
		}
		*f.dst = counts
	}
	for _, c := range out.LabelCounts {
		out.TotalQueries += c
	}

	if out.TopTerms, err = ts.TopTerms(ctx, top); err != nil {
		return nil, nerrors.StoreFailure("failed to read top terms", err)
	}
	if out.ZeroResultQueries, err = ts.ZeroResultQueries(ctx, top); err != nil {
		return nil, nerrors.StoreFailure("failed to read zero-result queries", err)
	}
	return out, nil
}

// savedVectorCount reports the vectors in the saved local index, or 0 when
// vectors live elsewhere or were never saved.
func (p *project) savedVectorCount() int {
	s, err := p.loadSavedVectors()
	if err != nil || s == nil {
		return 0
	}
	defer func() { _ = s.Close() }()
	return s.Count()
}

// loadSavedVectors opens the saved local vector index with its recorded
// dimensions. It returns nil when nothing has been saved.
func (p *project) loadSavedVectors() (*store.HNSWStore, error) {
	dims, err := store.ReadHNSWStoreDimensions(p.vectorPath())
	if err != nil || dims == 0 {
		return nil, err
	}
	s, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}
	if err := s.Load(p.vectorPath()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func printStats(out *output.Writer, s *StatsOutput) {
	out.Statusf("📚", "Index: %d articles, %d vectors", s.Articles, s.Vectors)
	out.Statusf("📊", "Queries %s to %s: %d", s.From, s.To, s.TotalQueries)

	if s.TotalQueries == 0 {
		out.Status("", "No queries recorded in this window.")
		return
	}

	printCounts(out, "Labels", s.LabelCounts)
	printCounts(out, "Latency", s.LatencyDistribution)
	printCounts(out, "Outcomes", s.Outcomes)
	printCounts(out, "Degraded", s.DegradedCounts)

	if len(s.TopTerms) > 0 {
		out.Newline()
		out.Status("🔤", "Top terms:")
		for _, tc := range s.TopTerms {
			out.Statusf("", "  %-20s %d", tc.Term, tc.Count)
		}
	}
	if len(s.ZeroResultQueries) > 0 {
		out.Newline()
		out.Status("🚫", "Zero-result queries:")
		for _, q := range s.ZeroResultQueries {
			out.Statusf("", "  %q", q)
		}
	}
}

func printCounts(out *output.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	out.Newline()
	out.Statusf("", "%s:", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		out.Statusf("", "  %-20s %d", k, counts[k])
	}
}
