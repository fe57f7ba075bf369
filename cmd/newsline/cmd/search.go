package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/output"
	"github.com/Aman-CERP/newsline/internal/search"
)

type searchOptions struct {
	limit       int
	from        string
	to          string
	asOf        string
	entities    []string
	authors     []string
	hint        string
	alpha       float64
	temporal    bool
	jsonOutput  bool
	verbose     bool
	interactive bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank indexed articles for a query",
		Long: `Search ranks indexed articles by fusing keyword and embedding similarity.

The dense weight follows the query type (factual, entity, conceptual,
temporal, comparative) unless --alpha is given. Relative date phrases in
the query ("last month", "in 2023") narrow the candidate window.
With an oracle configured, entities named in the query become a filter
when --entity is not given, and the query is also searched through a few
rewrites whose rankings are merged.

Examples:
  newsline search "why did oil prices fall"
  newsline search "Chesapeake merger" --from 2024-01-01 --entity Chesapeake
  newsline search -i`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.interactive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, g, opts, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.limit, "limit", "n", 0, "Number of results (default from config)")
	f.StringVar(&opts.from, "from", "", "Earliest publication date (YYYY-MM-DD)")
	f.StringVar(&opts.to, "to", "", "Latest publication date (YYYY-MM-DD)")
	f.StringVar(&opts.asOf, "as-of", "", "Measure recency and relative dates from this day (YYYY-MM-DD)")
	f.StringSliceVar(&opts.entities, "entity", nil, "Only articles mentioning this entity (repeatable)")
	f.StringSliceVar(&opts.authors, "author", nil, "Only articles by this author (repeatable)")
	f.StringVar(&opts.hint, "type", "", "Force the query type: factual, entity, conceptual, temporal, comparative")
	f.Float64Var(&opts.alpha, "alpha", 0, "Override the dense weight in [0,1]")
	f.BoolVar(&opts.temporal, "temporal", true, "Enable or disable the recency rerank")
	f.BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Show per-signal scores")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "Read queries from stdin, one per line")

	return cmd
}

func runSearch(cmd *cobra.Command, g *globalOptions, opts *searchOptions, query string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := output.New(cmd.OutOrStdout())

	base, err := opts.request(cmd)
	if err != nil {
		return err
	}

	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}
	if !p.hasIndex() {
		return nerrors.InvalidInput("no index found in " + p.dataDir).
			WithSuggestion("Run 'newsline index <snapshot.jsonl>' first")
	}

	s, err := p.openStores(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	sparse, err := search.BuildSparseIndexFromStore(ctx, s.articles, sparseConfig(p.cfg))
	if err != nil {
		return nerrors.StoreFailure("failed to build keyword index", err)
	}

	rt, err := newEngineRuntime(ctx, p.cfg, s, sparse)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	run := func(q string) error {
		req := base
		req.Query = q
		resp, err := rt.engine.Search(ctx, req)
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return out.JSON(resp)
		}
		out.SearchResults(resp, opts.verbose)
		return nil
	}

	if !opts.interactive {
		return run(query)
	}
	return searchLoop(ctx, cmd.InOrStdin(), out, run)
}

// searchLoop answers one query per input line until EOF. A failed query is
// reported and the loop continues.
func searchLoop(ctx context.Context, in io.Reader, out *output.Writer, run func(string) error) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		if err := run(q); err != nil {
			out.Error(err.Error())
		}
		out.Newline()
	}
	return scanner.Err()
}

// request translates flags into a search request; only flags the user set
// override the configured behaviour.
func (o *searchOptions) request(cmd *cobra.Command) (search.Request, error) {
	req := search.Request{
		Limit: o.limit,
		Hint:  search.QueryType(strings.ToLower(o.hint)),
		Filters: search.Filters{
			Entities: o.entities,
			Authors:  o.authors,
		},
	}
	if req.Hint != "" && !req.Hint.Valid() {
		return req, nerrors.InvalidInput(fmt.Sprintf("unknown query type %q", o.hint)).
			WithSuggestion("Use one of: factual, entity, conceptual, temporal, comparative")
	}

	var err error
	if req.Filters.From, err = parseDateFlag("from", o.from); err != nil {
		return req, err
	}
	if req.Filters.To, err = parseDateFlag("to", o.to); err != nil {
		return req, err
	}
	if req.Filters.To != nil {
		// Inclusive of the whole end day.
		end := req.Filters.To.Add(24*time.Hour - time.Nanosecond)
		req.Filters.To = &end
	}
	asOf, err := parseDateFlag("as-of", o.asOf)
	if err != nil {
		return req, err
	}
	if asOf != nil {
		req.Now = *asOf
	}

	if cmd.Flags().Changed("alpha") {
		if o.alpha < 0 || o.alpha > 1 {
			return req, nerrors.InvalidInput(fmt.Sprintf("alpha must be in [0,1], got %g", o.alpha))
		}
		a := o.alpha
		req.Alpha = &a
	}
	if cmd.Flags().Changed("temporal") {
		t := o.temporal
		req.Temporal = &t
	}
	return req, nil
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if err != nil {
		return nil, nerrors.InvalidFilter(fmt.Sprintf("--%s: invalid date %q (want YYYY-MM-DD)", name, value))
	}
	return &t, nil
}
