package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/oracle"
	"github.com/Aman-CERP/newsline/internal/output"
	"github.com/Aman-CERP/newsline/internal/timeline"
)

type timelineOptions struct {
	topic          string
	noOracle       bool
	maxEvents      int
	dedupThreshold float64
	jsonOutput     bool
}

func newTimelineCmd(g *globalOptions) *cobra.Command {
	opts := &timelineOptions{}

	cmd := &cobra.Command{
		Use:   "timeline <events.json|->",
		Short: "Build a timeline from extracted events",
		Long: `Timeline deduplicates extracted events, dates and scores them against
the topic, and orders them chronologically with causal links.

The input is a JSON array of events, or an object with "topic" and
"events" keys. Dates are RFC 3339 or YYYY-MM-DD.

Examples:
  newsline timeline events.json --topic "energy mergers"
  cat events.json | newsline timeline - --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeline(cmd, g, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.topic, "topic", "t", "", "Timeline topic (overrides the topic in the input)")
	f.BoolVar(&opts.noOracle, "no-oracle", false, "Score similarity and importance locally only")
	f.IntVar(&opts.maxEvents, "max-events", 0, "Maximum merged events to keep (default from config)")
	f.Float64Var(&opts.dedupThreshold, "dedup-threshold", 0, "Similarity at which events merge (default from config)")
	f.BoolVar(&opts.jsonOutput, "json", false, "Output the timeline as JSON")

	return cmd
}

func runTimeline(cmd *cobra.Command, g *globalOptions, opts *timelineOptions, source string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := output.New(cmd.OutOrStdout())

	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}

	topic, events, err := readEventSource(cmd.InOrStdin(), source)
	if err != nil {
		return err
	}
	if opts.topic != "" {
		topic = opts.topic
	}
	if strings.TrimSpace(topic) == "" {
		return nerrors.InvalidInput("timeline topic is required").
			WithSuggestion("Pass --topic or add a \"topic\" key to the input")
	}

	cfg := timelineConfig(p.cfg)
	if opts.noOracle {
		cfg.UseOracle = false
	}
	if opts.maxEvents > 0 {
		cfg.MaxEvents = opts.maxEvents
	}
	if cmd.Flags().Changed("dedup-threshold") {
		cfg.DedupThreshold = opts.dedupThreshold
	}

	var o oracle.Oracle
	if cfg.UseOracle {
		o = newOracle(p.cfg)
	}
	builder, err := timeline.NewBuilder(o, cfg)
	if err != nil {
		return nerrors.Wrap(nerrors.ErrCodeInternal, err)
	}
	defer func() { _ = builder.Close() }()

	tl, err := builder.Build(ctx, topic, events)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return out.JSON(tl)
	}
	out.Timeline(tl)
	return nil
}

func readEventSource(stdin io.Reader, source string) (string, []timeline.Event, error) {
	if source == "-" {
		return timeline.ReadEvents(stdin)
	}
	f, err := os.Open(source)
	if err != nil {
		return "", nil, nerrors.InvalidInput(fmt.Sprintf("cannot open %s: %v", source, err))
	}
	defer f.Close()
	return timeline.ReadEvents(f)
}
