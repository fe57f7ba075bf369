// Package cmd provides the CLI commands for newsline.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/logging"
	"github.com/Aman-CERP/newsline/internal/profiling"
	"github.com/Aman-CERP/newsline/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dir     string
	debug   bool
	profile profiling.Config

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the newsline CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "newsline",
		Short: "Hybrid news retrieval and timeline construction",
		Long: `newsline answers questions over a news corpus.

It ranks articles by fusing keyword (TF-IDF) and embedding similarity,
weighted by query type and optionally reranked by recency, and assembles
extracted events into a deduplicated, chronologically ordered timeline.

Start by indexing a JSONL article snapshot:
  newsline index articles.jsonl`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := g.startLogging(); err != nil {
				return err
			}
			return g.startProfiling()
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			err := g.stopProfiling()
			g.stopLogging()
			return err
		},
	}
	cmd.SetVersionTemplate("newsline version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory (holds .newsline.yaml and the .newsline data directory)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to stderr and ~/.newsline/logs/")
	cmd.PersistentFlags().StringVar(&g.profile.CPUPath, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&g.profile.HeapPath, "mem-profile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&g.profile.TracePath, "trace", "", "Write an execution trace to this file")

	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newTimelineCmd(g))
	cmd.AddCommand(newStatsCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging routes slog to the rotating log file.
func (g *globalOptions) startLogging() error {
	cfg := logging.DefaultConfig()
	if g.debug {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if g.debug {
		slog.Debug("debug_logging_enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.Version))
	}
	return nil
}

func (g *globalOptions) startProfiling() error {
	if !g.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(g.profile)
	if err != nil {
		return err
	}
	g.profiler = s
	return nil
}

func (g *globalOptions) stopProfiling() error {
	if g.profiler == nil {
		return nil
	}
	err := g.profiler.Stop()
	g.profiler = nil
	return err
}

func (g *globalOptions) stopLogging() {
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// Execute runs the root command and prints a failure in the CLI error format.
// An interrupt cancels the running command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		slog.Error("command_failed", nerrors.LogAttrs(err)...)
		fmt.Fprint(os.Stderr, nerrors.FormatForCLI(err))
	}
	return err
}
