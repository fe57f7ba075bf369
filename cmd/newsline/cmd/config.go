package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/newsline/configs"
	"github.com/Aman-CERP/newsline/internal/config"
	nerrors "github.com/Aman-CERP/newsline/internal/errors"
	"github.com/Aman-CERP/newsline/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user and project configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/newsline/config.yaml)
  3. Project config (.newsline.yaml)
  4. Environment variables (NEWSLINE_*)`,
		Example: `  # Create user config from template
  newsline config init

  # Create a project config with ranking and timeline settings
  newsline config init --project

  # Show effective configuration
  newsline config show`,
	}

	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from a template",
		Long: `Create the user configuration file (embedder, oracle, cache, vector
backend, logging) or, with --project, a .newsline.yaml holding the search
and timeline tunables for one corpus.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			template := configs.UserConfigTemplate
			if project {
				root, err := config.FindProjectRoot(g.dir)
				if err != nil {
					return err
				}
				path = filepath.Join(root, config.ProjectConfigName)
				template = configs.ProjectConfigTemplate
			}
			return writeConfigTemplate(output.New(cmd.OutOrStdout()), path, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&project, "project", false, "Create .newsline.yaml in the project directory")

	return cmd
}

func writeConfigTemplate(out *output.Writer, path, template string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("Configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Status("💡", "Use --force to overwrite it")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nerrors.ConfigError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return nerrors.ConfigError("failed to write config file", err)
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Status("📋", "Run 'newsline config show' to verify")
	return nil
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			switch source {
			case "merged":
				p, err := loadProject(g.dir)
				if err != nil {
					return err
				}
				cfg = p.cfg
			case "defaults":
				cfg = config.NewConfig()
			default:
				return nerrors.InvalidInput(fmt.Sprintf("unknown config source %q", source)).
					WithSuggestion("Use --source merged or --source defaults")
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
