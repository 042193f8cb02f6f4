package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petalflow/petal"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "petal",
		Short: "Run, validate and inspect Petal workflows",
		Long: `petal executes declarative workflow definitions: YAML files that
describe parameterized, dependency-ordered steps, each invoking a tool
from the registry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a petal.toml settings file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newPlanCmd(opts),
		newToolsCmd(),
		newRunsCmd(opts),
	)
	return cmd
}

// loadSettings reads the settings file when one is configured, applying
// the requested profile.
func loadSettings(opts *rootOptions, profile string) (*petal.Settings, error) {
	if opts.configPath == "" {
		return nil, nil
	}
	settings, err := petal.LoadSettings(opts.configPath)
	if err != nil {
		return nil, err
	}
	if profile != "" {
		return settings.WithProfile(profile)
	}
	return settings, nil
}

// loadWorkflow parses a workflow file and merges settings into it.
func loadWorkflow(path string, settings *petal.Settings) (*petal.Workflow, error) {
	wf, err := petal.ParseFile(path)
	if err != nil {
		return nil, err
	}
	petal.ApplySettings(wf, settings)
	return wf, nil
}
