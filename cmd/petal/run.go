package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petalflow/petal"
	"github.com/petalflow/petal/pkg/api"
)

type runOptions struct {
	runDir  string
	dryRun  bool
	params  []string
	profile string
	asJSON  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(root, opts.profile)
			if err != nil {
				return err
			}
			wf, err := loadWorkflow(args[0], settings)
			if err != nil {
				return err
			}
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}

			runnerOpts := []petal.RunnerOption{
				petal.WithObserver(api.NewLoggingObserver(nil)),
			}
			runDir := opts.runDir
			if settings != nil {
				if runDir == "" {
					runDir = settings.RunDir
				}
				if settings.HistoryDB != "" {
					runnerOpts = append(runnerOpts, petal.WithHistoryDB(settings.HistoryDB))
				}
			}
			runner, err := petal.NewRunner(runnerOpts...)
			if err != nil {
				return err
			}
			defer runner.Close()

			report, err := runner.Run(cmd.Context(), wf, petal.RunOptions{
				RunDir: runDir,
				DryRun: opts.dryRun,
				Params: params,
			})
			if err != nil {
				return err
			}
			return printReport(cmd, report, opts.asJSON)
		},
	}

	cmd.Flags().StringVar(&opts.runDir, "run-dir", "", "base directory for run working directories")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "plan the run without invoking any tool")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "workflow parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "settings profile to apply")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full report as JSON")
	return cmd
}

// parseParams converts repeated key=value flags into typed values:
// bools and numbers are recognized, JSON objects and arrays decode, and
// anything else stays a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q (expected key=value)", pair)
		}
		params[key] = coerceValue(raw)
	}
	return params, nil
}

func coerceValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	return raw
}

func printReport(cmd *cobra.Command, report *petal.ExecutionReport, asJSON bool) error {
	if asJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("Run %s (%s): %s\n", report.RunID, report.Workflow, report.Status)
	if report.Status == api.RunDryRun {
		for _, step := range report.Steps {
			cmd.Printf("  %s  uses=%s", step.ID, step.Uses)
			if step.If != "" {
				cmd.Printf("  if=%q", step.If)
			}
			if len(step.Reads) > 0 {
				cmd.Printf("  reads=%s", strings.Join(step.Reads, ","))
			}
			if len(step.Writes) > 0 {
				cmd.Printf("  writes=%s", strings.Join(step.Writes, ","))
			}
			cmd.Println()
		}
		return nil
	}
	for stepID, status := range report.StepStatus {
		cmd.Printf("  %s: %s\n", stepID, status)
	}
	return nil
}
