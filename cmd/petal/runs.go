package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petalflow/petal"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		workflow string
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(root, "")
			if err != nil {
				return err
			}
			if settings == nil || settings.HistoryDB == "" {
				return fmt.Errorf("run history requires a settings file with history_db set (use --config)")
			}

			runner, err := petal.NewRunner(petal.WithHistoryDB(settings.HistoryDB))
			if err != nil {
				return err
			}
			defer runner.Close()

			runs, err := runner.Runs(cmd.Context(), workflow, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("no runs recorded")
				return nil
			}
			for _, run := range runs {
				if asJSON {
					if err := printReport(cmd, run, true); err != nil {
						return err
					}
					continue
				}
				cmd.Printf("%s  %-20s %-10s %s\n",
					run.RunID, run.Workflow, run.Status,
					run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "only list runs of this workflow")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full reports as JSON")
	return cmd
}
