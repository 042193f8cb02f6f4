package main

import (
	"github.com/spf13/cobra"

	"github.com/petalflow/petal"
)

func newPlanCmd(root *rootOptions) *cobra.Command {
	var (
		params  []string
		profile string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "plan <workflow-file>",
		Short: "Show the execution plan without invoking any tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(root, profile)
			if err != nil {
				return err
			}
			wf, err := loadWorkflow(args[0], settings)
			if err != nil {
				return err
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}

			runner, err := petal.NewRunner()
			if err != nil {
				return err
			}
			defer runner.Close()

			report, err := runner.Plan(cmd.Context(), wf, petal.RunOptions{Params: parsed})
			if err != nil {
				return err
			}
			return printReport(cmd, report, asJSON)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "workflow parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&profile, "profile", "", "settings profile to apply")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}
