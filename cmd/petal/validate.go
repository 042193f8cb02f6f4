package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petalflow/petal"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Validate a workflow without running it",
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

			valid, findings := petal.Validate(wf)
			if valid {
				cmd.Printf("%s: valid (%d steps)\n", wf.Name, len(wf.Steps))
				return nil
			}
			for _, finding := range findings {
				cmd.Println(" -", finding)
			}
			return fmt.Errorf("workflow %q has %d validation error(s)", wf.Name, len(findings))
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "settings profile to apply")
	return cmd
}
