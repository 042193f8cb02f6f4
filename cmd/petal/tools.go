package main

import (
	"github.com/spf13/cobra"

	"github.com/petalflow/petal/pkg/tool"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tool.NewDefaultRegistry()
			for _, name := range registry.List() {
				t, err := registry.Get(name)
				if err != nil {
					return err
				}
				cmd.Println(name)
				for _, field := range t.Config() {
					required := ""
					if field.Required {
						required = " (required)"
					}
					cmd.Printf("    %s: %s%s  %s\n", field.Name, field.Type, required, field.Description)
				}
			}
			return nil
		},
	}
}
