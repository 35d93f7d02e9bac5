package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScenariosCmd(a *app) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the registered scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			filter, err := compileFilter(pattern)
			if err != nil {
				return err
			}

			runner, err := newRunner(cfg, filter, nil, nil)
			if err != nil {
				return err
			}
			for _, name := range runner.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "run", "", "list only scenarios whose name matches this regular expression")
	return cmd
}
