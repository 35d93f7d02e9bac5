package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove namespaces, links and switches left behind by earlier runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			emu, err := newEmulator(cfg, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			removed, err := emu.Cleanup(cmd.Context())
			if removed == 0 && err == nil {
				fmt.Fprintln(out, "Nothing to clean up")
				return nil
			}
			fmt.Fprintf(out, "✓ Removed %d objects\n", removed)
			return err
		},
	}
}
