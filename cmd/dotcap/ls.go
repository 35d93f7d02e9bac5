package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the network objects recorded in the state directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			emu, err := newEmulator(cfg, log)
			if err != nil {
				return err
			}

			records, err := emu.Records()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s  %-12s  %-22s  %-8s  %s\n", "ID", "KIND", "NAME", "NODE", "CREATED")
			for _, r := range records {
				id := r.ID
				if len(id) > 12 {
					id = id[:12]
				}
				fmt.Fprintf(out, "%-12s  %-12s  %-22s  %-8s  %s\n", id, r.Kind, r.Name, r.Node, r.CreatedAt)
			}
			return nil
		},
	}
}
