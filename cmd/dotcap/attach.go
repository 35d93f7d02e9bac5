package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAttachCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <host>",
		Short: "Open a shell inside a host of a running environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			emu, err := newEmulator(cfg, log)
			if err != nil {
				return err
			}

			node, err := emu.RecordedNode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Attaching to %s (netns %s)\n", args[0], node.NS.Name)
			return node.AttachShell()
		},
	}
}
