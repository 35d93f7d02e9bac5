package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newExecCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <host> <command> [args...]",
		Short: "Run a command on a host of a running environment",
		Example: `  dotcap exec h0 ip addr show
  dotcap exec portal -- curl -s http://10.0.12.3/`,
		Args: cobra.MinimumNArgs(2),
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
			out, err := node.Exec(cmd.Context(), strings.Join(args[1:], " "))
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	// Everything after the host belongs to the command.
	cmd.Flags().SetInterspersed(false)
	return cmd
}
