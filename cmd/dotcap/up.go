package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newUpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Set up the environment and keep it until interrupted",
		Long: `up builds the network and starts the controllers exactly like a scenario
setup, then waits for Ctrl-C. Use exec and attach from another terminal to
work with the hosts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			env, err := newEnvironment(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			defer func() {
				if err := env.Teardown(context.WithoutCancel(ctx)); err != nil {
					log.Warn("teardown failed", "error", err)
				}
			}()
			if err := env.Setup(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Environment is up")
			for _, h := range env.Topology().Hosts {
				ip := h.IP
				if ip == "" {
					ip = "-"
				}
				fmt.Fprintf(out, "  %-8s  %-18s  %s\n", h.Name, ip, h.MAC)
			}
			fmt.Fprintln(out, "Press Ctrl-C to tear down")

			<-ctx.Done()
			return nil
		},
	}
}
