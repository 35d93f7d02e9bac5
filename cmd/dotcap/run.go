package main

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"dotcap/internal/auth"
	"dotcap/internal/config"
	"dotcap/internal/harness"
	"dotcap/internal/metrics"
	"dotcap/internal/scenario"
	"dotcap/internal/verify"
)

func newRunCmd(a *app) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every registered scenario and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}

			filter, err := compileFilter(pattern)
			if err != nil {
				return err
			}

			m := metrics.New()
			runner, err := newRunner(cfg, filter, m, func() (*harness.Environment, error) {
				return newEnvironment(cfg, log)
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report := runner.RunAll(ctx)
			if err := report.WriteText(cmd.OutOrStdout()); err != nil {
				return err
			}

			if cfg.ReportFile != "" {
				if err := report.WriteYAML(cfg.ReportFile); err != nil {
					return err
				}
			}
			if cfg.MetricsFile != "" {
				if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}

			if !report.Passed() {
				return errScenariosFailed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&pattern, "run", "", "run only scenarios whose name matches this regular expression")
	flags.String("report-file", "", "write a YAML report to this file")
	flags.String("metrics-file", "", "write prometheus metrics to this textfile")
	a.bind(flags, map[string]string{
		"report_file":  "report-file",
		"metrics_file": "metrics-file",
	})
	return cmd
}

func compileFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("parse --run: %w", err)
	}
	return re, nil
}

// newRunner registers the built-in scenarios with a runner configured
// from cfg.
func newRunner(cfg *config.Config, filter *regexp.Regexp, m *metrics.Metrics, newEnv scenario.EnvironmentFactory) (*scenario.Runner, error) {
	opts := scenario.Options{
		Auth: auth.Options{
			ScriptsDir:  cfg.ScriptsDir,
			Dot1xSettle: cfg.Dot1xSettle,
		},
		Verify: verify.Options{
			LearnTimeout: cfg.LearnTimeout,
			PingTimeout:  cfg.PingTimeout,
		},
		ExternalTarget: cfg.ExternalTarget,
		LogoffSettle:   cfg.LogoffSettle,
		Filter:         filter,
	}
	if m != nil {
		opts.Recorder = m
	}

	runner := scenario.NewRunner(newEnv, opts)
	for _, e := range scenario.Builtin() {
		if err := runner.Register(e.Name, e.Procedure); err != nil {
			return nil, err
		}
	}
	return runner, nil
}
