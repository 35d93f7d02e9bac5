package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dotcap/internal/config"
	"dotcap/internal/controller"
	"dotcap/internal/emulator"
	"dotcap/internal/harness"
	"dotcap/internal/logger"
	"dotcap/internal/topology"
)

var errScenariosFailed = errors.New("some scenarios did not pass")

// app carries what every subcommand needs: the config file flag and the
// viper instance flags are bound to.
type app struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "dotcap",
		Short: "Drive and check an emulated network under 802.1X and captive-portal access control",
		Long: `dotcap builds an emulated network with two SDN controllers, two switches,
a captive portal and a set of user hosts, logs hosts on and off with 802.1X
or the captive portal and checks who can reach whom.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "YAML config file")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("state-dir", emulator.DefaultStateDir, "directory for build records and private host directories")
	flags.String("work-dir", "", "directory the helper scripts are run from (default current directory)")
	flags.Int("users", topology.DefaultUsers, "number of user hosts")
	flags.String("scripts-dir", "", "directory holding the per-host login scripts (default dot1x_capflow_scripts next to the binary)")
	flags.String("bridge-interface", harness.DefaultBridgeInterface, "physical interface bridged into s1; empty to skip")
	flags.String("datapath", string(topology.DatapathOVS), "switch datapath: ovs or bridge")
	flags.String("controller-runtime", string(controller.KindScript), "controller runtime: script or docker")
	a.bind(flags, map[string]string{
		"log_level":          "log-level",
		"state_dir":          "state-dir",
		"work_dir":           "work-dir",
		"users":              "users",
		"scripts_dir":        "scripts-dir",
		"bridge_interface":   "bridge-interface",
		"switch.datapath":    "datapath",
		"controller.runtime": "controller-runtime",
	})

	cmd.AddCommand(
		newRunCmd(a),
		newUpCmd(a),
		newScenariosCmd(a),
		newListCmd(a),
		newExecCmd(a),
		newAttachCmd(a),
		newCleanupCmd(a),
	)
	return cmd
}

// bind binds config keys to flags.
func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func (a *app) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, nil
}

func newEmulator(cfg *config.Config, log *slog.Logger) (*emulator.Emulator, error) {
	return emulator.New(emulator.Options{
		WorkDir:     cfg.WorkDir,
		StateDir:    cfg.StateDir,
		ExecTimeout: cfg.ExecTimeout,
		Logger:      log,
	})
}

// newEnvironment wires a fresh emulator and controller runtime into an
// environment that is not set up yet.
func newEnvironment(cfg *config.Config, log *slog.Logger) (*harness.Environment, error) {
	emu, err := newEmulator(cfg, log)
	if err != nil {
		return nil, err
	}

	ctrl, err := controller.New(controller.Options{
		Kind:       controller.Kind(cfg.Controller.Runtime),
		WorkDir:    cfg.WorkDir,
		Containers: cfg.Controller.Containers,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	spec := topology.DefaultSpec()
	spec.Users = cfg.Users
	spec.Datapath = topology.Datapath(cfg.Switch.Datapath)

	return harness.NewEnvironment(emu, ctrl, harness.Options{
		Spec:            spec,
		BridgeInterface: cfg.BridgeInterface,
		Logger:          log,
	}), nil
}
