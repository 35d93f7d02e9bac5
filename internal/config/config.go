// Package config loads dotcap settings from defaults, an optional YAML
// file, DOTCAP_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dotcap/internal/controller"
	"dotcap/internal/topology"
)

const EnvPrefix = "DOTCAP"

type Controller struct {
	Runtime    string   `mapstructure:"runtime"`
	Containers []string `mapstructure:"containers"`
}

type Switch struct {
	Datapath string `mapstructure:"datapath"`
}

type Config struct {
	Users           int        `mapstructure:"users"`
	ScriptsDir      string     `mapstructure:"scripts_dir"`
	WorkDir         string     `mapstructure:"work_dir"`
	StateDir        string     `mapstructure:"state_dir"`
	BridgeInterface string     `mapstructure:"bridge_interface"`
	Controller      Controller `mapstructure:"controller"`
	Switch          Switch     `mapstructure:"switch"`

	ExecTimeout  time.Duration `mapstructure:"exec_timeout"`
	LearnTimeout time.Duration `mapstructure:"learn_timeout"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
	Dot1xSettle  time.Duration `mapstructure:"dot1x_settle"`
	LogoffSettle time.Duration `mapstructure:"logoff_settle"`

	// ExternalTarget is the outside destination used to tell whether a
	// host has been let onto the network.
	ExternalTarget string `mapstructure:"external_target"`

	LogLevel    string `mapstructure:"log_level"`
	ReportFile  string `mapstructure:"report_file"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// DefaultScriptsDir is the dot1x_capflow_scripts directory next to the
// running binary.
func DefaultScriptsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "dot1x_capflow_scripts"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "dot1x_capflow_scripts")
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("users", topology.DefaultUsers)
	v.SetDefault("scripts_dir", DefaultScriptsDir())
	v.SetDefault("work_dir", "")
	v.SetDefault("state_dir", "/var/lib/dotcap")
	v.SetDefault("bridge_interface", "eth1")
	v.SetDefault("controller.runtime", string(controller.KindScript))
	v.SetDefault("controller.containers", []string{})
	v.SetDefault("switch.datapath", string(topology.DatapathOVS))
	v.SetDefault("exec_timeout", 60*time.Second)
	v.SetDefault("learn_timeout", 30*time.Second)
	v.SetDefault("ping_timeout", 5*time.Second)
	v.SetDefault("dot1x_settle", 2*time.Second)
	v.SetDefault("logoff_settle", time.Second)
	v.SetDefault("external_target", "www.google.co.nz")
	v.SetDefault("log_level", "info")
	v.SetDefault("report_file", "")
	v.SetDefault("metrics_file", "")
}

// Load reads the configuration into v and decodes it. file may be empty.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Users < 1 || c.Users > topology.MaxUsers {
		return fmt.Errorf("users must be between 1 and %d, got %d", topology.MaxUsers, c.Users)
	}

	switch controller.Kind(c.Controller.Runtime) {
	case controller.KindScript:
	case controller.KindDocker:
		if len(c.Controller.Containers) == 0 {
			return fmt.Errorf("controller.containers is required for the docker runtime")
		}
	default:
		return fmt.Errorf("unknown controller runtime: %s", c.Controller.Runtime)
	}

	switch topology.Datapath(c.Switch.Datapath) {
	case topology.DatapathOVS, topology.DatapathBridge:
	default:
		return fmt.Errorf("unknown switch datapath: %s", c.Switch.Datapath)
	}

	for name, d := range map[string]time.Duration{
		"exec_timeout":  c.ExecTimeout,
		"learn_timeout": c.LearnTimeout,
		"ping_timeout":  c.PingTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Dot1xSettle < 0 || c.LogoffSettle < 0 {
		return fmt.Errorf("settle times must not be negative")
	}
	return nil
}
