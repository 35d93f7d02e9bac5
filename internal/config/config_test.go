package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Users)
	assert.Equal(t, "eth1", cfg.BridgeInterface)
	assert.Equal(t, "script", cfg.Controller.Runtime)
	assert.Equal(t, "ovs", cfg.Switch.Datapath)
	assert.Equal(t, 60*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 2*time.Second, cfg.Dot1xSettle)
	assert.Equal(t, time.Second, cfg.LogoffSettle)
	assert.Equal(t, "www.google.co.nz", cfg.ExternalTarget)
	assert.Equal(t, "dot1x_capflow_scripts", filepath.Base(cfg.ScriptsDir))
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dotcap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users: 5
bridge_interface: enp3s0
controller:
  runtime: docker
  containers: [faucet, capflow]
learn_timeout: 45s
`), 0644))
	t.Setenv("DOTCAP_USERS", "4")
	t.Setenv("DOTCAP_SWITCH_DATAPATH", "bridge")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Users)
	assert.Equal(t, "enp3s0", cfg.BridgeInterface)
	assert.Equal(t, "docker", cfg.Controller.Runtime)
	assert.Equal(t, []string{"faucet", "capflow"}, cfg.Controller.Containers)
	assert.Equal(t, "bridge", cfg.Switch.Datapath)
	assert.Equal(t, 45*time.Second, cfg.LearnTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no users", func(c *Config) { c.Users = 0 }, "users must be"},
		{"docker without containers", func(c *Config) { c.Controller.Runtime = "docker" }, "controller.containers"},
		{"unknown runtime", func(c *Config) { c.Controller.Runtime = "k8s" }, "unknown controller runtime"},
		{"unknown datapath", func(c *Config) { c.Switch.Datapath = "p4" }, "unknown switch datapath"},
		{"zero exec timeout", func(c *Config) { c.ExecTimeout = 0 }, "exec_timeout"},
		{"negative settle", func(c *Config) { c.Dot1xSettle = -time.Second }, "settle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
