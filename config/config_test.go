package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[host]
project = "/work/app/devconsole.json"
track_pids = false

[web]
enabled = true
addr = ":9000"

[readiness]
interval = "100ms"
window = "2s"

[process]
graceful_timeout = "10s"
settle_delay = "0s"
parallelism = 2

[output]
capacity = 50

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/work/app/devconsole.json", cfg.Host.Project)
	require.False(t, cfg.Host.TrackPIDs)
	require.True(t, cfg.Host.WatchProject, "unset keys keep their default")
	require.True(t, cfg.Web.Enabled)
	require.Equal(t, ":9000", cfg.Web.Addr)
	require.Equal(t, 100*time.Millisecond, cfg.Readiness.Interval.Duration)
	require.Equal(t, 2*time.Second, cfg.Readiness.Window.Duration)
	require.Equal(t, 10*time.Second, cfg.Process.GracefulTimeout.Duration)
	require.Equal(t, 50, cfg.Output.Capacity)
	require.Equal(t, "json", cfg.Log.Format)

	opts := cfg.ReadinessOptions()
	require.Equal(t, 100*time.Millisecond, opts.Interval)
	require.Equal(t, 2*time.Second, opts.Window)

	sup := cfg.SupervisorConfig()
	require.Equal(t, 10*time.Second, sup.GracefulTimeout)
	require.Equal(t, 100*time.Millisecond, sup.Readiness.Interval)

	coord := cfg.CoordinatorConfig()
	require.Negative(t, int64(coord.SettleDelay), "zero settle delay disables the pause")
	require.Equal(t, 2, coord.Parallelism)

	require.Equal(t, 50, cfg.CollectorConfig().Capacity)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "[host\n"},
		{"bad duration", "[readiness]\ninterval = \"soon\"\n"},
		{"unknown key", "[host]\nsocket = \"/tmp/x\"\n"},
		{"zero interval", "[readiness]\ninterval = \"0s\"\n"},
		{"bad format", "[log]\nformat = \"xml\"\n"},
		{"zero capacity", "[output]\ncapacity = 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	require.Equal(t, filepath.Join("/xdg", AppName, "config.toml"), DefaultPath())
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, 90*time.Second, d.Duration)

	b, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(b))
}
