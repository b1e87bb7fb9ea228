// Package config loads the daemon configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/readiness"
)

// AppName names the config, state and socket locations.
const AppName = "devconsole"

// Duration is a time.Duration written as a Go duration string ("750ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the daemon configuration.
type Config struct {
	Host      HostConfig      `toml:"host"`
	Web       WebConfig       `toml:"web"`
	Readiness ReadinessConfig `toml:"readiness"`
	Process   ProcessConfig   `toml:"process"`
	Output    OutputConfig    `toml:"output"`
	Log       LogConfig       `toml:"log"`
}

// HostConfig configures the socket daemon.
type HostConfig struct {
	// SocketPath overrides the default socket location.
	SocketPath string `toml:"socket_path"`
	// Project is loaded on startup when set.
	Project string `toml:"project"`
	// WatchProject reloads the project when the file changes.
	WatchProject bool `toml:"watch_project"`
	// TrackPIDs persists child PIDs for orphan cleanup after a crash.
	TrackPIDs bool `toml:"track_pids"`
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ReadinessConfig holds probe polling parameters.
type ReadinessConfig struct {
	Interval    Duration `toml:"interval"`
	Window      Duration `toml:"window"`
	TCPTimeout  Duration `toml:"tcp_timeout"`
	HTTPTimeout Duration `toml:"http_timeout"`
}

// ProcessConfig holds process supervision parameters.
type ProcessConfig struct {
	GracefulTimeout Duration `toml:"graceful_timeout"`
	OutputDrain     Duration `toml:"output_drain"`
	SettleDelay     Duration `toml:"settle_delay"`
	Parallelism     int      `toml:"parallelism"`
}

// OutputConfig sizes the rolling log stores.
type OutputConfig struct {
	Capacity int `toml:"capacity"`
}

// LogConfig configures daemon diagnostics.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// File enables a size-rotated log file in addition to stderr.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() Config {
	ro := readiness.DefaultOptions()
	return Config{
		Host: HostConfig{
			WatchProject: true,
			TrackPIDs:    true,
		},
		Web: WebConfig{
			Addr: "127.0.0.1:7331",
		},
		Readiness: ReadinessConfig{
			Interval:    Duration{ro.Interval},
			Window:      Duration{ro.Window},
			TCPTimeout:  Duration{ro.TCPTimeout},
			HTTPTimeout: Duration{ro.HTTPTimeout},
		},
		Process: ProcessConfig{
			GracefulTimeout: Duration{5 * time.Second},
			OutputDrain:     Duration{2 * time.Second},
			SettleDelay:     Duration{coordinator.DefaultSettleDelay},
			Parallelism:     8,
		},
		Output: OutputConfig{
			Capacity: output.DefaultCapacity,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/devconsole/config.toml, falling
// back to ~/.config.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName, "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", AppName, "config.toml")
	}
	return filepath.Join(os.TempDir(), AppName, "config.toml")
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return cfg, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Readiness.Interval.Duration <= 0 {
		return fmt.Errorf("readiness.interval must be positive")
	}
	if c.Output.Capacity <= 0 {
		return fmt.Errorf("output.capacity must be positive")
	}
	if c.Process.GracefulTimeout.Duration < 0 {
		return fmt.Errorf("process.graceful_timeout must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ReadinessOptions converts the readiness section.
func (c *Config) ReadinessOptions() readiness.Options {
	opts := readiness.DefaultOptions()
	opts.Interval = c.Readiness.Interval.Duration
	opts.Window = c.Readiness.Window.Duration
	opts.TCPTimeout = c.Readiness.TCPTimeout.Duration
	opts.HTTPTimeout = c.Readiness.HTTPTimeout.Duration
	return opts
}

// SupervisorConfig converts the process section. The caller adds the PID
// tracker and logger.
func (c *Config) SupervisorConfig() process.Config {
	cfg := process.DefaultConfig()
	cfg.GracefulTimeout = c.Process.GracefulTimeout.Duration
	cfg.OutputDrain = c.Process.OutputDrain.Duration
	cfg.Readiness = c.ReadinessOptions()
	return cfg
}

// CoordinatorConfig converts the group operation settings.
func (c *Config) CoordinatorConfig() coordinator.Config {
	settle := c.Process.SettleDelay.Duration
	if settle == 0 {
		// Zero in the file means no pause.
		settle = -1
	}
	return coordinator.Config{
		SettleDelay: settle,
		Parallelism: c.Process.Parallelism,
	}
}

// CollectorConfig converts the output section.
func (c *Config) CollectorConfig() output.Config {
	return output.Config{Capacity: c.Output.Capacity}
}
