// Package main provides the devconsole daemon.
//
// The daemon owns the channel processes of one project. Clients talk to it
// over a Unix socket (devctl) and, when enabled, over HTTP and WebSocket.
//
// Usage:
//
//	# Start with the default config and socket
//	devconsoled
//
//	# Load a project and serve the web API
//	devconsoled --project ./devconsole.json --web-addr 127.0.0.1:7331
//
//	# Use a custom socket path
//	devconsoled --socket /tmp/devconsole.sock
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scomans/dev-console-sub000/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

type flags struct {
	configPath string
	socketPath string
	project    string
	webAddr    string
	logLevel   string
	noTrack    bool
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "devconsoled",
		Short:         "Run the devconsole process orchestration daemon",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	rootCmd.Flags().StringVar(&f.configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.Flags().StringVar(&f.socketPath, "socket", "", "Unix socket path (default: per-user runtime dir)")
	rootCmd.Flags().StringVar(&f.project, "project", "", "Project file to load on startup")
	rootCmd.Flags().StringVar(&f.webAddr, "web-addr", "", "Serve the HTTP API on this address")
	rootCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&f.noTrack, "no-track", false, "Do not persist child PIDs for orphan cleanup")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "devconsoled: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flags that were set
// explicitly.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}

	if f.socketPath != "" {
		cfg.Host.SocketPath = f.socketPath
	}
	if f.project != "" {
		cfg.Host.Project = f.project
	}
	if f.webAddr != "" {
		cfg.Web.Enabled = true
		cfg.Web.Addr = f.webAddr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if cmd.Flags().Changed("no-track") {
		cfg.Host.TrackPIDs = !f.noTrack
	}
	return cfg, cfg.Validate()
}
