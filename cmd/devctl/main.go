// Package main provides devctl, the command line client of the devconsole
// daemon.
//
// Usage:
//
//	# Show every channel of the open project
//	devctl status
//
//	# Start a channel and follow its output
//	devctl run api
//	devctl logs api -f
//
//	# Open another project
//	devctl project open ./devconsole.json
//
// The daemon is started on demand unless --no-start is given.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/scomans/dev-console-sub000/client"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries the global flags and the lazily opened daemon connection.
type app struct {
	socketPath string
	noStart    bool
	jsonOut    bool

	conn *client.Conn
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{}
	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	if a.conn != nil {
		a.conn.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "devctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "devctl",
		Short:         "Control the devconsole daemon",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.socketPath, "socket", "", "Daemon socket path (default: per-user runtime dir)")
	root.PersistentFlags().BoolVar(&a.noStart, "no-start", false, "Fail instead of starting the daemon")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print raw JSON responses")

	root.AddCommand(
		newRunCmd(a),
		newKillCmd(a),
		newRestartCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newLogsCmd(a),
		newClearCmd(a),
		newGroupCmd(a, "run-all", "RUN-ALL", "Start every active channel"),
		newGroupCmd(a, "stop-all", "STOP-ALL", "Stop every running channel"),
		newGroupCmd(a, "restart-all", "RESTART-ALL", "Restart every running channel"),
		newProjectCmd(a),
		newInfoCmd(a),
		newPingCmd(a),
		newDaemonCmd(a),
	)
	return root
}

// connect returns the shared connection, starting the daemon if allowed.
// A version mismatch is reported but not fatal.
func (a *app) connect(ctx context.Context, stderr io.Writer) (*client.Conn, error) {
	if a.conn != nil {
		return a.conn, nil
	}

	var opts []client.Option
	if a.socketPath != "" {
		opts = append(opts, client.WithSocketPath(a.socketPath))
	}

	var conn *client.Conn
	if a.noStart {
		conn = client.NewConn(opts...)
		if err := conn.EnsureConnected(); err != nil {
			return nil, fmt.Errorf("daemon not reachable at %s: %w", conn.SocketPath(), err)
		}
	} else {
		cfg := client.DefaultAutoStartConfig()
		if a.socketPath != "" {
			cfg.SocketPath = a.socketPath
		}
		var err error
		conn, err = client.EnsureDaemonRunning(ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
	}

	if _, err := client.CheckVersion(conn, version); errors.Is(err, client.ErrVersionMismatch) {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	a.conn = conn
	return conn, nil
}

// socket returns the socket path the daemon commands address.
func (a *app) socket() string {
	if a.socketPath != "" {
		return a.socketPath
	}
	return client.DefaultAutoStartConfig().SocketPath
}
