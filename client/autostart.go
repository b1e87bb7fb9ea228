package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/scomans/dev-console-sub000/protocol"
	"github.com/scomans/dev-console-sub000/socket"
)

// DaemonName is the daemon executable looked up by AutoStart.
const DaemonName = "devconsoled"

// AutoStartConfig holds configuration for starting the daemon on demand.
type AutoStartConfig struct {
	// SocketPath is the socket path to connect to.
	SocketPath string
	// DaemonPath is the daemon executable. If empty, devconsoled next to
	// the current executable, then on PATH.
	DaemonPath string
	// DaemonArgs are passed to the daemon. Defaults to
	// ["--socket", SocketPath].
	DaemonArgs []string
	// StartTimeout is how long to wait for the daemon to accept connections.
	StartTimeout time.Duration
	// RetryInterval is how long to wait between connection attempts.
	RetryInterval time.Duration
}

// DefaultAutoStartConfig returns sensible defaults.
func DefaultAutoStartConfig() AutoStartConfig {
	return AutoStartConfig{
		SocketPath:    socket.DefaultSocketPath(socket.DefaultName),
		StartTimeout:  5 * time.Second,
		RetryInterval: 100 * time.Millisecond,
	}
}

// AutoStartConn wraps a Conn with auto-start capability.
type AutoStartConn struct {
	*Conn
	config AutoStartConfig
}

// NewAutoStartConn creates a new auto-start connection.
func NewAutoStartConn(config AutoStartConfig, opts ...Option) *AutoStartConn {
	if config.StartTimeout <= 0 {
		config.StartTimeout = 5 * time.Second
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 100 * time.Millisecond
	}
	return &AutoStartConn{
		Conn:   NewConn(append([]Option{WithSocketPath(config.SocketPath)}, opts...)...),
		config: config,
	}
}

// Connect connects to the daemon, starting it if no daemon listens.
func (c *AutoStartConn) Connect(ctx context.Context) error {
	err := c.Conn.EnsureConnected()
	if !errors.Is(err, socket.ErrSocketNotFound) {
		return err
	}

	if err := c.startDaemon(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return c.waitForDaemon(ctx)
}

// startDaemon spawns the daemon unless another client is already doing
// so, which the startup lock detects.
func (c *AutoStartConn) startDaemon(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.config.SocketPath), 0o755); err != nil {
		return err
	}
	lock := flock.New(c.config.SocketPath + ".startup.lock")
	locked, err := lock.TryLockContext(ctx, c.config.RetryInterval)
	if err != nil {
		return fmt.Errorf("startup lock: %w", err)
	}
	if !locked {
		return nil
	}
	defer lock.Unlock()

	// Another client may have started it while we waited for the lock.
	if socket.IsRunning(c.config.SocketPath) {
		return nil
	}

	execPath, err := c.daemonPath()
	if err != nil {
		return err
	}
	args := c.config.DaemonArgs
	if len(args) == 0 {
		args = []string{"--socket", c.config.SocketPath}
	}

	cmd := exec.Command(execPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	go cmd.Wait() //nolint:errcheck

	return nil
}

func (c *AutoStartConn) daemonPath() (string, error) {
	if c.config.DaemonPath != "" {
		return c.config.DaemonPath, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), DaemonName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(DaemonName)
	if err != nil {
		return "", fmt.Errorf("%s not found next to this executable or on PATH", DaemonName)
	}
	return path, nil
}

// waitForDaemon polls until the daemon accepts connections.
func (c *AutoStartConn) waitForDaemon(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for daemon at %s", c.config.SocketPath)
		case <-ticker.C:
			err := c.Conn.EnsureConnected()
			if err == nil {
				return nil
			}
			if !errors.Is(err, socket.ErrSocketNotFound) {
				return err
			}
		}
	}
}

// EnsureDaemonRunning returns a connected Conn, starting the daemon if
// needed.
func EnsureDaemonRunning(ctx context.Context, config AutoStartConfig, opts ...Option) (*Conn, error) {
	c := NewAutoStartConn(config, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c.Conn, nil
}

// StopDaemon asks a running daemon to shut down. No daemon is not an error.
func StopDaemon(socketPath string) error {
	conn := NewConn(WithSocketPath(socketPath))
	defer conn.Close()

	if err := conn.EnsureConnected(); err != nil {
		if errors.Is(err, socket.ErrSocketNotFound) {
			return nil
		}
		return err
	}
	_, err := conn.Request(protocol.VerbShutdown).OK()
	return err
}

// IsDaemonRunning checks if a daemon accepts connections at socketPath.
func IsDaemonRunning(socketPath string) bool {
	return socket.IsRunning(socketPath)
}
