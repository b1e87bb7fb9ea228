// Package socket manages the daemon's Unix domain socket and guarantees a
// single daemon per socket path.
package socket

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrSocketNotFound is returned when no daemon listens on the socket.
	ErrSocketNotFound = errors.New("socket not found")
	// ErrDaemonRunning is returned when another daemon owns the socket.
	ErrDaemonRunning = errors.New("daemon already running")
)

// DefaultName is the socket name used by the daemon and its clients.
const DefaultName = "devconsole"

// Config holds configuration for socket management.
type Config struct {
	// Path is the socket file path. If empty, DefaultSocketPath(Name).
	Path string
	// Mode is the socket file permission (default 0600).
	Mode os.FileMode
	// Name is used for the default path (default "devconsole").
	Name string
}

// DefaultConfig returns the default socket configuration.
func DefaultConfig() Config {
	return Config{
		Path: DefaultSocketPath(DefaultName),
		Mode: 0600,
		Name: DefaultName,
	}
}

// Manager handles the socket lifecycle. Ownership is an exclusive flock
// on <path>.lock held from Listen until Close: the kernel releases it when
// the daemon dies, so a leftover socket file is stale exactly when the
// lock can be taken.
type Manager struct {
	config   Config
	lock     *flock.Flock
	listener net.Listener
	pidFile  string
}

// NewManager creates a socket manager.
func NewManager(config Config) *Manager {
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.Path == "" {
		config.Path = DefaultSocketPath(config.Name)
	}
	if config.Mode == 0 {
		config.Mode = 0600
	}

	return &Manager{
		config:  config,
		lock:    flock.New(config.Path + ".lock"),
		pidFile: config.Path + ".pid",
	}
}

// Listen takes the daemon lock, removes a stale socket and binds.
func (sm *Manager) Listen() (net.Listener, error) {
	dir := filepath.Dir(sm.config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	locked, err := sm.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock socket: %w", err)
	}
	if !locked {
		return nil, ErrDaemonRunning
	}

	if err := sm.removeStale(); err != nil {
		sm.lock.Unlock()
		return nil, err
	}

	listener, err := net.Listen("unix", sm.config.Path)
	if err != nil {
		sm.lock.Unlock()
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	if err := os.Chmod(sm.config.Path, sm.config.Mode); err != nil {
		listener.Close()
		os.Remove(sm.config.Path)
		sm.lock.Unlock()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	if err := os.WriteFile(sm.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		listener.Close()
		os.Remove(sm.config.Path)
		sm.lock.Unlock()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	sm.listener = listener
	return listener, nil
}

// removeStale deletes a socket file left by a dead daemon. It is only
// called with the lock held.
func (sm *Manager) removeStale() error {
	info, err := os.Lstat(sm.config.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat socket: %w", err)
	}
	// An empty regular file is what an AF_UNIX socket looks like on some
	// Windows builds; anything with content is not ours to delete.
	if info.Mode().IsRegular() && info.Size() > 0 {
		return fmt.Errorf("path exists but is not a socket: %s", sm.config.Path)
	}
	if err := os.Remove(sm.config.Path); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

// Close closes the listener, removes the socket and PID files and releases
// the lock. It is safe to call more than once.
func (sm *Manager) Close() error {
	var errs []error

	if sm.listener != nil {
		if err := sm.listener.Close(); err != nil && !IsClosedError(err) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
		sm.listener = nil
	}

	if !sm.lock.Locked() {
		return errors.Join(errs...)
	}

	if err := os.Remove(sm.config.Path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove socket: %w", err))
	}
	if err := os.Remove(sm.pidFile); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove PID file: %w", err))
	}
	if err := sm.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}

	return errors.Join(errs...)
}

// Path returns the socket path.
func (sm *Manager) Path() string {
	return sm.config.Path
}

// DaemonPID returns the PID recorded by the running daemon, or 0.
func DaemonPID(path string) int {
	data, err := os.ReadFile(path + ".pid")
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// Connect dials the daemon socket. A missing socket or a refused
// connection report ErrSocketNotFound.
func Connect(path string) (net.Conn, error) {
	if path == "" {
		path = DefaultSocketPath(DefaultName)
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
			return nil, ErrSocketNotFound
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// IsRunning reports whether a daemon accepts connections at path.
func IsRunning(path string) bool {
	if path == "" {
		path = DefaultSocketPath(DefaultName)
	}

	conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// IsClosedError returns true if err indicates a closed connection.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
