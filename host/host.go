// Package host is the daemon's socket server. It accepts client
// connections and dispatches protocol commands to the coordinator and the
// output collector.
package host

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/project"
	"github.com/scomans/dev-console-sub000/socket"
)

// Config holds configuration for the Host.
type Config struct {
	// SocketPath is the Unix socket path. Empty uses default.
	SocketPath string
	// SocketName is used to generate the default socket path.
	SocketName string
	// MaxClients is the maximum number of concurrent clients (0 = unlimited).
	MaxClients int
	// ReadTimeout is the timeout for reading from clients.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing to clients.
	WriteTimeout time.Duration
	// Version is reported by INFO.
	Version string
	// WebAddr is reported by INFO when the web server is enabled.
	WebAddr string
	// LoadProject reads a project file for PROJECT OPEN and RELOAD.
	// Defaults to project.Load.
	LoadProject func(path string) (*project.Project, error)
	// OnProject is called after PROJECT OPEN or RELOAD replaced the
	// coordinator's project.
	OnProject func(p *project.Project)
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketName:   socket.DefaultName,
		WriteTimeout: 5 * time.Second,
		Version:      "dev",
	}
}

// Host serves the protocol on the daemon socket.
type Host struct {
	config Config
	logger *slog.Logger

	coord *coordinator.Coordinator
	out   *output.Collector

	sockMgr  *socket.Manager
	listener net.Listener

	commands *CommandRegistry

	clients     sync.Map // clientID -> *Connection
	clientCount atomic.Int64
	nextID      atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	shutdown  atomic.Bool
	startTime time.Time

	// requested is closed when a client sends SHUTDOWN.
	requested     chan struct{}
	requestedOnce sync.Once
}

// New creates a Host serving coord. Output lines are read from the
// coordinator's supervisor.
func New(config Config, coord *coordinator.Coordinator) *Host {
	if config.SocketName == "" {
		config.SocketName = socket.DefaultName
	}
	if config.LoadProject == nil {
		config.LoadProject = project.Load
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		config: config,
		logger: logger.With("component", "host"),
		coord:  coord,
		out:    coord.Supervisor().Output(),
		sockMgr: socket.NewManager(socket.Config{
			Path: config.SocketPath,
			Name: config.SocketName,
		}),
		commands:  NewCommandRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		requested: make(chan struct{}),
	}

	h.registerBuiltinCommands()
	return h
}

// registerBuiltinCommands registers the channel, log, group and project
// commands. PING, INFO and SHUTDOWN are answered by the connection.
func (h *Host) registerBuiltinCommands() {
	h.commands.MustRegister(CommandDefinition{
		Verb:        "EXECUTE",
		Description: "run, kill, restart and observe single channels",
		SubHandlers: map[string]CommandHandler{
			"RUN":     h.handleExecuteRun,
			"KILL":    h.handleExecuteKill,
			"RESTART": h.handleExecuteRestart,
			"STATUS":  h.handleExecuteStatus,
			"WATCH":   h.handleExecuteWatch,
		},
	})
	h.commands.MustRegister(CommandDefinition{
		Verb:        "LOG",
		Description: "read, stream and clear channel output",
		SubHandlers: map[string]CommandHandler{
			"GET":     h.handleLogGet,
			"GET-ALL": h.handleLogGetAll,
			"STREAM":  h.handleLogStream,
			"CLEAR":   h.handleLogClear,
		},
	})
	h.commands.MustRegister(CommandDefinition{
		Verb:        "GROUP",
		Description: "operate on all channels of the project",
		SubHandlers: map[string]CommandHandler{
			"RUN-ALL":     h.handleGroupRunAll,
			"STOP-ALL":    h.handleGroupStopAll,
			"RESTART-ALL": h.handleGroupRestartAll,
			"RESTART":     h.handleGroupRestart,
		},
	})
	h.commands.MustRegister(CommandDefinition{
		Verb:        "PROJECT",
		Description: "inspect and load the project file",
		SubHandlers: map[string]CommandHandler{
			"GET":    h.handleProjectGet,
			"RELOAD": h.handleProjectReload,
			"OPEN":   h.handleProjectOpen,
		},
	})
}

// RegisterCommand adds a custom command handler.
func (h *Host) RegisterCommand(def CommandDefinition) error {
	return h.commands.Register(def)
}

// Coordinator returns the coordinator commands are dispatched to.
func (h *Host) Coordinator() *coordinator.Coordinator {
	return h.coord
}

// Start takes the socket and begins accepting connections.
func (h *Host) Start() error {
	listener, err := h.sockMgr.Listen()
	if err != nil {
		return err
	}
	h.listener = listener

	h.logger.Info("listening", "socket", h.sockMgr.Path(), "pid", os.Getpid())

	h.wg.Add(1)
	go h.acceptLoop()

	return nil
}

// Stop closes the listener and every client connection and releases the
// socket. Running channels are not touched; the caller shuts down the
// supervisor.
func (h *Host) Stop(ctx context.Context) error {
	if !h.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	h.cancel()

	if h.listener != nil {
		h.listener.Close()
	}

	h.clients.Range(func(key, value any) bool {
		value.(*Connection).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("connections still open at shutdown", "clients", h.clientCount.Load())
	}

	return h.sockMgr.Close()
}

// Wait blocks until the accept loop and all connections have finished.
func (h *Host) Wait() {
	h.wg.Wait()
}

// ShutdownRequested is closed once a client sent SHUTDOWN.
func (h *Host) ShutdownRequested() <-chan struct{} {
	return h.requested
}

func (h *Host) requestShutdown() {
	h.requestedOnce.Do(func() { close(h.requested) })
}

func (h *Host) acceptLoop() {
	defer h.wg.Done()

	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if h.shutdown.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !socket.IsClosedError(err) {
				h.logger.Error("accept failed", "error", err)
			}
			return
		}

		if h.config.MaxClients > 0 && h.clientCount.Load() >= int64(h.config.MaxClients) {
			h.logger.Warn("client limit reached, rejecting connection", "max", h.config.MaxClients)
			conn.Close()
			continue
		}

		clientID := h.nextID.Add(1)
		clientConn := newConnection(clientID, conn, h)
		h.clients.Store(clientID, clientConn)
		h.clientCount.Add(1)

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			clientConn.Handle(h.ctx)
		}()
	}
}

func (h *Host) removeClient(id int64) {
	if _, loaded := h.clients.LoadAndDelete(id); loaded {
		h.clientCount.Add(-1)
	}
}

// ClientCount returns the number of connected clients.
func (h *Host) ClientCount() int64 {
	return h.clientCount.Load()
}

// IsShuttingDown returns true once Stop was called.
func (h *Host) IsShuttingDown() bool {
	return h.shutdown.Load()
}

// SocketPath returns the socket path.
func (h *Host) SocketPath() string {
	return h.sockMgr.Path()
}

// Uptime returns the time since the host was created.
func (h *Host) Uptime() time.Duration {
	return time.Since(h.startTime)
}
