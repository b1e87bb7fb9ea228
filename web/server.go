// Package web serves the coordinator over HTTP: a JSON API for commands
// and snapshots, and a WebSocket that pushes status transitions and log
// line batches as they happen.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/protocol"
)

// Event types pushed over the WebSocket.
const (
	EventStatus = "status"
	EventLines  = "lines"
)

// Event is one WebSocket message.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrorBody is the JSON body of a failed request.
type ErrorBody struct {
	Code  protocol.ErrorCode `json:"code"`
	Error string             `json:"error"`
}

// Config holds configuration for the Server.
type Config struct {
	// Addr is the listen address, for example "127.0.0.1:7331".
	Addr string
	// PingInterval is how often idle WebSocket clients are pinged.
	PingInterval time.Duration
	// WriteTimeout bounds each WebSocket write.
	WriteTimeout time.Duration
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:7331",
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the HTTP front of a coordinator.
type Server struct {
	config   Config
	logger   *slog.Logger
	coord    *coordinator.Coordinator
	out      *output.Collector
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	addr     atomic.Value

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
	sockets  atomic.Int64
}

// New creates a server for coord. Nothing listens until Start.
func New(config Config, coord *coordinator.Coordinator) *Server {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		logger: logger,
		coord:  coord,
		out:    coord.Supervisor().Output(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("GET /api/channels/{id}", s.handleChannel)
	mux.HandleFunc("POST /api/channels/{id}/run", s.handleRun)
	mux.HandleFunc("POST /api/channels/{id}/kill", s.handleKill)
	mux.HandleFunc("POST /api/channels/{id}/restart", s.handleRestart)
	mux.HandleFunc("POST /api/group/{op}", s.handleGroup)
	mux.HandleFunc("GET /api/project", s.handleProject)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/logs/{id}", s.handleChannelLogs)
	mux.HandleFunc("DELETE /api/logs/{id}", s.handleClearLogs)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr.Store(ln.Addr().String())
	s.logger.Info("web listening", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return s.config.Addr
}

// Shutdown stops accepting requests, closes WebSocket clients and waits
// for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	err := s.server.Shutdown(ctx)

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Sockets returns the number of connected WebSocket clients.
func (s *Server) Sockets() int64 {
	return s.sockets.Load()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpStatus maps protocol error codes to HTTP status codes.
func httpStatus(code protocol.ErrorCode) int {
	switch code {
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrAlreadyActive, protocol.ErrNoProject:
		return http.StatusConflict
	case protocol.ErrShuttingDown:
		return http.StatusServiceUnavailable
	case protocol.ErrTimeout:
		return http.StatusGatewayTimeout
	case protocol.ErrInvalidArgs, protocol.ErrInvalidAction, protocol.ErrMissingParam:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	writeJSON(w, httpStatus(code), ErrorBody{Code: code, Error: err.Error()})
}

// runContext detaches a run from the request. A client that hangs up
// while a channel waits for readiness must not abort the run.
func runContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Statuses())
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.coord.Supervisor().Record(id)
	known := false
	if p := s.coord.Project(); p != nil {
		_, known = p.Channel(id)
	}
	if !ok && !known {
		writeError(w, coordinator.ErrUnknownChannel)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.coord.Run(runContext(r), id)
	writeRunResult(w, id, ok, err)
}

// writeRunResult answers a run. ok is false without an error when the run
// was cancelled or the process exited while starting.
func writeRunResult(w http.ResponseWriter, id string, ok bool, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.RunResult{ID: id, OK: ok})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.coord.Kill(runContext(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.RunResult{ID: id, OK: true})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.coord.Restart(runContext(r), id)
	writeRunResult(w, id, ok, err)
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	var op func(context.Context) ([]coordinator.Result, error)
	switch r.PathValue("op") {
	case "run-all":
		op = s.coord.RunAll
	case "stop-all":
		op = s.coord.StopAll
	case "restart-all":
		op = s.coord.RestartAll
	default:
		writeJSON(w, http.StatusNotFound, ErrorBody{
			Code:  protocol.ErrInvalidAction,
			Error: "unknown group operation " + r.PathValue("op"),
		})
		return
	}

	results, err := op(runContext(r))
	if results == nil && err != nil {
		writeError(w, err)
		return
	}
	res := protocol.GroupResult{Results: results}
	if res.Results == nil {
		res.Results = []coordinator.Result{}
	}
	if err != nil {
		res.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	p := s.coord.Project()
	if p == nil {
		writeError(w, coordinator.ErrNoProject)
		return
	}
	writeJSON(w, http.StatusOK, protocol.ProjectInfo{Path: p.Path, Version: p.Version, Channels: p.Channels})
}

func nonNil(lines []output.LogLine) []output.LogLine {
	if lines == nil {
		return []output.LogLine{}
	}
	return lines
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.out.AllLines()))
}

func (s *Server) handleChannelLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.out.Lines(r.PathValue("id"))))
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.out.Clear(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket upgrades the request and pushes events until the client
// disconnects or the server shuts down. Messages from the client are
// ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	statuses, unsubStatus := s.coord.Supervisor().SubscribeStatus()
	defer unsubStatus()
	lines, unsubLines := s.out.SubscribeLines()
	defer unsubLines()

	// Counted once subscribed, so a client seen here misses no event.
	s.sockets.Add(1)
	defer s.sockets.Add(-1)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	s.pushLoop(conn, statuses, lines, closed)
	conn.Close()
	<-closed
}

func (s *Server) pushLoop(conn *websocket.Conn, statuses <-chan process.StatusEvent, lines <-chan output.Batch, closed <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-s.done:
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-closed:
			return
		case ev, ok := <-statuses:
			if !ok {
				return
			}
			err = s.send(conn, EventStatus, ev)
		case batch, ok := <-lines:
			if !ok {
				return
			}
			err = s.send(conn, EventLines, batch)
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Event{Type: typ, Data: data})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
