package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/scomans/dev-console-sub000/protocol"
	"github.com/scomans/dev-console-sub000/socket"
)

// Connection handles a single client connection to the host.
type Connection struct {
	id   int64
	conn net.Conn
	host *Host

	parser *protocol.Parser
	writer *protocol.Writer

	mu     sync.Mutex
	closed bool
}

func newConnection(id int64, conn net.Conn, host *Host) *Connection {
	return &Connection{
		id:     id,
		conn:   conn,
		host:   host,
		parser: protocol.NewParser(conn),
		writer: protocol.NewWriter(conn),
	}
}

// Handle processes commands from this connection until it closes.
func (c *Connection) Handle(ctx context.Context) {
	defer func() {
		c.Close()
		c.host.removeClient(c.id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.host.config.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.host.config.ReadTimeout))
		}

		cmd, err := c.parser.ParseCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || socket.IsClosedError(err) {
				return
			}
			if isTimeoutError(err) {
				continue
			}
			// The parser consumed the bad message; report it and go on.
			var unknown *protocol.UnknownCommandError
			if errors.As(err, &unknown) {
				_ = c.WriteErr(protocol.ErrInvalidCommand, "unknown command "+unknown.Verb)
			} else {
				_ = c.WriteErr(protocol.ErrInvalidCommand, err.Error())
			}
			if errors.Is(err, protocol.ErrMessageTooLarge) {
				return
			}
			continue
		}

		_ = c.handleCommand(ctx, cmd)
	}
}

// handleCommand dispatches a command to the appropriate handler.
func (c *Connection) handleCommand(ctx context.Context, cmd *protocol.Command) error {
	switch cmd.Verb {
	case protocol.VerbPing:
		return c.WritePong()
	case protocol.VerbInfo:
		return c.handleInfo()
	case protocol.VerbShutdown:
		return c.handleShutdown()
	}

	return c.host.commands.Dispatch(ctx, c, cmd)
}

func (c *Connection) handleInfo() error {
	h := c.host
	sup := h.coord.Supervisor()

	info := protocol.DaemonInfo{
		Version:      h.config.Version,
		PID:          os.Getpid(),
		SocketPath:   h.SocketPath(),
		WebAddr:      h.config.WebAddr,
		Uptime:       h.Uptime().Round(time.Second).String(),
		StartedAt:    h.startTime.Unix(),
		Clients:      h.clientCount.Load(),
		TotalStarted: sup.TotalStarted(),
		TotalFailed:  sup.TotalFailed(),
		DroppedLines: h.out.Dropped(),
		Active:       sup.Active(),
	}
	if p := h.coord.Project(); p != nil {
		info.Project = p.Path
	}

	data, err := json.Marshal(info)
	if err != nil {
		return c.WriteErr(protocol.ErrInternal, "failed to marshal info")
	}
	return c.WriteJSON(data)
}

// handleShutdown acknowledges and signals the daemon; the daemon stops the
// host and the supervisor.
func (c *Connection) handleShutdown() error {
	c.host.logger.Info("shutdown requested", "client", c.id)
	err := c.WriteOK("shutting down")
	c.host.requestShutdown()
	return err
}

// ID returns the connection ID.
func (c *Connection) ID() int64 {
	return c.id
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// write sets the write deadline and writes one message.
func (c *Connection) write(fn func(w *protocol.Writer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.host.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.host.config.WriteTimeout))
	}
	return fn(c.writer)
}

// WriteOK sends an OK response.
func (c *Connection) WriteOK(msg string) error {
	return c.write(func(w *protocol.Writer) error { return w.WriteOK(msg) })
}

// WriteErr sends an error response.
func (c *Connection) WriteErr(code protocol.ErrorCode, msg string) error {
	return c.write(func(w *protocol.Writer) error { return w.WriteErr(code, msg) })
}

// WriteJSON sends a JSON response.
func (c *Connection) WriteJSON(data []byte) error {
	return c.write(func(w *protocol.Writer) error { return w.WriteJSON(data) })
}

// WriteValue marshals v and sends it as a JSON response.
func (c *Connection) WriteValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return c.WriteErr(protocol.ErrInternal, err.Error())
	}
	return c.WriteJSON(data)
}

// WriteChunk sends a chunk in a streaming response.
func (c *Connection) WriteChunk(data []byte) error {
	return c.write(func(w *protocol.Writer) error { return w.WriteChunk(data) })
}

// WriteEnd sends the END marker for chunked responses.
func (c *Connection) WriteEnd() error {
	return c.write(func(w *protocol.Writer) error { return w.WriteEnd() })
}

// WritePong sends a PONG response.
func (c *Connection) WritePong() error {
	return c.write(func(w *protocol.Writer) error { return w.WritePong() })
}

// stream pushes every value received from events as a JSON CHUNK. The
// stream ends with END when the client sends anything or hangs up, the
// host stops or events is closed. filter may drop or reduce values.
func stream[T any](ctx context.Context, c *Connection, events <-chan T, filter func(T) (T, bool)) error {
	// The command loop is parked in this handler, so the parser is free to
	// watch for the client's next message.
	_ = c.conn.SetReadDeadline(time.Time{})
	hangup := make(chan struct{})
	go func() {
		defer close(hangup)
		_, _ = c.parser.ParseCommand()
	}()
	defer func() {
		// Unblock the watcher before the command loop reads again.
		_ = c.conn.SetReadDeadline(time.Now())
		<-hangup
		_ = c.conn.SetReadDeadline(time.Time{})
	}()

	for {
		select {
		case <-ctx.Done():
			return c.WriteEnd()
		case <-hangup:
			return c.WriteEnd()
		case v, ok := <-events:
			if !ok {
				return c.WriteEnd()
			}
			if filter != nil {
				if v, ok = filter(v); !ok {
					continue
				}
			}
			data, err := json.Marshal(v)
			if err != nil {
				return c.WriteErr(protocol.ErrInternal, err.Error())
			}
			if err := c.WriteChunk(data); err != nil {
				return err
			}
		}
	}
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
