// Package client talks to the devconsole daemon over its Unix socket.
//
// # Shared Connection
//
// A single Conn is created at startup and shared by every consumer. It
// connects lazily and reconnects on the next request after an error.
//
// # Request Builder
//
// Commands are issued through a fluent builder instead of one method per
// command:
//
//	var rec process.RecordInfo
//	err := conn.Request("EXECUTE", "STATUS", "api").JSONInto(&rec)
//
//	err := conn.Request("EXECUTE", "KILL", "api").OK()
//
//	err := conn.Request("LOG", "STREAM").Stream(ctx, func(chunk []byte) error {
//	    ...
//	})
//
// Requests on a Conn are serialized. Stream uses a dedicated connection,
// so a Conn stays usable while a stream is open.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/scomans/dev-console-sub000/protocol"
	"github.com/scomans/dev-console-sub000/socket"
)

var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrServerError matches every error response of the daemon.
	ErrServerError = errors.New("daemon error")
)

// ServerError is an ERR response.
type ServerError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: [%s] %s", ErrServerError, e.Code, e.Message)
}

// Unwrap makes errors.Is(err, ErrServerError) hold.
func (e *ServerError) Unwrap() error {
	return ErrServerError
}

// IsCode reports whether err is an ERR response with the given code.
func IsCode(err error, code protocol.ErrorCode) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == code
}

func serverError(resp *protocol.Response) error {
	return &ServerError{Code: protocol.ErrorCode(resp.Code), Message: resp.Message}
}

// Conn is a shared, reusable connection to the daemon.
type Conn struct {
	socketPath string

	mu      sync.Mutex
	timeout time.Duration
	conn    net.Conn
	parser  *protocol.Parser
	writer  *protocol.Writer
	closed  bool
}

// Option configures a Conn.
type Option func(*Conn)

// WithSocketPath sets the socket path for the connection.
func WithSocketPath(path string) Option {
	return func(c *Conn) {
		c.socketPath = path
	}
}

// WithTimeout sets the default timeout of a request. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// NewConn creates a connection. Nothing is dialed until the first request
// or EnsureConnected.
func NewConn(opts ...Option) *Conn {
	c := &Conn{
		socketPath: socket.DefaultSocketPath(socket.DefaultName),
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SocketPath returns the configured socket path.
func (c *Conn) SocketPath() string {
	return c.socketPath
}

// SetTimeout sets the default timeout for requests.
func (c *Conn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// EnsureConnected connects unless already connected.
func (c *Conn) EnsureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnectedLocked()
}

func (c *Conn) ensureConnectedLocked() error {
	if c.closed {
		return ErrConnectionClosed
	}
	if c.conn != nil {
		return nil
	}

	conn, err := socket.Connect(c.socketPath)
	if err != nil {
		return err
	}

	c.conn = conn
	c.parser = protocol.NewParser(conn)
	c.writer = protocol.NewWriter(conn)
	return nil
}

// IsConnected returns whether the connection is currently established.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Close closes the connection permanently.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.dropLocked()
		return err
	}
	return nil
}

// Disconnect closes the current connection but allows reconnection.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.dropLocked()
	return err
}

func (c *Conn) dropLocked() {
	c.conn = nil
	c.parser = nil
	c.writer = nil
}

// handleErrorLocked closes a connection after an I/O error so the next
// request reconnects.
func (c *Conn) handleErrorLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.dropLocked()
	}
}

// Ping sends PING and waits for PONG.
func (c *Conn) Ping() error {
	resp, err := c.execute(&protocol.Command{Verb: protocol.VerbPing}, -1)
	if err != nil {
		return err
	}
	if resp.Type != protocol.ResponsePong {
		return fmt.Errorf("expected PONG, got %s", resp.Type)
	}
	return nil
}

// Request creates a request builder. args follow the verb, usually a
// sub-verb and its arguments:
//
//	conn.Request("EXECUTE", "RUN", "api")
//	conn.Request("GROUP", "RUN-ALL")
func (c *Conn) Request(verb string, args ...string) *RequestBuilder {
	return &RequestBuilder{
		conn:    c,
		verb:    verb,
		args:    args,
		timeout: -1,
	}
}

// execute sends cmd and reads one response. A negative timeout selects
// the connection default.
func (c *Conn) execute(cmd *protocol.Command, timeout time.Duration) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	if timeout < 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(timeout))
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	if err := c.writer.WriteCommand(cmd); err != nil {
		c.handleErrorLocked()
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	resp, err := c.parser.ParseResponse()
	if err != nil {
		c.handleErrorLocked()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, nil
}

// RequestBuilder builds and executes requests to the daemon.
type RequestBuilder struct {
	conn    *Conn
	verb    string
	args    []string
	data    []byte
	err     error
	timeout time.Duration
}

// WithArgs appends arguments to the request.
func (r *RequestBuilder) WithArgs(args ...string) *RequestBuilder {
	r.args = append(r.args, args...)
	return r
}

// WithData sets the request payload as raw bytes.
func (r *RequestBuilder) WithData(data []byte) *RequestBuilder {
	r.data = data
	return r
}

// WithJSON marshals v as the request payload. A marshal error is returned
// when the request executes.
func (r *RequestBuilder) WithJSON(v any) *RequestBuilder {
	r.data, r.err = json.Marshal(v)
	return r
}

// Timeout overrides the connection's timeout for this request. Zero waits
// forever, which suits runs blocked on readiness conditions.
func (r *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	r.timeout = d
	return r
}

func (r *RequestBuilder) command() *protocol.Command {
	return &protocol.Command{Verb: r.verb, Args: r.args, Data: r.data}
}

func (r *RequestBuilder) do() (*protocol.Response, error) {
	if r.err != nil {
		return nil, fmt.Errorf("encode request: %w", r.err)
	}
	resp, err := r.conn.execute(r.command(), r.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Type == protocol.ResponseErr {
		return nil, serverError(resp)
	}
	return resp, nil
}

// OK executes the request and returns its OK message.
func (r *RequestBuilder) OK() (string, error) {
	resp, err := r.do()
	if err != nil {
		return "", err
	}
	if resp.Type != protocol.ResponseOK {
		return "", fmt.Errorf("expected OK response, got %s", resp.Type)
	}
	return resp.Message, nil
}

// JSON executes the request and returns the response as a generic value.
func (r *RequestBuilder) JSON() (any, error) {
	var v any
	if err := r.JSONInto(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// JSONInto executes the request and unmarshals the response into v.
func (r *RequestBuilder) JSONInto(v any) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// Bytes executes the request and returns the raw JSON payload.
func (r *RequestBuilder) Bytes() ([]byte, error) {
	resp, err := r.do()
	if err != nil {
		return nil, err
	}
	if resp.Type != protocol.ResponseJSON {
		return nil, fmt.Errorf("expected JSON response, got %s", resp.Type)
	}
	return resp.Data, nil
}

// Stream executes a push request on a dedicated connection and calls fn
// for every CHUNK until the daemon sends END, fn returns an error or ctx
// is done. Cancelling ctx is not an error.
func (r *RequestBuilder) Stream(ctx context.Context, fn func(chunk []byte) error) error {
	if r.err != nil {
		return fmt.Errorf("encode request: %w", r.err)
	}

	conn, err := socket.Connect(r.conn.socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write(protocol.FormatCommand(r.command())); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}

	parser := protocol.NewParser(conn)
	for {
		resp, err := parser.ParseResponse()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		switch resp.Type {
		case protocol.ResponseChunk:
			if err := fn(resp.Data); err != nil {
				return err
			}
		case protocol.ResponseEnd:
			return nil
		case protocol.ResponseErr:
			return serverError(resp)
		default:
			return fmt.Errorf("unexpected response type: %s", resp.Type)
		}
	}
}
