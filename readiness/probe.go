package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Kind identifies the check a condition performs.
type Kind string

const (
	KindFile   Kind = "file"
	KindHTTP   Kind = "http"
	KindTCP    Kind = "tcp"
	KindSocket Kind = "socket"
)

// ErrEmptyCondition is returned when parsing a blank condition string.
var ErrEmptyCondition = errors.New("empty readiness condition")

// Probe evaluates one readiness condition. Check never fails: any error
// while checking means "not ready yet".
type Probe interface {
	// Condition returns the original condition string.
	Condition() string
	// Kind returns the probe kind.
	Kind() Kind
	// Check performs one evaluation, including reverse mode.
	Check(ctx context.Context) bool
}

// Parse builds a probe for a condition string. Prefixes are matched
// case-insensitively; anything without a known prefix is a file path.
func Parse(condition string, opts Options) (Probe, error) {
	opts = opts.withDefaults()

	cond := strings.TrimSpace(condition)
	if cond == "" {
		return nil, ErrEmptyCondition
	}
	lower := strings.ToLower(cond)

	switch {
	case strings.HasPrefix(lower, "http-get:"), strings.HasPrefix(lower, "https-get:"):
		scheme := "http"
		if strings.HasPrefix(lower, "https") {
			scheme = "https"
		}
		rest := cond[strings.Index(cond, ":")+1:]
		return newHTTPProbe(condition, scheme+":"+rest, http.MethodGet, opts), nil

	case strings.HasPrefix(lower, "http:"), strings.HasPrefix(lower, "https:"):
		return newHTTPProbe(condition, cond, http.MethodHead, opts), nil

	case strings.HasPrefix(lower, "tcp:"):
		addr, err := tcpAddress(cond[len("tcp:"):])
		if err != nil {
			return nil, fmt.Errorf("invalid tcp condition %q: %w", condition, err)
		}
		return &netProbe{
			cond:    condition,
			kind:    KindTCP,
			network: "tcp",
			address: addr,
			timeout: opts.TCPTimeout,
			reverse: opts.Reverse,
		}, nil

	case strings.HasPrefix(lower, "socket:"):
		path := cond[len("socket:"):]
		if path == "" {
			return nil, fmt.Errorf("invalid socket condition %q: missing path", condition)
		}
		return &netProbe{
			cond:    condition,
			kind:    KindSocket,
			network: "unix",
			address: path,
			timeout: opts.TCPTimeout,
			reverse: opts.Reverse,
		}, nil

	default:
		path := cond
		if strings.HasPrefix(lower, "file:") {
			path = cond[len("file:"):]
		}
		if path == "" {
			return nil, fmt.Errorf("invalid file condition %q: missing path", condition)
		}
		return &fileProbe{
			cond:    condition,
			path:    path,
			window:  opts.Window,
			reverse: opts.Reverse,
			now:     time.Now,
		}, nil
	}
}

// tcpAddress turns "host:port" or "port" into a dialable address.
func tcpAddress(spec string) (string, error) {
	if spec == "" {
		return "", errors.New("missing port")
	}
	if host, port, err := net.SplitHostPort(spec); err == nil {
		if port == "" {
			return "", errors.New("missing port")
		}
		if host == "" {
			host = "localhost"
		}
		return net.JoinHostPort(host, port), nil
	}
	for _, r := range spec {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("expected host:port or port, got %q", spec)
		}
	}
	return net.JoinHostPort("localhost", spec), nil
}

// httpProbe issues a HEAD or GET request.
type httpProbe struct {
	cond     string
	url      string
	method   string
	client   *http.Client
	timeout  time.Duration
	validate func(int) bool
	reverse  bool
}

func newHTTPProbe(cond, url, method string, opts Options) *httpProbe {
	return &httpProbe{
		cond:     cond,
		url:      url,
		method:   method,
		client:   opts.HTTPClient,
		timeout:  opts.HTTPTimeout,
		validate: opts.ValidateStatus,
		reverse:  opts.Reverse,
	}
}

func (p *httpProbe) Condition() string { return p.cond }
func (p *httpProbe) Kind() Kind        { return KindHTTP }

func (p *httpProbe) Check(ctx context.Context) bool {
	return p.available(ctx) != p.reverse
}

func (p *httpProbe) available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, p.method, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()

	return p.validate(resp.StatusCode)
}

// netProbe connects to a TCP address or a Unix domain socket.
type netProbe struct {
	cond    string
	kind    Kind
	network string
	address string
	timeout time.Duration
	reverse bool
}

func (p *netProbe) Condition() string { return p.cond }
func (p *netProbe) Kind() Kind        { return p.kind }

func (p *netProbe) Check(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, p.network, p.address)
	if err == nil {
		conn.Close()
	}
	return (err == nil) != p.reverse
}

// fileProbe reports ready once the file exists and its size has not
// changed for the stabilization window. In reverse mode it reports ready
// when the file is absent.
type fileProbe struct {
	cond    string
	path    string
	window  time.Duration
	reverse bool
	now     func() time.Time

	mu       sync.Mutex
	seen     bool
	lastSize int64
	since    time.Time
}

func (p *fileProbe) Condition() string { return p.cond }
func (p *fileProbe) Kind() Kind        { return KindFile }

func (p *fileProbe) Check(ctx context.Context) bool {
	info, err := os.Stat(p.path)
	if p.reverse {
		return err != nil && errors.Is(err, fs.ErrNotExist)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.seen = false
		return false
	}

	now := p.now()
	size := info.Size()
	if !p.seen || size != p.lastSize {
		p.seen = true
		p.lastSize = size
		p.since = now
		return p.window <= 0
	}
	return now.Sub(p.since) >= p.window
}
