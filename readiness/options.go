// Package readiness evaluates external readiness conditions (file
// stabilization, HTTP, TCP and Unix socket availability) and gates process
// start on all of them holding at the same time.
package readiness

import (
	"net/http"
	"time"
)

// Default polling parameters.
const (
	DefaultInterval   = 250 * time.Millisecond
	DefaultWindow     = 750 * time.Millisecond
	DefaultTCPTimeout = 300 * time.Millisecond
	minHTTPTimeout    = time.Second
)

// Options control how probes poll and how the gate gives up.
type Options struct {
	// Delay postpones the first check.
	Delay time.Duration
	// Interval is the poll period for every probe.
	Interval time.Duration
	// Window is how long a file's size must stay unchanged.
	Window time.Duration
	// TCPTimeout bounds a single TCP or socket connect attempt.
	TCPTimeout time.Duration
	// HTTPTimeout bounds a single HTTP request. Zero uses max(Interval, 1s).
	HTTPTimeout time.Duration
	// Timeout is the overall gate deadline. Zero waits forever.
	Timeout time.Duration
	// Reverse waits for resources to become unavailable instead.
	Reverse bool
	// ValidateStatus decides which HTTP status codes count as available.
	// Defaults to 2xx.
	ValidateStatus func(code int) bool
	// HTTPClient is used for HTTP probes. Defaults to a client without
	// connection reuse so probes leave no idle connections behind.
	HTTPClient *http.Client
}

// DefaultOptions returns the standard polling parameters.
func DefaultOptions() Options {
	return Options{
		Interval:   DefaultInterval,
		Window:     DefaultWindow,
		TCPTimeout: DefaultTCPTimeout,
	}
}

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Window < 0 {
		o.Window = 0
	}
	if o.TCPTimeout <= 0 {
		o.TCPTimeout = DefaultTCPTimeout
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = o.Interval
		if o.HTTPTimeout < minHTTPTimeout {
			o.HTTPTimeout = minHTTPTimeout
		}
	}
	if o.ValidateStatus == nil {
		o.ValidateStatus = successStatus
	}
	if o.HTTPClient == nil {
		o.HTTPClient = defaultHTTPClient()
	}
	return o
}

func successStatus(code int) bool {
	return code >= 200 && code < 300
}

func defaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	return &http.Client{Transport: transport}
}
