package readiness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scomans/dev-console-sub000/cancel"
)

// TimeoutError is returned by Wait when the overall deadline passes before
// every condition held.
type TimeoutError struct {
	Pending []string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for: %s", e.Timeout, strings.Join(e.Pending, ", "))
}

// PendingMessage renders the operator-facing progress line for the given
// set of unsatisfied conditions.
func PendingMessage(pending []string) string {
	noun := "resources"
	if len(pending) == 1 {
		noun = "resource"
	}
	return fmt.Sprintf("Waiting for %d %s: %s", len(pending), noun, strings.Join(pending, ", "))
}

// ParseAll parses every condition, failing on the first invalid one.
func ParseAll(conditions []string, opts Options) ([]Probe, error) {
	probes := make([]Probe, 0, len(conditions))
	for _, c := range conditions {
		p, err := Parse(c, opts)
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}
	return probes, nil
}

type probeUpdate struct {
	index int
	ready bool
}

// Wait blocks until every condition is ready at the same time.
//
// It returns nil on success, a *TimeoutError when opts.Timeout elapses, a
// *cancel.CancelledError when token fires and ctx.Err() when ctx ends. When
// several outcomes coincide, cancellation wins over timeout, and timeout wins
// over success. notify, if non-nil, is called with the still-pending
// conditions every time that set changes, starting with the full set.
//
// All probe goroutines have exited by the time Wait returns.
func Wait(ctx context.Context, conditions []string, opts Options, token *cancel.Token, notify func(pending []string)) error {
	opts = opts.withDefaults()

	probes, err := ParseAll(conditions, opts)
	if err != nil {
		return err
	}
	if token != nil {
		if err := token.Err(); err != nil {
			return err
		}
	}
	if len(probes) == 0 {
		return nil
	}

	watchCtx, stop := context.WithCancel(ctx)
	updates := make(chan probeUpdate)
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	for i, p := range probes {
		wg.Add(1)
		go func(i int, values <-chan bool) {
			defer wg.Done()
			for v := range values {
				select {
				case updates <- probeUpdate{index: i, ready: v}:
				case <-watchCtx.Done():
				}
			}
		}(i, Watch(watchCtx, p, opts))
	}

	var timeoutC <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var cancelC <-chan struct{}
	if token != nil {
		cancelC = token.Done()
	}

	ready := make([]bool, len(probes))
	pendingOf := func() []string {
		var pending []string
		for i, p := range probes {
			if !ready[i] {
				pending = append(pending, p.Condition())
			}
		}
		return pending
	}
	cancelled := func() error {
		if token == nil {
			return nil
		}
		return token.Err()
	}

	pending := pendingOf()
	lastKey := strings.Join(pending, "\x00")
	if notify != nil {
		notify(pending)
	}

	for {
		select {
		case <-cancelC:
			return token.Err()

		case <-timeoutC:
			if err := cancelled(); err != nil {
				return err
			}
			return &TimeoutError{Pending: pendingOf(), Timeout: opts.Timeout}

		case <-ctx.Done():
			if err := cancelled(); err != nil {
				return err
			}
			return ctx.Err()

		case u := <-updates:
			ready[u.index] = u.ready
			pending := pendingOf()
			if len(pending) == 0 {
				if err := cancelled(); err != nil {
					return err
				}
				select {
				case <-timeoutC:
					return &TimeoutError{
						Pending: []string{probes[u.index].Condition()},
						Timeout: opts.Timeout,
					}
				default:
				}
				return nil
			}
			if key := strings.Join(pending, "\x00"); key != lastKey {
				lastKey = key
				if notify != nil {
					notify(pending)
				}
			}
		}
	}
}
