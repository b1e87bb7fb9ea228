// Package cancel provides a one-shot cooperative cancellation token.
//
// A Token is handed to a long-running wait (such as a readiness gate) so that
// a kill request can interrupt it. Unlike context.Context the token carries a
// human-readable reason, which ends up in the operator-facing log.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// CancelFunc cancels the associated Token with the given reason.
// Only the first call has an effect.
type CancelFunc func(reason string)

// CancelledError is returned by operations interrupted through a Token.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return "cancelled: " + e.Reason
}

// IsCancelled reports whether err is, or wraps, a *CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// Token is a one-shot cancellation signal. The zero value is not usable;
// create tokens with New or NewWithExecutor.
type Token struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	reason string
	fired  bool
}

// New returns a fresh token and the function that cancels it.
func New() (*Token, CancelFunc) {
	t := &Token{done: make(chan struct{})}
	return t, t.cancel
}

// NewWithExecutor creates a token and passes its cancel function to
// executor before returning. The executor may retain the function and
// call it at any later time.
func NewWithExecutor(executor func(cancel CancelFunc)) *Token {
	t, cancelFn := New()
	if executor != nil {
		executor(cancelFn)
	}
	return t
}

func (t *Token) cancel(reason string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.reason = reason
		t.fired = true
		t.mu.Unlock()
		close(t.done)
	})
}

// IsCancelled returns true once the token has been cancelled.
func (t *Token) IsCancelled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fired
}

// Reason returns the cancellation reason, or "" if not cancelled.
func (t *Token) Reason() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reason
}

// Err returns a *CancelledError if the token has been cancelled, nil otherwise.
func (t *Token) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.fired {
		return nil
	}
	return &CancelledError{Reason: t.reason}
}

// Done returns a channel that is closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the token is cancelled and returns the reason.
// It only returns an error when ctx ends first.
func (t *Token) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.done:
		return t.Reason(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
