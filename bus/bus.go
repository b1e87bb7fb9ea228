// Package bus provides an in-process broadcast bus. The daemon uses one bus
// for status transitions and one for log line batches; transports subscribe
// to push them to UI collaborators.
package bus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

type subscriber[T any] struct {
	ch      chan T
	filter  func(T) bool
	backlog *backlog[T]
}

// Bus broadcasts values of type T to every subscriber.
// Publish never blocks: a value is dropped for a subscriber whose buffer is
// full. On a coalescing bus it instead replaces the subscriber's newest
// undelivered value with the same key. Safe for concurrent use.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber[T]
	nextID      uint64
	buffer      int
	key         func(T) string
	closed      bool
	dropped     atomic.Uint64
}

// New creates a bus with DefaultBuffer per subscriber.
func New[T any]() *Bus[T] {
	return NewWithBuffer[T](DefaultBuffer)
}

// NewWithBuffer creates a bus with the given per-subscriber buffer.
func NewWithBuffer[T any](buffer int) *Bus[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus[T]{
		subscribers: make(map[uint64]*subscriber[T]),
		buffer:      buffer,
	}
}

// NewCoalescing creates a bus that never loses the latest value of a key.
// A subscriber that falls more than buffer values behind only skips
// intermediate values; the newest value per key is always delivered, also
// across Close.
func NewCoalescing[T any](buffer int, key func(T) string) *Bus[T] {
	b := NewWithBuffer[T](buffer)
	b.key = key
	return b
}

// Subscribe returns a channel receiving every published value. The
// unsubscribe function closes the channel and must be called when done.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeWhere(nil)
}

// SubscribeWhere is like Subscribe but only delivers values for which
// filter returns true. A nil filter accepts everything.
func (b *Bus[T]) SubscribeWhere(filter func(T) bool) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	sub := &subscriber[T]{filter: filter}
	var out <-chan T
	if b.key != nil {
		sub.backlog = newBacklog(b.buffer, b.key)
		out = sub.backlog.out
	} else {
		sub.ch = make(chan T, b.buffer)
		out = sub.ch
	}
	b.subscribers[id] = sub

	return out, func() {
		b.mu.Lock()
		_, ok := b.subscribers[id]
		delete(b.subscribers, id)
		b.mu.Unlock()

		// A coalescing subscriber may still be draining after Close.
		if sub.backlog != nil {
			sub.backlog.stop()
		} else if ok {
			close(sub.ch)
		}
	}
}

// Publish sends v to all matching subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, s := range b.subscribers {
		if s.filter != nil && !s.filter(v) {
			continue
		}
		if s.backlog != nil {
			if s.backlog.push(v) {
				b.dropped.Add(1)
			}
			continue
		}
		select {
		case s.ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored and
// later subscriptions receive an already-closed channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subscribers {
		if s.backlog != nil {
			s.backlog.close()
		} else {
			close(s.ch)
		}
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped or coalesced because a
// subscriber was not keeping up.
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}
