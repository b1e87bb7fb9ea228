package bus

import "sync"

// backlog feeds one subscriber of a coalescing bus. Values queue up to
// limit; beyond that a value overwrites the newest queued value with the
// same key, so the latest value of every key is always delivered.
type backlog[T any] struct {
	key   func(T) string
	limit int
	out   chan T

	mu     sync.Mutex
	items  []T
	closed bool

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

func newBacklog[T any](limit int, key func(T) string) *backlog[T] {
	q := &backlog[T]{
		key:   key,
		limit: limit,
		out:   make(chan T),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
	go q.run()
	return q
}

// push queues v and reports whether it replaced an undelivered value.
func (q *backlog[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	replaced := false
	if len(q.items) >= q.limit {
		k := q.key(v)
		for i := len(q.items) - 1; i >= 0; i-- {
			if q.key(q.items[i]) == k {
				q.items[i] = v
				replaced = true
				break
			}
		}
	}
	if !replaced {
		q.items = append(q.items, v)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return replaced
}

// close stops accepting values. Queued values are still delivered before
// the output channel is closed.
func (q *backlog[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// stop abandons queued values and closes the output channel.
func (q *backlog[T]) stop() {
	q.close()
	q.quitOnce.Do(func() { close(q.quit) })
}

func (q *backlog[T]) run() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.quit:
			return
		}
	}
}
