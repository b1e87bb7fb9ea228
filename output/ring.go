package output

// DefaultCapacity is the default number of lines kept per rolling store.
const DefaultCapacity = 1000

// Ring is a bounded circular buffer that evicts its oldest entries first.
// It is not safe for concurrent use; Store serializes access.
type Ring[T any] struct {
	items   []T
	start   int
	size    int
	evicted uint64
}

// NewRing creates a ring with the given capacity.
// If capacity <= 0, DefaultCapacity is used.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, overwriting the oldest entry when full.
// Returns true if an entry was evicted.
func (r *Ring[T]) Push(v T) bool {
	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.start+r.size)%capacity] = v
		r.size++
		return false
	}

	r.items[r.start] = v
	r.start = (r.start + 1) % capacity
	r.evicted++
	return true
}

// Snapshot returns the entries oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	capacity := len(r.items)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%capacity]
	}
	return out
}

// Retain keeps only the entries for which keep returns true, preserving order.
func (r *Ring[T]) Retain(keep func(T) bool) {
	all := r.Snapshot()
	kept := all[:0]
	for _, v := range all {
		if keep(v) {
			kept = append(kept, v)
		}
	}

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	copy(r.items, kept)
	r.start = 0
	r.size = len(kept)
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Evicted returns how many entries have been overwritten.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Truncated reports whether any entry has been lost to overflow.
func (r *Ring[T]) Truncated() bool { return r.evicted > 0 }

// Reset clears the ring.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.size = 0
	r.evicted = 0
}
