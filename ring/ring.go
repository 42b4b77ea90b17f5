// Package ring provides a fixed capacity FIFO that evicts its oldest value on overflow.
package ring

// Buffer holds at most Cap values in insertion order.
// It is not safe for concurrent use.
type Buffer[T any] struct {
	values []T
	index  int
	count  int
}

// New returns an empty buffer. Capacities below one are raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{values: make([]T, capacity)}
}

// Push appends v, returning the evicted value if the buffer was full.
func (b *Buffer[T]) Push(v T) (evicted T, ok bool) {
	if b.count == len(b.values) {
		evicted, ok = b.values[b.index], true
	} else {
		b.count++
	}
	b.values[b.index] = v
	b.index = (b.index + 1) % len(b.values)
	return evicted, ok
}

// Len returns the number of values held.
func (b *Buffer[T]) Len() int {
	return b.count
}

// Cap returns the maximum number of values held.
func (b *Buffer[T]) Cap() int {
	return len(b.values)
}

// Values returns a copy of the held values, oldest first.
func (b *Buffer[T]) Values() []T {
	out := make([]T, 0, b.count)
	start := (b.index - b.count + len(b.values)) % len(b.values)
	for i := range b.count {
		out = append(out, b.values[(start+i)%len(b.values)])
	}
	return out
}

// Last returns a copy of the newest n values, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	values := b.Values()
	if n >= len(values) {
		return values
	}
	if n <= 0 {
		return []T{}
	}
	return values[len(values)-n:]
}

// Reset empties the buffer.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.values {
		b.values[i] = zero
	}
	b.index = 0
	b.count = 0
}
