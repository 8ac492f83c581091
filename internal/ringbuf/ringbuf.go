// Package ringbuf provides a fixed-capacity, double-ended ring buffer used by
// the rolling-window statistics. Capacity is rounded up to a power of two so
// index wrapping is a bitwise mask. A Ring is owned by one evaluation and is
// not safe for concurrent use.
package ringbuf

// Ring is a double-ended queue over a preallocated circular buffer.
type Ring[T any] struct {
	buf  []T
	mask int
	head int // index of the front element
	n    int

	// Overflow counts rejected pushes on a full ring.
	overflow uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New[T any](capacity int) *Ring[T] {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring[T]{
		buf:  make([]T, c),
		mask: c - 1,
	}
}

// PushBack appends v at the back. Returns false if the ring is full (v is NOT
// written in that case).
func (r *Ring[T]) PushBack(v T) bool {
	if r.n == len(r.buf) {
		r.overflow++
		return false
	}
	r.buf[(r.head+r.n)&r.mask] = v
	r.n++
	return true
}

// PopFront removes and returns the oldest element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) & r.mask
	r.n--
	return v, true
}

// PopBack removes and returns the newest element.
func (r *Ring[T]) PopBack() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	idx := (r.head + r.n - 1) & r.mask
	v := r.buf[idx]
	r.buf[idx] = zero
	r.n--
	return v, true
}

// Front returns the oldest element without removing it.
func (r *Ring[T]) Front() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

// Back returns the newest element without removing it.
func (r *Ring[T]) Back() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.n-1)&r.mask], true
}

// At returns the i-th element counted from the front. It panics when i is out
// of range, like a slice index.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)&r.mask]
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full reports whether another PushBack would be rejected.
func (r *Ring[T]) Full() bool { return r.n == len(r.buf) }

// Overflow returns the total number of rejected pushes.
func (r *Ring[T]) Overflow() uint64 { return r.overflow }

// Reset empties the ring, keeping its storage.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.n, r.overflow = 0, 0, 0
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
