package rt

import "sync/atomic"

// Cell is a single-producer/single-consumer parameter cell. The
// producer publishes whole values with Store; the consumer claims the
// most recent pending value with Take, typically once per buffer at the
// start of a render callback. Intermediate values are coalesced:
// only the latest unclaimed value is observed.
type Cell[T any] struct {
	pending atomic.Pointer[T]
}

// Store publishes v, replacing any unclaimed previous value.
// Store allocates; it must only be called from the control side.
func (c *Cell[T]) Store(v T) {
	c.pending.Store(&v)
}

// Take claims the pending value, if any. It never blocks and performs
// no allocation, so it is safe on the render path.
func (c *Cell[T]) Take() (T, bool) {
	p := c.pending.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Peek returns the pending value without claiming it.
func (c *Cell[T]) Peek() (T, bool) {
	p := c.pending.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
