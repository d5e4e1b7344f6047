package rt

import (
	"fmt"
	"sync/atomic"
)

// Queue is a bounded lock-free single-producer/single-consumer ring
// queue. Push and Pop never block: Push reports false when the queue is
// full, Pop reports false when it is empty. Capacity is rounded up to a
// power of two and fixed at construction.
type Queue[T any] struct {
	buf  []T
	mask uint64
	head atomic.Uint64 // next slot to pop (consumer-owned)
	tail atomic.Uint64 // next slot to push (producer-owned)
}

// NewQueue returns a queue holding at least capacity elements.
func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be > 0: %d", capacity)
	}

	size := 1
	for size < capacity {
		size <<= 1
	}

	return &Queue[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
	}, nil
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Len returns the number of queued elements. The value is a snapshot;
// it is exact only for the calling side of the queue.
func (q *Queue[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Push enqueues v. It reports false when the queue is full.
func (q *Queue[T]) Push(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() >= uint64(len(q.buf)) {
		return false
	}
	q.buf[tail&q.mask] = v
	// The element write must be visible before the tail publish; the
	// atomic store provides the release ordering.
	q.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest element. It reports false when the queue is
// empty.
func (q *Queue[T]) Pop() (T, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		var zero T
		return zero, false
	}
	v := q.buf[head&q.mask]
	q.head.Store(head + 1)
	return v, true
}
