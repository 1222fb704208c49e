// Package taskq holds the task containers the scheduler moves work through:
// a bounded multi-producer multi-consumer ring, the per-worker work-stealing
// deque and the priority-segmented global queue built from them.
package taskq

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Ring is a bounded MPMC queue using per-cell sequence numbers (Vyukov).
// Capacity is rounded up to a power of two.
type Ring[T any] struct {
	head  atomic.Uint64
	_     cpu.CacheLinePad
	tail  atomic.Uint64
	_     cpu.CacheLinePad
	mask  uint64
	cells []ringCell[T]
}

type ringCell[T any] struct {
	sequence atomic.Uint64
	data     *T
}

// NewRing creates a ring holding at least capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	size := roundPow2(capacity)
	r := &Ring[T]{
		mask:  uint64(size - 1),
		cells: make([]ringCell[T], size),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

// Cap returns the rounded capacity.
func (r *Ring[T]) Cap() int { return len(r.cells) }

// Enqueue adds v; returns false if the ring is full.
func (r *Ring[T]) Enqueue(v *T) bool {
	for {
		tail := r.tail.Load()
		c := &r.cells[tail&r.mask]
		dif := int64(c.sequence.Load()) - int64(tail)
		switch {
		case dif == 0:
			if r.tail.CompareAndSwap(tail, tail+1) {
				c.data = v
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		}
		// tail moved, retry
	}
}

// Dequeue removes the oldest item; nil if the ring is empty.
func (r *Ring[T]) Dequeue() *T {
	for {
		head := r.head.Load()
		c := &r.cells[head&r.mask]
		dif := int64(c.sequence.Load()) - int64(head+1)
		switch {
		case dif == 0:
			if r.head.CompareAndSwap(head, head+1) {
				v := c.data
				c.data = nil
				c.sequence.Store(head + r.mask + 1)
				return v
			}
		case dif < 0:
			return nil
		}
	}
}

// Len is an approximation under concurrent use.
func (r *Ring[T]) Len() int {
	n := int64(r.tail.Load()) - int64(r.head.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}

func roundPow2(n int) int {
	if n < 2 {
		n = 2
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
