package taskq

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Deque is a bounded Chase-Lev work-stealing deque. Push and Pop may only be
// called by the owning thread; Steal may be called by anyone.
type Deque[T any] struct {
	top    atomic.Int64
	_      cpu.CacheLinePad
	bottom atomic.Int64
	_      cpu.CacheLinePad
	mask   int64
	slots  []atomic.Pointer[T]
}

// NewDeque creates a deque holding at least capacity items.
func NewDeque[T any](capacity int) *Deque[T] {
	size := roundPow2(capacity)
	return &Deque[T]{
		mask:  int64(size - 1),
		slots: make([]atomic.Pointer[T], size),
	}
}

// Push adds v at the owner end. It returns false when the deque is full.
func (d *Deque[T]) Push(v *T) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t > d.mask {
		return false
	}
	d.slots[b&d.mask].Store(v)
	d.bottom.Store(b + 1)
	return true
}

// Pop removes the most recently pushed item; nil if empty.
func (d *Deque[T]) Pop() *T {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	t := d.top.Load()
	if t > b {
		d.bottom.Store(b + 1)
		return nil
	}
	v := d.slots[b&d.mask].Load()
	if t == b {
		// Last item: race thieves for it.
		if !d.top.CompareAndSwap(t, t+1) {
			v = nil
		}
		d.bottom.Store(b + 1)
	}
	return v
}

// Steal removes the oldest item; nil if empty. A lost race with another
// thief is retried so a non-empty deque never reports empty.
func (d *Deque[T]) Steal() *T {
	for {
		t := d.top.Load()
		b := d.bottom.Load()
		if t >= b {
			return nil
		}
		v := d.slots[t&d.mask].Load()
		if d.top.CompareAndSwap(t, t+1) {
			return v
		}
	}
}

// Len is an approximation under concurrent use.
func (d *Deque[T]) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
