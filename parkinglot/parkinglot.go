// Package parkinglot parks goroutines on arbitrary addresses.
//
// Any word in memory can serve as the key of a FIFO of parked goroutines, so a
// lock only needs a couple of state bits and no wait-queue field of its own.
// Waiters are kept in a fixed table of buckets, each guarded by its own mutex.
package parkinglot

import (
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"
)

// WaitState is the outcome of Wait.
type WaitState int

const (
	// Skipped means canWait returned false and the caller never parked.
	Skipped WaitState = iota
	// Woken means the caller parked and was woken by WakeOne or WakeAll.
	Woken
)

// WakeState describes what a WakeOne call did.
type WakeState struct {
	// DidWake reports whether a waiter was dequeued.
	DidWake bool
	// HasWaitersLeft reports whether other goroutines are still parked on
	// the same address.
	HasWaitersLeft bool
}

const bucketCount = 256

type waiter struct {
	wake chan struct{}
}

type bucket struct {
	mu     sync.Mutex
	queues map[uintptr]*queue.Queue
	_      cpu.CacheLinePad
}

var (
	buckets [bucketCount]bucket

	waiterPool = sync.Pool{
		New: func() any { return &waiter{wake: make(chan struct{}, 1)} },
	}
)

func bucketFor(addr uintptr) *bucket {
	// Fibonacci hashing of the address, dropping alignment bits.
	h := uint64(addr>>3) * 0x9E3779B97F4A7C15
	return &buckets[h>>56]
}

// Wait parks the caller on addr. canWait runs under the bucket lock, so a
// waker that changes the guarded state and then calls WakeOne cannot slip in
// between the check and the enqueue. beforeWait runs after the caller is
// enqueued and the lock is released, right before it blocks. Either callback
// may be nil.
func Wait(addr uintptr, canWait func() bool, beforeWait func()) WaitState {
	b := bucketFor(addr)
	b.mu.Lock()
	if canWait != nil && !canWait() {
		b.mu.Unlock()
		return Skipped
	}
	w := waiterPool.Get().(*waiter)
	if b.queues == nil {
		b.queues = make(map[uintptr]*queue.Queue)
	}
	q, ok := b.queues[addr]
	if !ok {
		q = queue.New()
		b.queues[addr] = q
	}
	q.Add(w)
	b.mu.Unlock()

	if beforeWait != nil {
		beforeWait()
	}
	<-w.wake
	waiterPool.Put(w)
	return Woken
}

// WakeOne wakes the oldest goroutine parked on addr. onWake, if not nil, runs
// under the bucket lock with the result before the waiter is released, so it
// can update the guarded state atomically with respect to new waiters.
func WakeOne(addr uintptr, onWake func(WakeState)) WakeState {
	b := bucketFor(addr)
	b.mu.Lock()
	var w *waiter
	var st WakeState
	if q, ok := b.queues[addr]; ok {
		w = q.Remove().(*waiter)
		st.DidWake = true
		if q.Length() == 0 {
			delete(b.queues, addr)
		} else {
			st.HasWaitersLeft = true
		}
	}
	if onWake != nil {
		onWake(st)
	}
	b.mu.Unlock()

	if w != nil {
		w.wake <- struct{}{}
	}
	return st
}

// WakeAll wakes every goroutine parked on addr and returns how many there were.
func WakeAll(addr uintptr) int {
	b := bucketFor(addr)
	b.mu.Lock()
	q, ok := b.queues[addr]
	if ok {
		delete(b.queues, addr)
	}
	b.mu.Unlock()
	if !ok {
		return 0
	}

	n := 0
	for q.Length() > 0 {
		q.Remove().(*waiter).wake <- struct{}{}
		n++
	}
	return n
}

// Waiters returns the number of goroutines parked on addr.
func Waiters(addr uintptr) int {
	b := bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[addr]; ok {
		return q.Length()
	}
	return 0
}
