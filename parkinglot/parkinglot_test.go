package parkinglot

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrOf(v *atomic.Int32) uintptr { return uintptr(unsafe.Pointer(v)) }

// TestWait_SkippedWhenCanWaitFalse verifies canWait gates parking
func TestWait_SkippedWhenCanWaitFalse(t *testing.T) {
	var word atomic.Int32
	beforeCalled := false

	st := Wait(addrOf(&word), func() bool { return false }, func() { beforeCalled = true })

	assert.Equal(t, Skipped, st)
	assert.False(t, beforeCalled)
	assert.Equal(t, 0, Waiters(addrOf(&word)))
}

// TestWakeOne_NoWaiters verifies the callback still runs with an empty result
func TestWakeOne_NoWaiters(t *testing.T) {
	var word atomic.Int32
	var seen WakeState
	called := false

	st := WakeOne(addrOf(&word), func(s WakeState) {
		called = true
		seen = s
	})

	assert.True(t, called)
	assert.Equal(t, WakeState{}, st)
	assert.Equal(t, st, seen)
}

// TestWakeOne_FIFO verifies waiters are woken oldest first
// Main test items:
// 1. Each WakeOne releases exactly one parked goroutine
// 2. HasWaitersLeft reflects the remaining queue
// 3. The queue for the address is removed once empty
func TestWakeOne_FIFO(t *testing.T) {
	// Arrange
	var word atomic.Int32
	addr := addrOf(&word)
	const n = 4
	order := make(chan int, n)

	for i := 0; i < n; i++ {
		go func(i int) {
			Wait(addr, nil, nil)
			order <- i
		}(i)
		// Park the goroutines one at a time so the queue order is known.
		require.Eventually(t, func() bool { return Waiters(addr) == i+1 }, 5*time.Second, time.Millisecond)
	}

	// Act & Assert
	for i := 0; i < n; i++ {
		st := WakeOne(addr, nil)
		assert.True(t, st.DidWake)
		assert.Equal(t, i < n-1, st.HasWaitersLeft)
		select {
		case got := <-order:
			assert.Equal(t, i, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("waiter %d was not woken", i)
		}
	}
	assert.Equal(t, 0, Waiters(addr))
}

// TestWakeAll verifies every waiter on the address is released and other
// addresses are untouched
func TestWakeAll(t *testing.T) {
	var word, other atomic.Int32
	addr, otherAddr := addrOf(&word), addrOf(&other)
	const n = 8

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Wait(addr, nil, nil)
		}()
	}
	otherDone := make(chan struct{})
	go func() {
		Wait(otherAddr, nil, nil)
		close(otherDone)
	}()
	require.Eventually(t, func() bool {
		return Waiters(addr) == n && Waiters(otherAddr) == 1
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, n, WakeAll(addr))
	wg.Wait()
	assert.Equal(t, 1, Waiters(otherAddr))

	assert.Equal(t, 1, WakeAll(otherAddr))
	<-otherDone
	assert.Equal(t, 0, WakeAll(addr))
}

// TestWait_NoLostWakeup verifies the canWait check and a state change followed
// by WakeAll cannot interleave so that a waiter sleeps forever
func TestWait_NoLostWakeup(t *testing.T) {
	for round := 0; round < 200; round++ {
		var flag atomic.Int32
		addr := addrOf(&flag)
		done := make(chan struct{})

		go func() {
			for flag.Load() == 0 {
				Wait(addr, func() bool { return flag.Load() == 0 }, nil)
			}
			close(done)
		}()

		flag.Store(1)
		WakeAll(addr)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: waiter missed the wakeup", round)
		}
	}
}

// TestWait_BeforeWaitRunsAfterEnqueue verifies beforeWait observes the caller
// already queued
func TestWait_BeforeWaitRunsAfterEnqueue(t *testing.T) {
	var word atomic.Int32
	addr := addrOf(&word)
	queued := make(chan int, 1)

	go Wait(addr, nil, func() { queued <- Waiters(addr) })

	select {
	case n := <-queued:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("beforeWait did not run")
	}
	assert.True(t, WakeOne(addr, nil).DidWake)
}
