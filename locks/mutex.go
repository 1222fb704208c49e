// Package locks provides blocking primitives that park on the parkinglot and
// cooperate with the scheduler's oversubscription accounting.
package locks

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/Swind/go-task-scheduler/core"
	"github.com/Swind/go-task-scheduler/parkinglot"
)

const (
	lockedBit         uint32 = 1
	mayHaveWaitersBit uint32 = 2

	// mutexSpinLimit bounds how often a contended Lock yields before parking.
	mutexSpinLimit = 40
)

// UnlockPolicy selects how Unlock hands the mutex to a parked waiter.
type UnlockPolicy int

const (
	// UnlockImmediately releases the mutex first and then wakes a waiter,
	// which competes with any newcomer for it.
	UnlockImmediately UnlockPolicy = iota
	// WakeThenUnlock dequeues a waiter and releases the mutex while the
	// parkinglot bucket is still locked.
	WakeThenUnlock
)

// Mutex is a small, unfair mutual exclusion lock. The zero value is unlocked.
// Waiters park on the parkinglot keyed by the mutex address and do not count
// as blocked for oversubscription purposes.
type Mutex struct {
	state atomic.Uint32

	// Policy must not change while the mutex is in use.
	Policy UnlockPolicy
}

func (m *Mutex) addr() uintptr { return uintptr(unsafe.Pointer(&m.state)) }

// TryLock acquires the mutex if it is free.
func (m *Mutex) TryLock() bool {
	for s := m.state.Load(); s&lockedBit == 0; s = m.state.Load() {
		if m.state.CompareAndSwap(s, s|lockedBit) {
			return true
		}
	}
	return false
}

// Lock acquires the mutex, parking the caller if it stays contended.
func (m *Mutex) Lock() {
	if m.state.CompareAndSwap(0, lockedBit) {
		return
	}
	m.lockSlow()
}

func (m *Mutex) lockSlow() {
	spins := 0
	for {
		s := m.state.Load()
		if s&lockedBit == 0 {
			if m.state.CompareAndSwap(s, s|lockedBit) {
				return
			}
			continue
		}

		if s&mayHaveWaitersBit == 0 {
			if spins < mutexSpinLimit {
				spins++
				runtime.Gosched()
				continue
			}
			if !m.state.CompareAndSwap(s, s|mayHaveWaitersBit) {
				continue
			}
		}

		restore := core.DisallowOversubscription()
		parkinglot.Wait(m.addr(), func() bool {
			return m.state.Load() == lockedBit|mayHaveWaitersBit
		}, nil)
		restore()
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *Mutex) Unlock() {
	if m.state.CompareAndSwap(lockedBit, 0) {
		return
	}
	m.unlockSlow()
}

func (m *Mutex) unlockSlow() {
	if m.state.Load()&lockedBit == 0 {
		panic("locks: unlock of unlocked Mutex")
	}

	switch m.Policy {
	case WakeThenUnlock:
		parkinglot.WakeOne(m.addr(), func(st parkinglot.WakeState) {
			m.release(!st.HasWaitersLeft)
		})
	default:
		m.release(false)
		parkinglot.WakeOne(m.addr(), func(st parkinglot.WakeState) {
			if !st.HasWaitersLeft {
				m.clearWaiters()
			}
		})
	}
}

// release clears the locked bit and, with clearWaiters, the waiters flag.
func (m *Mutex) release(clearWaiters bool) {
	for {
		s := m.state.Load()
		if s&lockedBit == 0 {
			panic("locks: unlock of unlocked Mutex")
		}
		ns := s &^ lockedBit
		if clearWaiters {
			ns &^= mayHaveWaitersBit
		}
		if m.state.CompareAndSwap(s, ns) {
			return
		}
	}
}

func (m *Mutex) clearWaiters() {
	for {
		s := m.state.Load()
		if m.state.CompareAndSwap(s, s&^mayHaveWaitersBit) {
			return
		}
	}
}

// IsLocked reports whether the mutex is currently held.
func (m *Mutex) IsLocked() bool { return m.state.Load()&lockedBit != 0 }
