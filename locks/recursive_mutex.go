package locks

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/petermattis/goid"

	"github.com/Swind/go-task-scheduler/core"
	"github.com/Swind/go-task-scheduler/parkinglot"
)

const (
	recursiveWaitersBit uint32 = 1
	recursiveCountOne   uint32 = 1 << 1
	recursiveMaxCount   uint32 = 1<<31 - 1
)

// RecursiveMutex may be locked again by the goroutine that holds it; it is
// released once Unlock has been called as often as Lock. The zero value is
// unlocked.
type RecursiveMutex struct {
	state atomic.Uint32 // waiters:1 | count:31
	owner atomic.Int64  // goroutine id, valid while count > 0
}

func (m *RecursiveMutex) addr() uintptr { return uintptr(unsafe.Pointer(&m.state)) }

func recursiveCount(s uint32) uint32 { return s >> 1 }

// TryLock acquires or re-enters the mutex if that does not require waiting.
func (m *RecursiveMutex) TryLock() bool {
	id := goid.Get()
	if m.owner.Load() == id {
		m.reenter()
		return true
	}
	for s := m.state.Load(); recursiveCount(s) == 0; s = m.state.Load() {
		if m.state.CompareAndSwap(s, s+recursiveCountOne) {
			m.owner.Store(id)
			return true
		}
	}
	return false
}

// Lock acquires the mutex or increments the hold count if the caller owns it.
func (m *RecursiveMutex) Lock() {
	id := goid.Get()
	if m.owner.Load() == id {
		m.reenter()
		return
	}

	spins := 0
	for {
		s := m.state.Load()
		if recursiveCount(s) == 0 {
			if m.state.CompareAndSwap(s, s+recursiveCountOne) {
				m.owner.Store(id)
				return
			}
			continue
		}

		if s&recursiveWaitersBit == 0 {
			if spins < mutexSpinLimit {
				spins++
				runtime.Gosched()
				continue
			}
			if !m.state.CompareAndSwap(s, s|recursiveWaitersBit) {
				continue
			}
		}

		restore := core.DisallowOversubscription()
		parkinglot.Wait(m.addr(), func() bool {
			s := m.state.Load()
			return recursiveCount(s) != 0 && s&recursiveWaitersBit != 0
		}, nil)
		restore()
	}
}

func (m *RecursiveMutex) reenter() {
	if recursiveCount(m.state.Load()) == recursiveMaxCount {
		panic("locks: RecursiveMutex lock count overflow")
	}
	m.state.Add(recursiveCountOne)
}

// Unlock releases one hold. It panics if the caller does not own the mutex.
func (m *RecursiveMutex) Unlock() {
	if m.owner.Load() != goid.Get() || recursiveCount(m.state.Load()) == 0 {
		panic("locks: RecursiveMutex unlocked by a goroutine that does not hold it")
	}

	if recursiveCount(m.state.Load()) > 1 {
		m.state.Add(^(recursiveCountOne - 1))
		return
	}

	// Final release: forget the owner before anyone else can take the lock.
	m.owner.Store(0)
	var s uint32
	for {
		s = m.state.Load()
		if m.state.CompareAndSwap(s, s-recursiveCountOne) {
			break
		}
	}
	if s&recursiveWaitersBit == 0 {
		return
	}
	parkinglot.WakeOne(m.addr(), func(st parkinglot.WakeState) {
		if st.HasWaitersLeft {
			return
		}
		for {
			s := m.state.Load()
			if m.state.CompareAndSwap(s, s&^recursiveWaitersBit) {
				return
			}
		}
	})
}

// LockCount returns how many times the current owner holds the mutex.
func (m *RecursiveMutex) LockCount() int { return int(recursiveCount(m.state.Load())) }
