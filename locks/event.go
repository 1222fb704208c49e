package locks

import (
	"sync/atomic"
	"unsafe"

	"github.com/Swind/go-task-scheduler/core"
	"github.com/Swind/go-task-scheduler/parkinglot"
)

// Event is a manual-reset event. A worker waiting on it counts as blocked, so
// its priority class may run an extra thread until the event is set.
type Event struct {
	set atomic.Uint32
}

func (e *Event) addr() uintptr { return uintptr(unsafe.Pointer(&e.set)) }

// Set signals the event and wakes every waiter.
func (e *Event) Set() {
	if e.set.Swap(1) == 0 {
		parkinglot.WakeAll(e.addr())
	}
}

// Reset clears the event.
func (e *Event) Reset() { e.set.Store(0) }

// IsSet reports whether the event is signaled.
func (e *Event) IsSet() bool { return e.set.Load() == 1 }

// Wait blocks until the event is set.
func (e *Event) Wait() {
	if e.IsSet() {
		return
	}
	exit := core.EnterOversubscription()
	defer exit()
	for !e.IsSet() {
		parkinglot.Wait(e.addr(), func() bool { return !e.IsSet() }, nil)
	}
}
