package waitq

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Per-node park state.
const (
	NotSignaled uint32 = iota
	Waiting
	Signaled
)

// node is one slot of the fixed WaitEvent array. Nodes are addressed by index
// and linked through next, never by pointer.
type node struct {
	next  atomic.Uint64 // index of the node below this one in a stack
	epoch atomic.Uint64 // packed standby word observed by PrepareStandby
	state atomic.Uint32

	// event is a binary event: at most one pending wake.
	event chan struct{}

	isStandby bool

	_ cpu.CacheLinePad
}

func (n *node) init(isStandby bool) {
	n.next.Store(emptyIndex)
	n.state.Store(NotSignaled)
	n.event = make(chan struct{}, 1)
	n.isStandby = isStandby
}

// park blocks the calling thread until the node is signaled. It first spins
// for spinCycles iterations, then yields for waitCycles iterations, and only
// then blocks on the event.
func (n *node) park(spinCycles, waitCycles int) {
	for i := 0; i < spinCycles; i++ {
		if n.state.Load() == Signaled {
			return
		}
	}
	for i := 0; i < waitCycles; i++ {
		if n.state.Load() == Signaled {
			return
		}
		runtime.Gosched()
	}
	if !n.state.CompareAndSwap(NotSignaled, Waiting) {
		// Signaled while spinning.
		return
	}
	<-n.event
}

// unpark marks the node signaled and triggers the OS event only when the
// owner is actually blocked on it. A node that is still spinning observes the
// state change on its own.
func (n *node) unpark() {
	if n.state.Swap(Signaled) == Waiting {
		n.event <- struct{}{}
	}
}

// reset prepares the node for another park. It must happen before the node
// becomes reachable from a stack.
func (n *node) reset() {
	n.state.Store(NotSignaled)
}
