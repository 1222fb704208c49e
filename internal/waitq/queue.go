// Package waitq implements the lock-free parking queue that worker threads of
// one priority class sleep on.
//
// A Queue owns a fixed array of nodes, one per potential worker thread, and two
// packed atomic words: the wait word (intrusive stack of parked nodes plus
// pre-wait and signal counters) and the standby word (intrusive stack of
// dormant oversubscription threads plus the active thread count). All
// transitions are CAS loops on those words; there is no lock.
package waitq

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Config describes one queue. Capacity is the maximum number of threads the
// class may ever run, including oversubscription threads.
type Config struct {
	// Capacity is the node array size. Must be in [1, MaxNodes].
	Capacity int

	// Nominal is the thread budget without oversubscription. Nodes with an
	// index at or above Nominal are standby nodes.
	Nominal int

	// StartThread is invoked with a freshly reserved node index when a new
	// thread must be created. Returning false aborts the start.
	StartThread func(index int) bool

	// OnLimitReached is invoked when an IncrementOversubscription call brings
	// the budget to the capacity ceiling.
	OnLimitReached func(oversubscription int)
}

// Queue is the per-class WaitingQueue.
type Queue struct {
	state atomic.Uint64
	_     cpu.CacheLinePad

	standby atomic.Uint64
	_       cpu.CacheLinePad

	oversubscription atomic.Int32
	created          atomic.Int32
	closed           atomic.Bool

	nominal        int
	nodes          []node
	startThread    func(index int) bool
	onLimitReached func(oversubscription int)
}

// New allocates a queue and its node array. The array is never resized.
func New(cfg Config) *Queue {
	if cfg.Capacity < 1 || cfg.Capacity > MaxNodes {
		panic(fmt.Sprintf("waitq: capacity %d out of range [1, %d]", cfg.Capacity, MaxNodes))
	}
	if cfg.Nominal < 0 || cfg.Nominal > cfg.Capacity {
		panic(fmt.Sprintf("waitq: nominal %d out of range [0, %d]", cfg.Nominal, cfg.Capacity))
	}
	q := &Queue{
		nominal:        cfg.Nominal,
		nodes:          make([]node, cfg.Capacity),
		startThread:    cfg.StartThread,
		onLimitReached: cfg.OnLimitReached,
	}
	for i := range q.nodes {
		q.nodes[i].init(i >= cfg.Nominal)
	}
	q.state.Store(queueState{top: emptyIndex}.pack())
	q.standby.Store(standbyState{top: emptyIndex}.pack())
	return q
}

// Capacity returns the node array size.
func (q *Queue) Capacity() int { return len(q.nodes) }

// Nominal returns the thread budget without oversubscription.
func (q *Queue) Nominal() int { return q.nominal }

// IsStandbyNode reports whether threads bound to index run the standby loop.
func (q *Queue) IsStandbyNode(index int) bool { return q.nodes[index].isStandby }

func (q *Queue) checkIndex(index int) {
	if index < 0 || index >= len(q.nodes) {
		panic(fmt.Sprintf("waitq: node index %d out of range [0, %d)", index, len(q.nodes)))
	}
}

// PrepareWait registers the caller as about to wait. It must be called before
// the caller re-checks its work sources: any Notify that lands after this
// point is aimed at the caller and cannot be lost.
func (q *Queue) PrepareWait(index int) {
	q.checkIndex(index)
	for {
		v := q.state.Load()
		s := unpackQueue(v)
		ns := s.next()
		ns.waiters++
		if q.state.CompareAndSwap(v, ns.pack()) {
			return
		}
	}
}

// CommitWait parks the caller after a PrepareWait. If a signal is already
// pending it is consumed and CommitWait returns without blocking. A lost CAS
// returns false and leaves the caller prepared; the caller is expected to
// re-check its work sources and commit again.
func (q *Queue) CommitWait(index, spinCycles, waitCycles int) bool {
	n := &q.nodes[index]
	n.reset()

	v := q.state.Load()
	s := unpackQueue(v)
	if s.waiters == 0 {
		panic(fmt.Sprintf("waitq: CommitWait on node %d without PrepareWait %v", index, s))
	}
	ns := s.next()
	ns.waiters--
	if s.signals > 0 {
		ns.signals--
		return q.state.CompareAndSwap(v, ns.pack())
	}

	n.next.Store(s.top)
	ns.top = uint64(index)
	if !q.state.CompareAndSwap(v, ns.pack()) {
		return false
	}
	n.park(spinCycles, waitCycles)
	return true
}

// CancelWait withdraws a PrepareWait after the caller found work. When the
// number of waiters equals the number of signals one of those signals may have
// been meant for the caller, so it is consumed; CancelWait then returns true
// and the caller must wake a replacement.
func (q *Queue) CancelWait(index int) bool {
	q.checkIndex(index)
	for {
		v := q.state.Load()
		s := unpackQueue(v)
		if s.waiters == 0 {
			panic(fmt.Sprintf("waitq: CancelWait on node %d without PrepareWait %v", index, s))
		}
		ns := s.next()
		consumed := false
		if s.waiters == s.signals {
			ns.signals--
			consumed = true
		}
		ns.waiters--
		if q.state.CompareAndSwap(v, ns.pack()) {
			return consumed
		}
	}
}

// Notify requests count wakes and returns how many were delivered. A count
// at or above the node capacity wakes everything.
func (q *Queue) Notify(count int) int {
	if count <= 0 {
		return 0
	}
	if count >= len(q.nodes) {
		return q.notifyAll()
	}

	notified := 0
	for notified < count {
		v := q.state.Load()
		s := unpackQueue(v)

		if s.stackEmpty() && s.waiters == s.signals {
			// Nobody is parked or about to park.
			if !q.TryStartNewThread() {
				return notified
			}
			notified++
			continue
		}

		ns := s.next()
		if s.signals < s.waiters {
			// Aim the wake at a thread in its pre-wait window.
			ns.signals++
			if q.state.CompareAndSwap(v, ns.pack()) {
				notified++
			}
			continue
		}

		n := &q.nodes[s.top]
		ns.top = n.next.Load()
		if !q.state.CompareAndSwap(v, ns.pack()) {
			continue
		}
		n.next.Store(emptyIndex)
		n.unpark()
		notified++
	}
	return notified
}

func (q *Queue) notifyAll() int {
	for {
		v := q.state.Load()
		s := unpackQueue(v)
		if s.stackEmpty() && s.waiters == s.signals {
			return 0
		}
		ns := s.next()
		ns.top = emptyIndex
		ns.signals = s.waiters
		if q.state.CompareAndSwap(v, ns.pack()) {
			return int(s.waiters-s.signals) + q.unparkChain(s.top)
		}
	}
}

// unparkChain wakes every node of a stack that was detached from its word.
func (q *Queue) unparkChain(top uint64) int {
	woken := 0
	for idx := top; idx != emptyIndex; {
		n := &q.nodes[idx]
		idx = n.next.Load()
		n.next.Store(emptyIndex)
		n.unpark()
		woken++
	}
	return woken
}

// Close wakes every parked and standby thread and refuses further thread
// starts. Worker loops are expected to observe their own termination flag.
func (q *Queue) Close() {
	q.closed.Store(true)
	q.notifyAll()
	q.drainStandby()
}

// Snapshot is a decoded, point-in-time view of both words.
type Snapshot struct {
	Capacity         int
	Nominal          int
	Created          int
	Active           int
	Standby          int
	Waiters          int
	Signals          int
	Parked           bool
	Oversubscription int
	Epoch            uint64
}

// Snapshot decodes the current words. Fields are read independently and may
// be mutually inconsistent under contention.
func (q *Queue) Snapshot() Snapshot {
	s := unpackQueue(q.state.Load())
	sb := unpackStandby(q.standby.Load())
	created := int(q.created.Load())
	standby := created - int(sb.active)
	if standby < 0 {
		standby = 0
	}
	return Snapshot{
		Capacity:         len(q.nodes),
		Nominal:          q.nominal,
		Created:          created,
		Active:           int(sb.active),
		Standby:          standby,
		Waiters:          int(s.waiters),
		Signals:          int(s.signals),
		Parked:           !s.stackEmpty(),
		Oversubscription: int(q.oversubscription.Load()),
		Epoch:            s.epoch,
	}
}
