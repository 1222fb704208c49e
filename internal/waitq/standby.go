package waitq

import "fmt"

// budget is the number of threads allowed to be active right now.
func (q *Queue) budget() uint64 {
	b := q.nominal + int(q.oversubscription.Load())
	if b < 0 {
		return 0
	}
	return uint64(b)
}

// IncrementOversubscription raises the thread budget by one because a thread
// of this class is about to block for a reason other than lack of work. A
// waiting, standby or new thread is woken to pick up the slack.
func (q *Queue) IncrementOversubscription() {
	n := int(q.oversubscription.Add(1))
	if q.nominal+n >= len(q.nodes) && q.onLimitReached != nil {
		q.onLimitReached(n)
	}
	q.Notify(1)
}

// DecrementOversubscription lowers the budget again. Surplus threads retire
// into standby the next time they check ConditionalStandby.
func (q *Queue) DecrementOversubscription() {
	if n := q.oversubscription.Add(-1); n < 0 {
		panic(fmt.Sprintf("waitq: oversubscription count went negative (%d)", n))
	}
}

// IsOversubscriptionLimitReached reports whether the budget has hit the
// thread ceiling.
func (q *Queue) IsOversubscriptionLimitReached() bool {
	return q.nominal+int(q.oversubscription.Load()) >= len(q.nodes)
}

// ConditionalStandby parks the caller in standby if the class currently runs
// more threads than its budget. It returns true after the caller was parked
// and woken again, false if the caller is still needed or the queue is closed.
func (q *Queue) ConditionalStandby(index int) bool {
	n := &q.nodes[index]
	for {
		v := q.standby.Load()
		s := unpackStandby(v)
		if q.closed.Load() || s.active <= q.budget() {
			return false
		}
		n.reset()
		n.next.Store(s.top)
		ns := s.next()
		ns.top = uint64(index)
		ns.active--
		if q.standby.CompareAndSwap(v, ns.pack()) {
			n.epoch.Store(ns.pack())
			n.park(0, 0)
			return true
		}
	}
}

// PrepareStandby snapshots the standby word. The caller must re-check its
// work sources before calling CommitStandby.
func (q *Queue) PrepareStandby(index int) {
	q.nodes[index].epoch.Store(q.standby.Load())
}

// CommitStandby parks the caller in standby, provided nothing touched the
// standby word since PrepareStandby. Otherwise it returns false and the
// caller must loop, re-check for work and prepare again.
func (q *Queue) CommitStandby(index, spinCycles, waitCycles int) bool {
	n := &q.nodes[index]
	v := n.epoch.Load()
	s := unpackStandby(v)
	if q.closed.Load() {
		return false
	}
	if s.active == 0 {
		panic(fmt.Sprintf("waitq: CommitStandby on node %d with no active thread %v", index, s))
	}
	n.reset()
	n.next.Store(s.top)
	ns := s.next()
	ns.top = uint64(index)
	ns.active--
	if !q.standby.CompareAndSwap(v, ns.pack()) {
		return false
	}
	n.park(spinCycles, waitCycles)
	return true
}

// TryStartNewThread makes one more thread active if the budget allows it,
// reactivating a standby thread when one is parked and creating a new one
// otherwise. Every path bumps the standby epoch, so threads between
// PrepareStandby and CommitStandby notice and re-check for work.
func (q *Queue) TryStartNewThread() bool {
	for {
		v := q.standby.Load()
		s := unpackStandby(v)
		ns := s.next()

		if q.closed.Load() || s.active >= q.budget() {
			if q.standby.CompareAndSwap(v, ns.pack()) {
				return false
			}
			continue
		}

		if s.top != emptyIndex {
			n := &q.nodes[s.top]
			ns.top = n.next.Load()
			ns.active++
			if !q.standby.CompareAndSwap(v, ns.pack()) {
				continue
			}
			n.next.Store(emptyIndex)
			n.unpark()
			return true
		}

		if int(q.created.Load()) >= len(q.nodes) {
			if q.standby.CompareAndSwap(v, ns.pack()) {
				return false
			}
			continue
		}

		ns.active++
		if !q.standby.CompareAndSwap(v, ns.pack()) {
			continue
		}
		if q.spawn() {
			return true
		}
		q.releaseActive()
		return false
	}
}

// spawn reserves the next free node and hands it to the creation callback.
func (q *Queue) spawn() bool {
	if q.startThread == nil {
		return false
	}
	var index int32
	for {
		index = q.created.Load()
		if int(index) >= len(q.nodes) {
			return false
		}
		if q.created.CompareAndSwap(index, index+1) {
			break
		}
	}
	if !q.startThread(int(index)) {
		// The node stays reserved; its slot is never reused in this
		// generation, which only lowers the ceiling.
		return false
	}
	return true
}

// releaseActive undoes an active increment whose thread never started.
func (q *Queue) releaseActive() {
	for {
		v := q.standby.Load()
		s := unpackStandby(v)
		if s.active == 0 {
			panic("waitq: active thread count went negative")
		}
		ns := s.next()
		ns.active--
		if q.standby.CompareAndSwap(v, ns.pack()) {
			return
		}
	}
}

func (q *Queue) drainStandby() int {
	for {
		v := q.standby.Load()
		s := unpackStandby(v)
		ns := s.next()
		ns.top = emptyIndex
		if q.standby.CompareAndSwap(v, ns.pack()) {
			return q.unparkChain(s.top)
		}
	}
}
