package waitq

import "fmt"

// =============================================================================
// Packed state words
// =============================================================================
//
// Both words share the low stack field so a node index can be moved between
// them without reshaping.
//
//	queue word:   | epoch:22 | signals:14 | waiters:14 | top:14 |
//	standby word: | epoch:36 |            active:14   | top:14 |
//
// The epoch field is bumped on every successful compare-and-swap. Any code
// that keeps a copy of a word around (standby prepare/commit, stack pops that
// read node.next) relies on that to detect reuse of a freed stack slot.

const (
	stackBits  = 14
	countBits  = 14
	stackMask  = uint64(1)<<stackBits - 1
	countMask  = uint64(1)<<countBits - 1
	emptyIndex = stackMask

	// MaxNodes is the largest node array a queue can address. The last index
	// is reserved as the empty-stack sentinel.
	MaxNodes = int(stackMask)

	waiterShift = stackBits
	signalShift = stackBits + countBits
	epochShift  = stackBits + 2*countBits
	epochBits   = 64 - epochShift
	epochMask   = uint64(1)<<epochBits - 1

	activeShift       = stackBits
	standbyEpochShift = stackBits + countBits
	standbyEpochBits  = 64 - standbyEpochShift
	standbyEpochMask  = uint64(1)<<standbyEpochBits - 1
)

// queueState is the decoded form of the WaitingQueue word.
type queueState struct {
	top     uint64 // index of the most recently parked node, emptyIndex if none
	waiters uint64 // threads between PrepareWait and CommitWait/CancelWait
	signals uint64 // wakes aimed at pre-wait threads, not yet consumed
	epoch   uint64
}

func unpackQueue(v uint64) queueState {
	return queueState{
		top:     v & stackMask,
		waiters: (v >> waiterShift) & countMask,
		signals: (v >> signalShift) & countMask,
		epoch:   (v >> epochShift) & epochMask,
	}
}

func (s queueState) pack() uint64 {
	s.check()
	return s.top |
		s.waiters<<waiterShift |
		s.signals<<signalShift |
		(s.epoch&epochMask)<<epochShift
}

// next returns a copy with the epoch advanced, ready to be stored by CAS.
func (s queueState) next() queueState {
	s.epoch = (s.epoch + 1) & epochMask
	return s
}

func (s queueState) stackEmpty() bool { return s.top == emptyIndex }

func (s queueState) check() {
	if s.waiters < s.signals {
		panic(fmt.Sprintf("waitq: waiter count %d below signal count %d", s.waiters, s.signals))
	}
	if s.waiters > countMask || s.signals > countMask || s.top > stackMask {
		panic(fmt.Sprintf("waitq: queue word field overflow (top=%d waiters=%d signals=%d)", s.top, s.waiters, s.signals))
	}
}

func (s queueState) String() string {
	top := "empty"
	if !s.stackEmpty() {
		top = fmt.Sprint(s.top)
	}
	return fmt.Sprintf("{top:%s waiters:%d signals:%d epoch:%d}", top, s.waiters, s.signals, s.epoch)
}

// standbyState is the decoded form of the StandbyState word.
type standbyState struct {
	top    uint64 // most recently parked standby node, emptyIndex if none
	active uint64 // threads of this class that are not parked in standby
	epoch  uint64
}

func unpackStandby(v uint64) standbyState {
	return standbyState{
		top:    v & stackMask,
		active: (v >> activeShift) & countMask,
		epoch:  (v >> standbyEpochShift) & standbyEpochMask,
	}
}

func (s standbyState) pack() uint64 {
	if s.active > countMask || s.top > stackMask {
		panic(fmt.Sprintf("waitq: standby word field overflow (top=%d active=%d)", s.top, s.active))
	}
	return s.top | s.active<<activeShift | (s.epoch&standbyEpochMask)<<standbyEpochShift
}

func (s standbyState) next() standbyState {
	s.epoch = (s.epoch + 1) & standbyEpochMask
	return s
}

func (s standbyState) String() string {
	top := "empty"
	if s.top != emptyIndex {
		top = fmt.Sprint(s.top)
	}
	return fmt.Sprintf("{top:%s active:%d epoch:%d}", top, s.active, s.epoch)
}
