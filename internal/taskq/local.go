package taskq

// Local is a worker's queue: one deque per priority level, level 0 highest.
type Local[T any] struct {
	levels []*Deque[T]
}

// NewLocal creates a queue with the given number of priority levels, each
// holding at least capacity items.
func NewLocal[T any](levels, capacity int) *Local[T] {
	l := &Local[T]{levels: make([]*Deque[T], levels)}
	for i := range l.levels {
		l.levels[i] = NewDeque[T](capacity)
	}
	return l
}

// Push adds v at the given level. Owner only. False means the level is full.
func (l *Local[T]) Push(level int, v *T) bool {
	return l.levels[level].Push(v)
}

// Pop takes the newest item of the first non-empty level from first onwards.
// Owner only.
func (l *Local[T]) Pop(first int) *T {
	for i := first; i < len(l.levels); i++ {
		if v := l.levels[i].Pop(); v != nil {
			return v
		}
	}
	return nil
}

// Steal takes the oldest item of the first non-empty level from first onwards.
func (l *Local[T]) Steal(first int) *T {
	for i := first; i < len(l.levels); i++ {
		if v := l.levels[i].Steal(); v != nil {
			return v
		}
	}
	return nil
}

// Len is an approximation under concurrent use.
func (l *Local[T]) Len() int {
	n := 0
	for _, d := range l.levels {
		n += d.Len()
	}
	return n
}

// DrainTo moves every remaining item, level by level, into push. It must only
// run once the owner and all thieves are gone.
func (l *Local[T]) DrainTo(push func(level int, v *T)) int {
	moved := 0
	for i, d := range l.levels {
		for v := d.Steal(); v != nil; v = d.Steal() {
			push(i, v)
			moved++
		}
	}
	return moved
}
