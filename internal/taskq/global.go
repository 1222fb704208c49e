package taskq

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Global is the shared queue every thread can push to and pop from. Each
// priority level has a lock-free ring; pushes that find the ring full land in
// a mutex-guarded overflow FIFO, so Push never fails.
type Global[T any] struct {
	rings []*Ring[T]

	mu       sync.Mutex
	overflow []*queue.Queue
	spilled  []atomic.Int64
}

// NewGlobal creates a queue with the given number of levels whose rings hold
// at least capacity items each.
func NewGlobal[T any](levels, capacity int) *Global[T] {
	g := &Global[T]{
		rings:    make([]*Ring[T], levels),
		overflow: make([]*queue.Queue, levels),
		spilled:  make([]atomic.Int64, levels),
	}
	for i := 0; i < levels; i++ {
		g.rings[i] = NewRing[T](capacity)
		g.overflow[i] = queue.New()
	}
	return g
}

// Push adds v at the given level.
func (g *Global[T]) Push(level int, v *T) {
	if g.rings[level].Enqueue(v) {
		return
	}
	g.mu.Lock()
	g.overflow[level].Add(v)
	g.spilled[level].Add(1)
	g.mu.Unlock()
}

// Pop takes an item from the first non-empty level from first onwards.
func (g *Global[T]) Pop(first int) *T {
	for i := first; i < len(g.rings); i++ {
		if v := g.rings[i].Dequeue(); v != nil {
			return v
		}
		if g.spilled[i].Load() > 0 {
			if v := g.popOverflow(i); v != nil {
				return v
			}
		}
	}
	return nil
}

func (g *Global[T]) popOverflow(level int) *T {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.overflow[level].Length() == 0 {
		return nil
	}
	g.spilled[level].Add(-1)
	return g.overflow[level].Remove().(*T)
}

// Len is an approximation under concurrent use.
func (g *Global[T]) Len() int {
	n := 0
	for i, r := range g.rings {
		n += r.Len() + int(g.spilled[i].Load())
	}
	return n
}

// LevelLen reports the approximate number of items queued at one level.
func (g *Global[T]) LevelLen(level int) int {
	return g.rings[level].Len() + int(g.spilled[level].Load())
}
