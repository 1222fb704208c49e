package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// newTestScheduler creates a quiet scheduler and stops it when the test ends.
func newTestScheduler(t *testing.T, mutate func(cfg *SchedulerConfig)) *Scheduler {
	t.Helper()
	cfg := &SchedulerConfig{
		Logger:     NewNoOpLogger(),
		SpinCycles: 16,
		WaitCycles: 2,
	}
	if mutate != nil {
		mutate(cfg)
	}
	s := NewScheduler(cfg)
	t.Cleanup(func() { s.StopWorkers(false) })
	return s
}

func opts(fg, bg int) WorkerOptions {
	return WorkerOptions{Foreground: fg, Background: bg}
}

// waitClosed fails the test if ch is not closed within timeout.
func waitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
}

// recordingPanicHandler collects recovered panics.
type recordingPanicHandler struct {
	mu     sync.Mutex
	values []any
	ids    []int
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, class PriorityClass, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, panicInfo)
	h.ids = append(h.ids, workerID)
}

func (h *recordingPanicHandler) snapshot() ([]any, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.values...), append([]int(nil), h.ids...)
}

// countingMetrics counts the events tests care about.
type countingMetrics struct {
	NilMetrics
	mu            sync.Mutex
	inline        int
	threads       map[PriorityClass]int
	limitsReached map[PriorityClass]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		threads:       make(map[PriorityClass]int),
		limitsReached: make(map[PriorityClass]int),
	}
}

func (m *countingMetrics) RecordInlineExecution(priority Priority) {
	m.mu.Lock()
	m.inline++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordThreadStarted(class PriorityClass, standby bool) {
	m.mu.Lock()
	m.threads[class]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordOversubscriptionLimitReached(class PriorityClass) {
	m.mu.Lock()
	m.limitsReached[class]++
	m.mu.Unlock()
}

func (m *countingMetrics) get(f func(m *countingMetrics) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(m)
}
