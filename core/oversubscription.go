package core

import (
	"sync"

	"github.com/petermattis/goid"
)

// Blocking primitives have no context to read the worker from, so live
// workers are also indexed by goroutine id.
var liveWorkers sync.Map // int64 goroutine id -> *worker

func registerWorker(w *worker) { liveWorkers.Store(w.goid.Load(), w) }

func unregisterWorker(w *worker) { liveWorkers.Delete(w.goid.Load()) }

// currentWorker returns the worker running on the calling goroutine.
func currentWorker() *worker {
	v, ok := liveWorkers.Load(goid.Get())
	if !ok {
		return nil
	}
	return v.(*worker)
}

// IsWorkerThread reports whether the caller is a scheduler worker.
func IsWorkerThread() bool { return currentWorker() != nil }

// EnterOversubscription tells the scheduler that the calling worker is about
// to block, so its class may run one extra thread meanwhile. The returned
// function must be called once the caller stops blocking. Outside workers, or
// inside a DisallowOversubscription scope, both calls are no-ops.
//
//	exit := core.EnterOversubscription()
//	<-done
//	exit()
func EnterOversubscription() (exit func()) {
	w := currentWorker()
	if w == nil || !w.allow {
		return func() {}
	}
	q := w.pool.queue
	q.IncrementOversubscription()
	return q.DecrementOversubscription
}

// DisallowOversubscription suppresses EnterOversubscription on the calling
// worker until restore is called. Used around short waits that must not
// spawn threads, such as contended mutexes.
func DisallowOversubscription() (restore func()) {
	w := currentWorker()
	if w == nil {
		return func() {}
	}
	prev := w.allow
	w.allow = false
	return func() { w.allow = prev }
}
