package core

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/Swind/go-task-scheduler/internal/taskq"
)

// testHookBeforeCommitWait runs between a worker's last re-check for work and
// CommitWait. Tests use it to land launches inside that window.
var testHookBeforeCommitWait func(class PriorityClass, index int)

// worker is the per-thread context of one worker.
type worker struct {
	sched *Scheduler
	gen   *generation
	pool  *classPool
	index int
	local *taskq.Local[entry]
	ctx   context.Context

	goid atomic.Int64
	tid  atomic.Int64

	// allow gates EnterOversubscription; cleared by DisallowOversubscription.
	// Only the worker's own goroutine touches it.
	allow bool
}

type workerKey struct{}

// workerFrom returns the worker carried by ctx, if any.
func workerFrom(ctx context.Context) *worker {
	if ctx == nil {
		return nil
	}
	w, _ := ctx.Value(workerKey{}).(*worker)
	return w
}

// WorkerInfo describes the worker a task runs on.
type WorkerInfo struct {
	Class      PriorityClass
	Index      int
	ThreadID   int
	Standby    bool
	Generation uint64
}

// WorkerFromContext returns the worker running the current task. ok is false
// for inline execution and for contexts not derived from a task's.
func WorkerFromContext(ctx context.Context) (info WorkerInfo, ok bool) {
	w := workerFrom(ctx)
	if w == nil {
		return WorkerInfo{}, false
	}
	return WorkerInfo{
		Class:      w.pool.class,
		Index:      w.index,
		ThreadID:   int(w.tid.Load()),
		Standby:    w.pool.queue.IsStandbyNode(w.index),
		Generation: w.gen.id,
	}, true
}

func (w *worker) main(forkable bool) {
	defer w.gen.wg.Done()

	// The thread is never unlocked: it exits with the goroutine, taking its
	// priority and affinity settings with it.
	runtime.LockOSThread()
	if !forkable {
		w.configureThread()
	}
	w.goid.Store(goid.Get())
	w.tid.Store(int64(currentThreadID()))

	registerWorker(w)
	defer unregisterWorker(w)

	if w.pool.queue.IsStandbyNode(w.index) {
		w.standbyLoop()
	} else {
		w.loop()
	}
}

func (w *worker) configureThread() {
	logger := w.sched.logger
	if err := setThreadPriority(w.pool.priority); err != nil {
		logger.Debug("set thread priority failed",
			F("class", w.pool.class),
			F("index", w.index),
			F("priority", w.pool.priority),
			F("error", err))
	}
	if err := setThreadAffinity(w.pool.affinity); err != nil {
		logger.Debug("set thread affinity failed",
			F("class", w.pool.class),
			F("index", w.index),
			F("affinity", w.pool.affinity),
			F("error", err))
	}
}

func (w *worker) stopped() bool {
	return w.gen.stopping.Load() || w.sched.activeWorkers.Load() == 0
}

// loop is the normal worker loop.
func (w *worker) loop() {
	q := w.pool.queue
	spin, wait := w.cycles()
	prepared := false
	for {
		if w.stopped() {
			if prepared && q.CancelWait(w.index) {
				q.Notify(1)
			}
			return
		}

		if e := w.findWork(); e != nil {
			if prepared {
				prepared = false
				if q.CancelWait(w.index) {
					// We took a wake meant for someone else.
					q.Notify(1)
				}
			}
			w.execute(e)
			continue
		}

		if !prepared {
			q.PrepareWait(w.index)
			prepared = true
			// Re-check every source once more before committing.
			continue
		}

		if hook := testHookBeforeCommitWait; hook != nil {
			hook(w.pool.class, w.index)
		}
		if q.CommitWait(w.index, spin, wait) {
			prepared = false
		}
	}
}

// standbyLoop runs oversubscription threads. They retire to standby whenever
// the class has more active threads than its budget.
func (w *worker) standbyLoop() {
	q := w.pool.queue
	spin, wait := w.cycles()
	for {
		if w.stopped() {
			return
		}
		if e := w.findWork(); e != nil {
			w.execute(e)
			q.ConditionalStandby(w.index)
			continue
		}

		q.PrepareStandby(w.index)
		if w.stopped() {
			return
		}
		if e := w.findWork(); e != nil {
			w.execute(e)
			q.ConditionalStandby(w.index)
			continue
		}
		q.CommitStandby(w.index, spin, wait)
	}
}

func (w *worker) cycles() (spin, wait int) {
	return max(w.sched.config.SpinCycles, 0), max(w.sched.config.WaitCycles, 0)
}

// findWork looks for a task: primary queue, own queue, global queue, then the
// queues of the other workers of the class starting at a random one.
func (w *worker) findWork() *entry {
	first := w.pool.class.firstLevel()

	if e := w.gen.primary.Steal(first); e != nil {
		return e
	}
	if e := w.local.Pop(first); e != nil {
		return e
	}
	if e := w.sched.global.Pop(first); e != nil {
		return e
	}

	locals := w.pool.locals
	n := len(locals)
	start := rand.IntN(n)
	for k := 0; k < n; k++ {
		i := (start + k) % n
		if i == w.index {
			continue
		}
		if l := locals[i].Load(); l != nil {
			if e := l.Steal(first); e != nil {
				return e
			}
		}
	}
	return nil
}

// execute runs the task of e and relaunches its continuation from this worker
// with the preference the task was launched with.
func (w *worker) execute(e *entry) {
	next := w.sched.runTask(w.ctx, e.task, w.pool.class, w.index)
	if next != nil {
		w.sched.TryLaunch(w.ctx, next, e.pref, true)
	}
}
