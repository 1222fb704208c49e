package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"

	"github.com/Swind/go-task-scheduler/internal/taskq"
	"github.com/Swind/go-task-scheduler/internal/waitq"
)

// entry is the queued form of a task.
type entry struct {
	task Task
	pref QueuePreference
}

// Scheduler runs tasks on two pools of worker threads, foreground and
// background, each sleeping on its own waitq.Queue.
//
// A Scheduler is idle until StartWorkers; while idle, launched tasks run inline
// on the launching goroutine.
type Scheduler struct {
	config       SchedulerConfig
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler

	// lifecycleMu serialises StartWorkers, StopWorkers and RestartWorkers.
	lifecycleMu sync.Mutex
	generations uint64

	gen    atomic.Pointer[generation]
	global *taskq.Global[entry]

	activeWorkers     atomic.Int32
	temporaryShutdown atomic.Bool
	pendingWakes      atomic.Int32
	inflight          atomic.Int32
	inlineExecutions  atomic.Int64
}

// NewScheduler creates an idle scheduler.
func NewScheduler(config *SchedulerConfig) *Scheduler {
	cfg := config.withDefaults()
	return &Scheduler{
		config:       cfg,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		panicHandler: cfg.PanicHandler,
		global:       taskq.NewGlobal[entry](NumPriorities, cfg.GlobalQueueCapacity),
	}
}

// =============================================================================
// Generation: state that lives from one StartWorkers to the next StopWorkers
// =============================================================================

type generation struct {
	id      uint64
	opts    WorkerOptions
	classes [numClasses]*classPool

	// primary is stolen from by workers and pushed to by the goroutine
	// holding a PrimaryContext. Pushes are serialised by primaryMu.
	primary   *taskq.Local[entry]
	primaryMu sync.Mutex

	wg       sync.WaitGroup
	createMu sync.Mutex
	stopping atomic.Bool
}

type classPool struct {
	class    PriorityClass
	nominal  int
	max      int
	priority ThreadPriority
	affinity uint64

	queue   *waitq.Queue
	locals  []atomic.Pointer[taskq.Local[entry]]
	workers []atomic.Pointer[worker]
}

func (s *Scheduler) newGeneration(opts WorkerOptions) *generation {
	s.generations++
	gen := &generation{
		id:      s.generations,
		opts:    opts,
		primary: taskq.NewLocal[entry](NumPriorities, s.config.LocalQueueCapacity),
	}
	nominal := [numClasses]int{opts.Foreground, opts.Background}
	priority := [numClasses]ThreadPriority{opts.ForegroundPriority, opts.BackgroundPriority}
	affinity := [numClasses]uint64{opts.ForegroundAffinity, opts.BackgroundAffinity}

	for c := range gen.classes {
		class := PriorityClass(c)
		pool := &classPool{
			class:    class,
			nominal:  nominal[c],
			max:      maxThreads(nominal[c], s.config.OversubscriptionRatio),
			priority: priority[c],
			affinity: affinity[c],
		}
		pool.locals = make([]atomic.Pointer[taskq.Local[entry]], pool.max)
		pool.workers = make([]atomic.Pointer[worker], pool.max)
		pool.queue = waitq.New(waitq.Config{
			Capacity: pool.max,
			Nominal:  pool.nominal,
			StartThread: func(index int) bool {
				return s.startThread(gen, pool, index)
			},
			OnLimitReached: func(n int) {
				s.onLimitReached(class, n)
			},
		})
		gen.classes[c] = pool
	}
	return gen
}

// startThread is the waitq creation callback.
func (s *Scheduler) startThread(gen *generation, pool *classPool, index int) bool {
	gen.createMu.Lock()
	defer gen.createMu.Unlock()
	if gen.stopping.Load() {
		return false
	}

	w := &worker{
		sched: s,
		gen:   gen,
		pool:  pool,
		index: index,
		local: taskq.NewLocal[entry](NumPriorities, s.config.LocalQueueCapacity),
		allow: true,
	}
	w.ctx = context.WithValue(context.Background(), workerKey{}, w)
	pool.locals[index].Store(w.local)
	pool.workers[index].Store(w)

	gen.wg.Add(1)
	go w.main(gen.opts.Forkable == Forkable)

	s.metrics.RecordThreadStarted(pool.class, pool.queue.IsStandbyNode(index))
	s.logger.Debug("worker thread started",
		F("class", pool.class),
		F("index", index),
		F("standby", pool.queue.IsStandbyNode(index)),
		F("generation", int64(gen.id)))
	return true
}

func (s *Scheduler) onLimitReached(class PriorityClass, n int) {
	s.logger.Warn("oversubscription limit reached",
		F("class", class),
		F("oversubscription", n))
	s.metrics.RecordOversubscriptionLimitReached(class)
	if cb := s.config.OnOversubscriptionLimitReached; cb != nil {
		cb(class, n)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// StartWorkers creates the worker pools. It fails with ErrAlreadyStarted if
// workers are running.
func (s *Scheduler) StartWorkers(opts WorkerOptions) error {
	if err := opts.validate(); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.gen.Load() != nil {
		return fmt.Errorf("start workers: %w", ErrAlreadyStarted)
	}
	s.startLocked(opts)
	s.wakeForGlobal()
	return nil
}

func (s *Scheduler) startLocked(opts WorkerOptions) {
	gen := s.newGeneration(opts)
	s.gen.Store(gen)
	s.activeWorkers.Store(int32(opts.Foreground + opts.Background))

	if !s.config.DynamicThreadCreation {
		for _, pool := range gen.classes {
			for i := 0; i < pool.nominal; i++ {
				if !pool.queue.TryStartNewThread() {
					break
				}
			}
		}
	}

	s.logger.Info("workers started",
		F("generation", int64(gen.id)),
		F("foreground", opts.Foreground),
		F("background", opts.Background),
		F("foreground_max", gen.classes[ClassForeground].max),
		F("background_max", gen.classes[ClassBackground].max),
		F("forkable", opts.Forkable == Forkable),
		F("dynamic", s.config.DynamicThreadCreation))
}

// wakeForGlobal wakes workers for tasks queued while nobody was running.
func (s *Scheduler) wakeForGlobal() {
	gen := s.gen.Load()
	if gen == nil {
		return
	}
	for _, pool := range gen.classes {
		if s.global.Len() == 0 {
			return
		}
		pool.queue.Notify(max(pool.nominal, 1))
	}
}

// StopWorkers stops and joins every worker. Tasks left in worker queues move
// to the global queue; with drainGlobalQueue they are then run inline on the
// caller. Launches during and after the stop are never lost: they queue
// globally while the stop is in progress and run inline once it is done.
func (s *Scheduler) StopWorkers(drainGlobalQueue bool) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.stopLocked(drainGlobalQueue, false)
}

func (s *Scheduler) stopLocked(drain, restarting bool) {
	gen := s.gen.Load()
	if gen != nil {
		start := time.Now()
		s.temporaryShutdown.Store(true)
		s.waitPendingWakes()
		s.activeWorkers.Store(0)

		gen.createMu.Lock()
		gen.stopping.Store(true)
		gen.createMu.Unlock()

		for _, pool := range gen.classes {
			pool.queue.Close()
		}
		gen.wg.Wait()

		moved := s.moveLeftovers(gen)
		s.gen.Store(nil)

		s.logger.Info("workers stopped",
			F("generation", int64(gen.id)),
			F("moved_to_global", moved),
			F("restarting", restarting),
			F("elapsed", time.Since(start)))
	}
	if restarting {
		return
	}
	s.temporaryShutdown.Store(false)
	if gen != nil {
		s.waitInflight()
	}
	if drain {
		s.drainGlobal()
	}
}

// RestartWorkers replaces the worker pools without running anything inline:
// launches during the restart queue globally and are picked up by the new
// workers.
func (s *Scheduler) RestartWorkers(opts WorkerOptions) error {
	if err := opts.validate(); err != nil {
		return fmt.Errorf("restart workers: %w", err)
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.temporaryShutdown.Store(true)
	s.stopLocked(false, true)
	s.startLocked(opts)
	s.temporaryShutdown.Store(false)
	// Launches that saw the flag hold a pending wake until their global push
	// is visible.
	s.waitPendingWakes()
	s.wakeForGlobal()
	return nil
}

func (s *Scheduler) waitPendingWakes() {
	for s.pendingWakes.Load() != 0 {
		runtime.Gosched()
	}
}

func (s *Scheduler) waitInflight() {
	for s.inflight.Load() != 0 {
		runtime.Gosched()
	}
}

func (s *Scheduler) moveLeftovers(gen *generation) int {
	push := func(level int, e *entry) { s.global.Push(level, e) }
	moved := gen.primary.DrainTo(push)
	for _, pool := range gen.classes {
		for i := range pool.locals {
			if l := pool.locals[i].Load(); l != nil {
				moved += l.DrainTo(push)
			}
		}
	}
	return moved
}

func (s *Scheduler) drainGlobal() {
	ctx := context.Background()
	for e := s.global.Pop(0); e != nil; e = s.global.Pop(0) {
		s.executeInline(ctx, e.task)
	}
}

// =============================================================================
// Launch
// =============================================================================

// Launch queues task with local preference and wakes a worker.
func (s *Scheduler) Launch(ctx context.Context, task Task) bool {
	return s.TryLaunch(ctx, task, LocalQueuePreference, true)
}

// TryLaunch queues task for execution. It returns false, without queueing,
// when task.PrepareLaunch refuses the launch.
//
// While no workers are running the task and its continuations run inline on
// the caller before TryLaunch returns.
func (s *Scheduler) TryLaunch(ctx context.Context, task Task, pref QueuePreference, wake bool) bool {
	if task == nil || !task.PrepareLaunch() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	if s.activeWorkers.Load() == 0 && !s.temporaryShutdown.Load() {
		s.executeInline(ctx, task)
		return true
	}

	level := queueLevel(task)
	class := classOf(task)
	e := &entry{task: task, pref: pref}

	// pendingWakes brackets everything between the flag check and the wake,
	// so a stop cannot tear down the pools underneath us.
	s.pendingWakes.Add(1)
	if s.temporaryShutdown.Load() {
		s.global.Push(level, e)
		s.pendingWakes.Add(-1)
		return true
	}
	gen := s.gen.Load()
	if gen == nil {
		// Stopped between the worker check and here.
		s.pendingWakes.Add(-1)
		s.executeInline(ctx, task)
		return true
	}

	w := workerFrom(ctx)
	if w != nil && w.gen != gen {
		w = nil
	}
	switch {
	case w != nil && w.pool.class != class:
		s.global.Push(level, e)
	case isPrimaryContext(ctx, s):
		gen.primaryMu.Lock()
		ok := gen.primary.Push(level, e)
		gen.primaryMu.Unlock()
		if !ok {
			s.global.Push(level, e)
		}
		wake = true
	case pref == LocalQueuePreference && w != nil && w.goid.Load() == goid.Get():
		if !w.local.Push(level, e) {
			s.global.Push(level, e)
		}
	default:
		s.global.Push(level, e)
	}

	if wake {
		s.wake(gen, class)
	}
	s.pendingWakes.Add(-1)
	return true
}

func (s *Scheduler) wake(gen *generation, class PriorityClass) {
	woken := gen.classes[class].queue.Notify(1)
	s.metrics.RecordWake(class, woken)
	if woken == 0 && class == ClassBackground {
		// Foreground workers run background levels too.
		woken = gen.classes[ClassForeground].queue.Notify(1)
		s.metrics.RecordWake(ClassForeground, woken)
	}
}

// =============================================================================
// Execution
// =============================================================================

// runTask executes t with panic recovery and returns its continuation.
func (s *Scheduler) runTask(ctx context.Context, t Task, class PriorityClass, workerID int) (next Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			next = nil
			s.panicHandler.HandlePanic(ctx, class, workerID, r, debug.Stack())
			s.metrics.RecordTaskPanic(class, r)
		}
		s.metrics.RecordTaskDuration(class, t.Priority(), time.Since(start))
	}()
	return t.Execute(ctx)
}

// executeInline runs t and its continuations on the calling goroutine.
func (s *Scheduler) executeInline(ctx context.Context, t Task) {
	for t != nil {
		s.inlineExecutions.Add(1)
		s.metrics.RecordInlineExecution(t.Priority())
		next := s.runTask(ctx, t, classOf(t), -1)
		if next == nil || !next.PrepareLaunch() {
			return
		}
		t = next
	}
}

// =============================================================================
// Oversubscription and introspection
// =============================================================================

// IncrementOversubscription raises the thread budget of class by one.
func (s *Scheduler) IncrementOversubscription(class PriorityClass) {
	if gen := s.gen.Load(); gen != nil {
		gen.classes[class].queue.IncrementOversubscription()
	}
}

// DecrementOversubscription undoes IncrementOversubscription.
func (s *Scheduler) DecrementOversubscription(class PriorityClass) {
	if gen := s.gen.Load(); gen != nil {
		gen.classes[class].queue.DecrementOversubscription()
	}
}

// IsOversubscriptionLimitReached reports whether class runs at its thread ceiling.
func (s *Scheduler) IsOversubscriptionLimitReached(class PriorityClass) bool {
	gen := s.gen.Load()
	return gen != nil && gen.classes[class].queue.IsOversubscriptionLimitReached()
}

// NumWorkers returns the nominal number of workers, 0 when stopped.
func (s *Scheduler) NumWorkers() int {
	return int(s.activeWorkers.Load())
}

// IsRunning returns whether workers are running.
func (s *Scheduler) IsRunning() bool {
	return s.gen.Load() != nil
}

// WorkerThreadIDs returns the OS thread ids of the started workers of class.
// Ids are goroutine ids on platforms without thread ids.
func (s *Scheduler) WorkerThreadIDs(class PriorityClass) []int {
	gen := s.gen.Load()
	if gen == nil {
		return nil
	}
	var ids []int
	pool := gen.classes[class]
	for i := range pool.workers {
		if w := pool.workers[i].Load(); w != nil {
			if tid := int(w.tid.Load()); tid != 0 {
				ids = append(ids, tid)
			}
		}
	}
	return ids
}

// Stats returns a snapshot of scheduler state. Fields are read independently.
func (s *Scheduler) Stats() SchedulerStats {
	st := SchedulerStats{
		TemporaryShutdown: s.temporaryShutdown.Load(),
		ActiveWorkers:     int(s.activeWorkers.Load()),
		PendingWakes:      int(s.pendingWakes.Load()),
		GlobalQueued:      s.global.Len(),
		InlineExecutions:  s.inlineExecutions.Load(),
	}
	for p := 0; p < NumPriorities; p++ {
		st.GlobalByPriority[p] = s.global.LevelLen(p)
	}
	st.Foreground.Class = ClassForeground
	st.Background.Class = ClassBackground

	gen := s.gen.Load()
	if gen == nil {
		return st
	}
	st.Running = true
	st.Generation = gen.id
	st.PrimaryQueued = gen.primary.Len()
	st.Foreground = gen.classes[ClassForeground].stats()
	st.Background = gen.classes[ClassBackground].stats()
	return st
}

func (p *classPool) stats() ClassStats {
	snap := p.queue.Snapshot()
	cs := ClassStats{
		Class:            p.class,
		Nominal:          p.nominal,
		MaxThreads:       p.max,
		Created:          snap.Created,
		Active:           snap.Active,
		Standby:          snap.Standby,
		Waiters:          snap.Waiters,
		Signals:          snap.Signals,
		Parked:           snap.Parked,
		Oversubscription: snap.Oversubscription,
		LimitReached:     p.queue.IsOversubscriptionLimitReached(),
	}
	for i := range p.locals {
		if l := p.locals[i].Load(); l != nil {
			cs.LocalQueued += l.Len()
		}
	}
	return cs
}
