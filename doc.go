// Package taskscheduler provides a multi-priority work-stealing task scheduler
// for Go.
//
// Tasks are launched onto two pools of locked OS threads: a foreground class
// for latency-sensitive work and a background class for everything else. Each
// worker owns a priority-segmented local queue; idle workers steal from their
// peers and from a shared global queue, and park on a lock-free waiting queue
// when there is nothing left to do.
//
// # Quick Start
//
// Start the process-wide scheduler at application startup:
//
//	taskscheduler.StartDefault(nil, taskscheduler.DefaultWorkerOptions())
//	defer taskscheduler.ShutdownDefault(true)
//
// Launch work on it:
//
//	taskscheduler.Go(ctx, taskscheduler.PriorityNormal, func(ctx context.Context) {
//		// Your code here
//	})
//
// # Key Concepts
//
// Task: the unit of work. PrepareLaunch guards against launching the same task
// twice, and Execute may return a continuation that is launched on the same
// worker's local queue.
//
// Priority: five queue levels. The two highest run on foreground workers; the
// three background levels run on background workers, which fall back to
// foreground workers when the background pool has none.
//
// Oversubscription: a worker about to block calls EnterOversubscription so its
// class may run a standby thread in its place, up to the configured ratio.
// The locks package provides Mutex, RecursiveMutex and Event built on this.
//
// # Lifecycle
//
// StartWorkers, StopWorkers and RestartWorkers may be called while tasks are
// being launched from other goroutines; no launched task is lost. Launches made
// while no workers exist run inline on the caller.
//
// # Example
//
//	s := taskscheduler.NewScheduler(nil)
//	if err := s.StartWorkers(taskscheduler.WorkerOptions{Foreground: 2, Background: 2}); err != nil {
//		log.Fatal(err)
//	}
//	defer s.StopWorkers(true)
//
//	s.Launch(ctx, taskscheduler.NewTask(taskscheduler.PriorityHigh, func(ctx context.Context) {
//		println("hello from a worker")
//	}))
package taskscheduler
