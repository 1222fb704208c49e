package taskscheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/Swind/go-task-scheduler/core"
)

// =============================================================================
// Process-wide Scheduler (Singleton)
// =============================================================================

var (
	defaultScheduler *Scheduler
	defaultMu        sync.Mutex
)

// StartDefault creates the process-wide scheduler with config and starts its
// workers. Calling it again while the default scheduler exists is a no-op.
func StartDefault(config *SchedulerConfig, opts WorkerOptions) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler != nil {
		return nil
	}

	s := core.NewScheduler(config)
	if err := s.StartWorkers(opts); err != nil {
		return fmt.Errorf("start default scheduler: %w", err)
	}
	defaultScheduler = s
	return nil
}

// Default returns the process-wide scheduler.
// It panics if StartDefault has not been called.
func Default() *Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler == nil {
		panic("default scheduler not started. Call StartDefault() first.")
	}
	return defaultScheduler
}

// ShutdownDefault stops the process-wide scheduler, optionally running the
// tasks still in its global queue on the calling goroutine.
func ShutdownDefault(drainGlobalQueue bool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler != nil {
		defaultScheduler.StopWorkers(drainGlobalQueue)
		defaultScheduler = nil
	}
}

// Go launches fn on the process-wide scheduler with the given priority.
func Go(ctx context.Context, priority Priority, fn func(ctx context.Context)) bool {
	return Default().Launch(ctx, core.NewTask(priority, fn))
}
