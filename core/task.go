package core

import (
	"context"
	"sync/atomic"
)

// Task is the unit of work the scheduler runs. Tasks are owned by the caller;
// the scheduler only invokes them.
type Task interface {
	// PrepareLaunch marks the task as launched. Only the first call returns
	// true; the scheduler refuses tasks whose PrepareLaunch returns false.
	PrepareLaunch() bool

	// Execute runs the task. A non-nil return is a continuation that the
	// scheduler launches next.
	Execute(ctx context.Context) Task

	// IsBackgroundTask selects the priority class that runs the task.
	IsBackgroundTask() bool

	// Priority is the queue level within the class.
	Priority() Priority
}

// =============================================================================
// Priority: queue levels, highest first
// =============================================================================

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityBackgroundHigh
	PriorityBackgroundNormal
	PriorityBackgroundLow

	// NumPriorities is the number of queue levels.
	NumPriorities = int(PriorityBackgroundLow) + 1
)

// IsBackground reports whether p belongs to the background class.
func (p Priority) IsBackground() bool { return p >= PriorityBackgroundHigh }

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityBackgroundHigh:
		return "background_high"
	case PriorityBackgroundNormal:
		return "background_normal"
	case PriorityBackgroundLow:
		return "background_low"
	default:
		return "unknown"
	}
}

// PriorityClass is one of the two worker pools.
type PriorityClass int

const (
	ClassForeground PriorityClass = iota
	ClassBackground

	numClasses = 2
)

func (c PriorityClass) String() string {
	if c == ClassBackground {
		return "background"
	}
	return "foreground"
}

// firstLevel is the highest queue level a worker of class c may take.
// Foreground workers also run background work opportunistically.
func (c PriorityClass) firstLevel() int {
	if c == ClassBackground {
		return int(PriorityBackgroundHigh)
	}
	return int(PriorityHigh)
}

// classOf returns the class that owns t.
func classOf(t Task) PriorityClass {
	if t.IsBackgroundTask() {
		return ClassBackground
	}
	return ClassForeground
}

// queueLevel maps t onto a queue level consistent with its class, so that a
// background task never lands on a level background workers skip.
func queueLevel(t Task) int {
	p := t.Priority()
	if p < PriorityHigh || int(p) >= NumPriorities {
		p = PriorityNormal
	}
	switch bg := t.IsBackgroundTask(); {
	case bg && !p.IsBackground():
		p = PriorityBackgroundNormal
	case !bg && p.IsBackground():
		p = PriorityNormal
	}
	return int(p)
}

// QueuePreference selects where TryLaunch queues a task.
type QueuePreference int

const (
	// LocalQueuePreference queues on the calling worker's own queue when
	// possible, falling back to the global queue.
	LocalQueuePreference QueuePreference = iota
	// GlobalQueuePreference always uses the global queue.
	GlobalQueuePreference
)

// =============================================================================
// FuncTask: closure adapter
// =============================================================================

// FuncTask adapts a function to Task.
type FuncTask struct {
	priority Priority
	fn       func(ctx context.Context) Task
	launched atomic.Bool
}

var _ Task = (*FuncTask)(nil)

// NewTask wraps fn as a task without continuation.
func NewTask(priority Priority, fn func(ctx context.Context)) *FuncTask {
	return &FuncTask{
		priority: priority,
		fn: func(ctx context.Context) Task {
			fn(ctx)
			return nil
		},
	}
}

// NewContinuationTask wraps fn; the task fn returns is launched after it.
func NewContinuationTask(priority Priority, fn func(ctx context.Context) Task) *FuncTask {
	return &FuncTask{priority: priority, fn: fn}
}

func (t *FuncTask) PrepareLaunch() bool { return t.launched.CompareAndSwap(false, true) }

func (t *FuncTask) Execute(ctx context.Context) Task { return t.fn(ctx) }

func (t *FuncTask) IsBackgroundTask() bool { return t.priority.IsBackground() }

func (t *FuncTask) Priority() Priority { return t.priority }

// Launched reports whether the task was accepted by a launch.
func (t *FuncTask) Launched() bool { return t.launched.Load() }
