package taskscheduler

import "github.com/Swind/go-task-scheduler/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskscheduler package for most use cases.

// Scheduler runs tasks on pools of foreground and background worker threads
type Scheduler = core.Scheduler

// SchedulerConfig configures logging, metrics and oversubscription of a Scheduler
type SchedulerConfig = core.SchedulerConfig

// WorkerOptions sizes and places the worker threads of each priority class
type WorkerOptions = core.WorkerOptions

// Task is the unit of work accepted by TryLaunch
type Task = core.Task

// FuncTask adapts a function to Task
type FuncTask = core.FuncTask

// Priority is a task's queue level
type Priority = core.Priority

// PriorityClass selects the foreground or background worker pool
type PriorityClass = core.PriorityClass

// QueuePreference selects the local or global queue for TryLaunch
type QueuePreference = core.QueuePreference

// ThreadPriority is the OS scheduling priority of worker threads
type ThreadPriority = core.ThreadPriority

// Priority constants
const (
	PriorityHigh             = core.PriorityHigh
	PriorityNormal           = core.PriorityNormal
	PriorityBackgroundHigh   = core.PriorityBackgroundHigh
	PriorityBackgroundNormal = core.PriorityBackgroundNormal
	PriorityBackgroundLow    = core.PriorityBackgroundLow

	ClassForeground = core.ClassForeground
	ClassBackground = core.ClassBackground

	LocalQueuePreference  = core.LocalQueuePreference
	GlobalQueuePreference = core.GlobalQueuePreference
)

// Convenience functions re-exported from core
var (
	NewScheduler             = core.NewScheduler
	NewTask                  = core.NewTask
	NewContinuationTask      = core.NewContinuationTask
	DefaultSchedulerConfig   = core.DefaultSchedulerConfig
	DefaultWorkerOptions     = core.DefaultWorkerOptions
	EnterOversubscription    = core.EnterOversubscription
	DisallowOversubscription = core.DisallowOversubscription
	IsWorkerThread           = core.IsWorkerThread
	WorkerFromContext        = core.WorkerFromContext
)
