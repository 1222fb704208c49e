package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// The worker that ran the task survives and keeps serving its queues.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task was executed with (carries the worker, if any)
	// - class: The priority class of the task
	// - workerID: The worker node index, -1 for inline execution on the caller
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, class PriorityClass, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler reports panics through a Logger at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic value and stack.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, class PriorityClass, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("class", class),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called on worker hot paths and must be non-blocking.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(class PriorityClass, priority Priority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(class PriorityClass, panicInfo any)

	// RecordInlineExecution records a task that ran on the launching
	// goroutine because no worker was running.
	RecordInlineExecution(priority Priority)

	// RecordWake records the outcome of a launch wake: how many threads of
	// class were woken (0 means nobody could be woken).
	RecordWake(class PriorityClass, woken int)

	// RecordThreadStarted records a new worker thread. Standby reports
	// whether it is an oversubscription thread.
	RecordThreadStarted(class PriorityClass, standby bool)

	// RecordOversubscriptionLimitReached records that class hit its thread ceiling.
	RecordOversubscriptionLimitReached(class PriorityClass)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(class PriorityClass, priority Priority, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(class PriorityClass, panicInfo any)     {}
func (m *NilMetrics) RecordInlineExecution(priority Priority)                {}
func (m *NilMetrics) RecordWake(class PriorityClass, woken int)              {}
func (m *NilMetrics) RecordThreadStarted(class PriorityClass, standby bool)  {}
func (m *NilMetrics) RecordOversubscriptionLimitReached(class PriorityClass) {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

const (
	DefaultOversubscriptionRatio = 2.0
	DefaultSpinCycles            = 64
	DefaultWaitCycles            = 4
	DefaultLocalQueueCapacity    = 1024
	DefaultGlobalQueueCapacity   = 4096
)

// SchedulerConfig holds configuration options for Scheduler.
// All fields are optional; nil handlers and zero values are replaced by defaults.
type SchedulerConfig struct {
	// Logger receives lifecycle and diagnostic events. Defaults to DefaultLogger.
	Logger Logger

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// OnOversubscriptionLimitReached is called when a class reaches its
	// thread ceiling. It runs on the thread that is about to block and must
	// not block itself.
	OnOversubscriptionLimitReached func(class PriorityClass, oversubscription int)

	// OversubscriptionRatio bounds the thread count of a class at
	// ceil(nominal * ratio). Defaults to 2.0; values below 1 mean 1.
	OversubscriptionRatio float64

	// DynamicThreadCreation defers creating nominal workers until work
	// arrives. By default all nominal workers start with StartWorkers.
	DynamicThreadCreation bool

	// SpinCycles and WaitCycles tune how long a worker spins, then yields,
	// before blocking on its wait event. A negative value disables the phase.
	SpinCycles int
	WaitCycles int

	// LocalQueueCapacity is the per-level capacity of each worker queue.
	LocalQueueCapacity int

	// GlobalQueueCapacity is the per-level ring capacity of the global
	// queue. Pushes beyond it spill into an unbounded overflow list.
	GlobalQueueCapacity int
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	logger := NewDefaultLogger()
	return &SchedulerConfig{
		Logger:                logger,
		Metrics:               &NilMetrics{},
		PanicHandler:          &DefaultPanicHandler{Logger: logger},
		OversubscriptionRatio: DefaultOversubscriptionRatio,
		SpinCycles:            DefaultSpinCycles,
		WaitCycles:            DefaultWaitCycles,
		LocalQueueCapacity:    DefaultLocalQueueCapacity,
		GlobalQueueCapacity:   DefaultGlobalQueueCapacity,
	}
}

// withDefaults returns a copy of c with every unset field filled in.
func (c *SchedulerConfig) withDefaults() SchedulerConfig {
	var out SchedulerConfig
	if c != nil {
		out = *c
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.OversubscriptionRatio == 0 {
		out.OversubscriptionRatio = DefaultOversubscriptionRatio
	}
	if out.OversubscriptionRatio < 1 {
		out.OversubscriptionRatio = 1
	}
	if out.SpinCycles == 0 {
		out.SpinCycles = DefaultSpinCycles
	}
	if out.WaitCycles == 0 {
		out.WaitCycles = DefaultWaitCycles
	}
	if out.LocalQueueCapacity <= 0 {
		out.LocalQueueCapacity = DefaultLocalQueueCapacity
	}
	if out.GlobalQueueCapacity <= 0 {
		out.GlobalQueueCapacity = DefaultGlobalQueueCapacity
	}
	return out
}
