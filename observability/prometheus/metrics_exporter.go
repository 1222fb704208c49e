package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-task-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	inlineTotal         *prom.CounterVec
	wakeTotal           *prom.CounterVec
	threadStartedTotal  *prom.CounterVec
	limitReachedTotal   *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "taskscheduler"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"class", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"class"})
	inlineVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "inline_executions_total",
		Help:      "Tasks run on the launching goroutine because no worker was running.",
	}, []string{"priority"})
	wakeVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "wakes_total",
		Help:      "Launch wakes by outcome.",
	}, []string{"class", "outcome"})
	threadVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "threads_started_total",
		Help:      "Worker threads started.",
	}, []string{"class", "kind"})
	limitVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "oversubscription_limit_reached_total",
		Help:      "Times a class reached its thread ceiling.",
	}, []string{"class"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if inlineVec, err = registerCollector(reg, inlineVec); err != nil {
		return nil, err
	}
	if wakeVec, err = registerCollector(reg, wakeVec); err != nil {
		return nil, err
	}
	if threadVec, err = registerCollector(reg, threadVec); err != nil {
		return nil, err
	}
	if limitVec, err = registerCollector(reg, limitVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		inlineTotal:         inlineVec,
		wakeTotal:           wakeVec,
		threadStartedTotal:  threadVec,
		limitReachedTotal:   limitVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(class core.PriorityClass, priority core.Priority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(class.String(), priority.String()).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(class core.PriorityClass, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(class.String()).Inc()
}

// RecordInlineExecution records tasks run without a worker.
func (m *MetricsExporter) RecordInlineExecution(priority core.Priority) {
	if m == nil {
		return
	}
	m.inlineTotal.WithLabelValues(priority.String()).Inc()
}

// RecordWake records whether a launch woke a thread.
func (m *MetricsExporter) RecordWake(class core.PriorityClass, woken int) {
	if m == nil {
		return
	}
	outcome := "woken"
	if woken == 0 {
		outcome = "none"
	}
	m.wakeTotal.WithLabelValues(class.String(), outcome).Inc()
}

// RecordThreadStarted records worker thread creation.
func (m *MetricsExporter) RecordThreadStarted(class core.PriorityClass, standby bool) {
	if m == nil {
		return
	}
	kind := "nominal"
	if standby {
		kind = "standby"
	}
	m.threadStartedTotal.WithLabelValues(class.String(), kind).Inc()
}

// RecordOversubscriptionLimitReached records thread ceiling events.
func (m *MetricsExporter) RecordOversubscriptionLimitReached(class core.PriorityClass) {
	if m == nil {
		return
	}
	m.limitReachedTotal.WithLabelValues(class.String()).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
