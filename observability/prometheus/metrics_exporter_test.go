package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-task-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("taskscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration(core.ClassForeground, core.PriorityNormal, 250*time.Millisecond)
	exporter.RecordTaskPanic(core.ClassBackground, "panic")
	exporter.RecordInlineExecution(core.PriorityHigh)
	exporter.RecordWake(core.ClassForeground, 1)
	exporter.RecordWake(core.ClassForeground, 0)
	exporter.RecordWake(core.ClassForeground, 0)
	exporter.RecordThreadStarted(core.ClassBackground, true)
	exporter.RecordOversubscriptionLimitReached(core.ClassForeground)

	if got := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("background")); got != 1 {
		t.Fatalf("panic total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.inlineTotal.WithLabelValues("high")); got != 1 {
		t.Fatalf("inline total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.wakeTotal.WithLabelValues("foreground", "none")); got != 2 {
		t.Fatalf("missed wakes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(exporter.wakeTotal.WithLabelValues("foreground", "woken")); got != 1 {
		t.Fatalf("wakes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.threadStartedTotal.WithLabelValues("background", "standby")); got != 1 {
		t.Fatalf("standby threads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.limitReachedTotal.WithLabelValues("foreground")); got != 1 {
		t.Fatalf("limit reached = %v, want 1", got)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("foreground", "normal"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("taskscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("taskscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskPanic(core.ClassForeground, nil)
	second.RecordTaskPanic(core.ClassForeground, nil)

	got := testutil.ToFloat64(first.taskPanicTotal.WithLabelValues("foreground"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

// TestMetricsExporter_WiredIntoScheduler verifies the scheduler reports
// through the exporter
func TestMetricsExporter_WiredIntoScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	s := core.NewScheduler(&core.SchedulerConfig{
		Logger:       core.NewNoOpLogger(),
		Metrics:      exporter,
		PanicHandler: &core.DefaultPanicHandler{Logger: core.NewNoOpLogger()},
	})

	// No workers yet: the launch runs inline.
	s.Launch(context.Background(), core.NewTask(core.PriorityNormal, func(ctx context.Context) {}))
	if got := testutil.ToFloat64(exporter.inlineTotal.WithLabelValues("normal")); got != 1 {
		t.Fatalf("inline total = %v, want 1", got)
	}

	if err := s.StartWorkers(core.WorkerOptions{Foreground: 1, Background: 1}); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer s.StopWorkers(false)

	done := make(chan struct{})
	s.Launch(context.Background(), core.NewTask(core.PriorityHigh, func(ctx context.Context) {
		defer close(done)
		panic("boom")
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}

	assertEventually(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("foreground")) == 1
	})
	started := testutil.ToFloat64(exporter.threadStartedTotal.WithLabelValues("foreground", "nominal")) +
		testutil.ToFloat64(exporter.threadStartedTotal.WithLabelValues("background", "nominal"))
	if started != 2 {
		t.Fatalf("nominal threads started = %v, want 2", started)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
