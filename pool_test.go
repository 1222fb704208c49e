package taskscheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/go-task-scheduler/core"
)

func quietConfig() *SchedulerConfig {
	return &SchedulerConfig{Logger: core.NewNoOpLogger()}
}

// TestDefaultScheduler_Lifecycle verifies the process-wide accessor
// Main test items:
// 1. Default panics before StartDefault
// 2. StartDefault is idempotent while the scheduler exists
// 3. ShutdownDefault resets the accessor
func TestDefaultScheduler_Lifecycle(t *testing.T) {
	func() {
		defer func() {
			if recover() == nil {
				t.Error("Default() should panic before StartDefault")
			}
		}()
		Default()
	}()

	if err := StartDefault(quietConfig(), WorkerOptions{Foreground: 1, Background: 1}); err != nil {
		t.Fatalf("StartDefault: %v", err)
	}
	first := Default()
	if !first.IsRunning() {
		t.Error("default scheduler should be running")
	}

	if err := StartDefault(quietConfig(), WorkerOptions{Foreground: 3}); err != nil {
		t.Fatalf("second StartDefault: %v", err)
	}
	if Default() != first {
		t.Error("second StartDefault replaced the scheduler")
	}
	if got := first.NumWorkers(); got != 2 {
		t.Errorf("expected 2 workers, got %d", got)
	}

	ShutdownDefault(false)
	if first.IsRunning() {
		t.Error("scheduler should be stopped after ShutdownDefault")
	}
	ShutdownDefault(false) // no-op
}

// TestDefaultScheduler_InvalidOptions verifies a failed start leaves no scheduler
func TestDefaultScheduler_InvalidOptions(t *testing.T) {
	if err := StartDefault(quietConfig(), WorkerOptions{Foreground: 0}); err == nil {
		t.Fatal("expected an error for zero foreground workers")
	}
	defer func() {
		if recover() == nil {
			t.Error("Default() should still panic after a failed start")
		}
	}()
	Default()
}

// TestGo_RunsEveryTask verifies launches through the default scheduler
func TestGo_RunsEveryTask(t *testing.T) {
	if err := StartDefault(quietConfig(), WorkerOptions{Foreground: 2, Background: 1}); err != nil {
		t.Fatalf("StartDefault: %v", err)
	}
	defer ShutdownDefault(true)

	const taskCount = 100
	var counter atomic.Int32
	var wg sync.WaitGroup
	wg.Add(taskCount)

	priorities := []Priority{PriorityHigh, PriorityNormal, PriorityBackgroundHigh, PriorityBackgroundNormal, PriorityBackgroundLow}
	for i := 0; i < taskCount; i++ {
		ok := Go(context.Background(), priorities[i%len(priorities)], func(ctx context.Context) {
			defer wg.Done()
			counter.Add(1)
		})
		if !ok {
			t.Fatalf("task %d was rejected", i)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d of %d tasks ran", counter.Load(), taskCount)
	}
}

// TestShutdownDefault_Drains verifies queued work runs when draining
func TestShutdownDefault_Drains(t *testing.T) {
	if err := StartDefault(quietConfig(), WorkerOptions{Foreground: 1}); err != nil {
		t.Fatalf("StartDefault: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	Go(context.Background(), PriorityHigh, func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		Go(context.Background(), PriorityNormal, func(ctx context.Context) { ran.Add(1) })
	}
	close(release)

	ShutdownDefault(true)
	if got := ran.Load(); got != 10 {
		t.Errorf("expected 10 drained tasks, got %d", got)
	}
}
