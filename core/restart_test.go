package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestRestart_NoLostTasks verifies launches survive restarts
// Main test items:
// 1. Producers keep launching while the pools are restarted repeatedly
// 2. Stopping with drain runs everything that is left on the caller
// 3. Every task runs exactly once
func TestRestart_NoLostTasks(t *testing.T) {
	const (
		producers = 4
		perProd   = 5000
		total     = producers * perProd
	)
	s := newTestScheduler(t, nil)
	require.NoError(t, s.StartWorkers(opts(2, 2)))

	var ran atomic.Int64
	var g errgroup.Group
	for p := 0; p < producers; p++ {
		p := p
		g.Go(func() error {
			for i := 0; i < perProd; i++ {
				prio := PriorityNormal
				if (p+i)%3 == 0 {
					prio = PriorityBackgroundNormal
				}
				s.Launch(context.Background(), NewTask(prio, func(ctx context.Context) { ran.Add(1) }))
			}
			return nil
		})
	}

	shapes := []WorkerOptions{opts(1, 1), opts(3, 2), opts(2, 0), opts(4, 4), opts(2, 2)}
	for _, o := range shapes {
		require.NoError(t, s.RestartWorkers(o))
	}

	require.NoError(t, g.Wait())
	s.StopWorkers(true)

	assert.Equal(t, int64(total), ran.Load())
	assert.Zero(t, s.Stats().GlobalQueued)
}

// TestRestart_ThreadIDs verifies the worker set follows the new options
// Given: Workers started with 2 foreground and 1 background thread
// When: The scheduler is restarted with 3 and 2
// Then: The reported thread id sets have the new sizes and contain no duplicates
func TestRestart_ThreadIDs(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.NoError(t, s.StartWorkers(opts(2, 1)))

	waitThreadIDs(t, s, ClassForeground, 2)
	waitThreadIDs(t, s, ClassBackground, 1)

	require.NoError(t, s.RestartWorkers(opts(3, 2)))
	fg := waitThreadIDs(t, s, ClassForeground, 3)
	bg := waitThreadIDs(t, s, ClassBackground, 2)
	assertDistinct(t, append(fg, bg...))

	s.StopWorkers(false)
	assert.Nil(t, s.WorkerThreadIDs(ClassForeground))
}

// TestStopStart_ThreadIDsReplaced verifies a stop followed by a start brings up fresh threads
// Given: Workers started with 2 foreground and 2 background threads
// When: StopWorkers is followed at once by StartWorkers with 3 and 1
// Then: The new id sets have the new sizes and share no id with the old ones
func TestStopStart_ThreadIDsReplaced(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.NoError(t, s.StartWorkers(opts(2, 2)))

	old := append(waitThreadIDs(t, s, ClassForeground, 2), waitThreadIDs(t, s, ClassBackground, 2)...)

	s.StopWorkers(false)
	require.NoError(t, s.StartWorkers(opts(3, 1)))

	fg := waitThreadIDs(t, s, ClassForeground, 3)
	bg := waitThreadIDs(t, s, ClassBackground, 1)
	current := append(fg, bg...)
	assertDistinct(t, current)
	for _, id := range old {
		assert.NotContains(t, current, id, "thread %d of the stopped workers is still reported", id)
	}
}

// TestStartWorkers_ForkableThreadIDs verifies forkable pools still run one
// worker per OS thread.
func TestStartWorkers_ForkableThreadIDs(t *testing.T) {
	s := newTestScheduler(t, nil)
	o := opts(4, 2)
	o.Forkable = Forkable
	require.NoError(t, s.StartWorkers(o))

	ids := append(waitThreadIDs(t, s, ClassForeground, 4), waitThreadIDs(t, s, ClassBackground, 2)...)
	assertDistinct(t, ids)
}

func waitThreadIDs(t *testing.T, s *Scheduler, class PriorityClass, want int) []int {
	t.Helper()
	var ids []int
	require.Eventually(t, func() bool {
		ids = s.WorkerThreadIDs(class)
		return len(ids) == want
	}, 5*time.Second, time.Millisecond, "%v workers", class)
	return ids
}

func assertDistinct(t *testing.T, ids []int) {
	t.Helper()
	seen := make(map[int]bool)
	for _, id := range ids {
		assert.NotZero(t, id)
		assert.False(t, seen[id], "thread id %d reported twice", id)
		seen[id] = true
	}
}

// TestStop_LeftoversMoveToGlobal verifies queued work survives a stop without drain
// Given: One busy worker and ten queued tasks
// When: StopWorkers(false) runs while the worker is busy, then workers start again
// Then: The ten tasks wait in the global queue and run after the restart
func TestStop_LeftoversMoveToGlobal(t *testing.T) {
	// Arrange
	s := newTestScheduler(t, nil)
	require.NoError(t, s.StartWorkers(opts(1, 0)))

	started := make(chan struct{})
	release := make(chan struct{})
	s.Launch(context.Background(), NewTask(PriorityHigh, func(ctx context.Context) {
		close(started)
		<-release
	}))
	waitClosed(t, started, 5*time.Second, "blocking task")

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		s.Launch(context.Background(), NewTask(PriorityNormal, func(ctx context.Context) { ran.Add(1) }))
	}

	// Act
	stopped := make(chan struct{})
	go func() {
		s.StopWorkers(false)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return s.NumWorkers() == 0 }, 5*time.Second, time.Millisecond)
	close(release)
	waitClosed(t, stopped, 5*time.Second, "StopWorkers")

	// Assert
	assert.Zero(t, ran.Load())
	assert.Equal(t, 10, s.Stats().GlobalQueued)

	require.NoError(t, s.StartWorkers(opts(1, 0)))
	require.Eventually(t, func() bool { return ran.Load() == 10 }, 5*time.Second, time.Millisecond)
}

// TestStop_LaunchAfterStopRunsInline verifies the stopped scheduler falls back to the caller
func TestStop_LaunchAfterStopRunsInline(t *testing.T) {
	s := newTestScheduler(t, nil)
	require.NoError(t, s.StartWorkers(opts(1, 1)))
	s.StopWorkers(true)

	ran := false
	s.Launch(context.Background(), NewTask(PriorityNormal, func(ctx context.Context) { ran = true }))
	assert.True(t, ran, "launch after stop must run before returning")

	// Stopping an idle scheduler is a no-op.
	s.StopWorkers(true)
	s.StopWorkers(false)
}
