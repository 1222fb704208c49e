package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFuncTask_PrepareLaunchOnce verifies the launch gate
// Given: A fresh FuncTask
// When: PrepareLaunch is called twice
// Then: Only the first call succeeds and Launched reports true afterwards
func TestFuncTask_PrepareLaunchOnce(t *testing.T) {
	// Arrange
	task := NewTask(PriorityNormal, func(ctx context.Context) {})

	// Act and Assert
	assert.False(t, task.Launched())
	assert.True(t, task.PrepareLaunch(), "first PrepareLaunch")
	assert.False(t, task.PrepareLaunch(), "second PrepareLaunch")
	assert.True(t, task.Launched())
}

// TestFuncTask_Continuation verifies Execute returns the continuation
func TestFuncTask_Continuation(t *testing.T) {
	next := NewTask(PriorityHigh, func(ctx context.Context) {})
	task := NewContinuationTask(PriorityNormal, func(ctx context.Context) Task { return next })

	assert.Same(t, next, task.Execute(context.Background()))
	assert.Nil(t, NewTask(PriorityNormal, func(ctx context.Context) {}).Execute(context.Background()))
}

// TestPriority_Classes verifies priority classification
// Given: Every priority ordinal
// When: IsBackground and queueLevel are evaluated
// Then: The three background ordinals map to the background class and keep their level
func TestPriority_Classes(t *testing.T) {
	tests := []struct {
		priority   Priority
		background bool
	}{
		{PriorityHigh, false},
		{PriorityNormal, false},
		{PriorityBackgroundHigh, true},
		{PriorityBackgroundNormal, true},
		{PriorityBackgroundLow, true},
	}
	for _, tt := range tests {
		t.Run(tt.priority.String(), func(t *testing.T) {
			task := NewTask(tt.priority, func(ctx context.Context) {})
			assert.Equal(t, tt.background, tt.priority.IsBackground())
			assert.Equal(t, tt.background, task.IsBackgroundTask())
			assert.Equal(t, int(tt.priority), queueLevel(task))
		})
	}
}

// mismatchedTask reports a class that disagrees with its priority.
type mismatchedTask struct {
	FuncTask
	background bool
	priority   Priority
}

func (t *mismatchedTask) IsBackgroundTask() bool { return t.background }
func (t *mismatchedTask) Priority() Priority     { return t.priority }

// TestQueueLevel_NormalisesMismatchedClass verifies that a task never lands on
// a level its own class cannot take.
func TestQueueLevel_NormalisesMismatchedClass(t *testing.T) {
	bgHigh := &mismatchedTask{background: true, priority: PriorityHigh}
	fgLow := &mismatchedTask{background: false, priority: PriorityBackgroundLow}
	outOfRange := &mismatchedTask{background: false, priority: Priority(42)}

	assert.Equal(t, int(PriorityBackgroundNormal), queueLevel(bgHigh))
	assert.Equal(t, int(PriorityNormal), queueLevel(fgLow))
	assert.Equal(t, int(PriorityNormal), queueLevel(outOfRange))
	assert.Equal(t, ClassBackground, classOf(bgHigh))
}

// TestSplitWorkers verifies the foreground/background split
func TestSplitWorkers(t *testing.T) {
	tests := []struct {
		total, foreground int
		wantFg, wantBg    int
	}{
		{total: 1, foreground: 2, wantFg: 1, wantBg: 1},
		{total: 3, foreground: 2, wantFg: 1, wantBg: 2},
		{total: 4, foreground: 2, wantFg: 2, wantBg: 2},
		{total: 8, foreground: 2, wantFg: 2, wantBg: 6},
		{total: 8, foreground: 8, wantFg: 7, wantBg: 1},
		{total: 16, foreground: 0, wantFg: 1, wantBg: 16},
	}
	for _, tt := range tests {
		fg, bg := SplitWorkers(tt.total, tt.foreground)
		assert.Equal(t, tt.wantFg, fg, "SplitWorkers(%d, %d) foreground", tt.total, tt.foreground)
		assert.Equal(t, tt.wantBg, bg, "SplitWorkers(%d, %d) background", tt.total, tt.foreground)
	}
}

// TestMaxThreads verifies the oversubscription ceiling
func TestMaxThreads(t *testing.T) {
	assert.Equal(t, 8, maxThreads(4, 2.0))
	assert.Equal(t, 5, maxThreads(3, 1.5))
	assert.Equal(t, 3, maxThreads(3, 1.0))
	assert.Equal(t, 1, maxThreads(0, 2.0))
}
