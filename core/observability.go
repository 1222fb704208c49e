package core

// ClassStats represents runtime observability state for one priority class.
type ClassStats struct {
	Class            PriorityClass
	Nominal          int
	MaxThreads       int
	Created          int
	Active           int
	Standby          int
	Waiters          int
	Signals          int
	Parked           bool
	Oversubscription int
	LimitReached     bool
	LocalQueued      int
}

// SchedulerStats represents runtime observability state for a Scheduler.
type SchedulerStats struct {
	Running           bool
	TemporaryShutdown bool
	Generation        uint64
	ActiveWorkers     int
	PendingWakes      int
	GlobalQueued      int
	GlobalByPriority  [NumPriorities]int
	PrimaryQueued     int
	InlineExecutions  int64
	Foreground        ClassStats
	Background        ClassStats
}

// Class returns the stats of c.
func (s SchedulerStats) Class(c PriorityClass) ClassStats {
	if c == ClassBackground {
		return s.Background
	}
	return s.Foreground
}
