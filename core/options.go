package core

import (
	"fmt"
	"math"
	"runtime"

	"github.com/Swind/go-task-scheduler/internal/waitq"
)

// ThreadPriority is the OS scheduling priority requested for worker threads.
type ThreadPriority int

const (
	ThreadPriorityNormal ThreadPriority = iota
	ThreadPriorityAboveNormal
	ThreadPriorityHighest
	ThreadPriorityBelowNormal
	ThreadPriorityLowest
)

// nice maps the priority onto a Linux nice value.
func (p ThreadPriority) nice() int {
	switch p {
	case ThreadPriorityHighest:
		return -10
	case ThreadPriorityAboveNormal:
		return -5
	case ThreadPriorityBelowNormal:
		return 5
	case ThreadPriorityLowest:
		return 10
	default:
		return 0
	}
}

func (p ThreadPriority) String() string {
	switch p {
	case ThreadPriorityAboveNormal:
		return "above_normal"
	case ThreadPriorityHighest:
		return "highest"
	case ThreadPriorityBelowNormal:
		return "below_normal"
	case ThreadPriorityLowest:
		return "lowest"
	default:
		return "normal"
	}
}

// Forkability controls whether worker threads are tuned. Every worker runs on
// its own locked OS thread either way.
type Forkability int

const (
	// NonForkable workers apply the configured priority and affinity.
	NonForkable Forkability = iota
	// Forkable workers keep the thread settings inherited from the process.
	Forkable
)

// WorkerOptions configures one StartWorkers call.
type WorkerOptions struct {
	Foreground int
	Background int

	Forkable Forkability

	ForegroundPriority ThreadPriority
	BackgroundPriority ThreadPriority

	// Affinity masks select CPUs 0-63; zero leaves affinity unchanged.
	ForegroundAffinity uint64
	BackgroundAffinity uint64
}

// DefaultForegroundWorkers is the foreground share used by DefaultWorkerOptions.
const DefaultForegroundWorkers = 2

// DefaultWorkerOptions sizes both pools from GOMAXPROCS.
func DefaultWorkerOptions() WorkerOptions {
	fg, bg := SplitWorkers(runtime.GOMAXPROCS(0), DefaultForegroundWorkers)
	return WorkerOptions{
		Foreground:         fg,
		Background:         bg,
		BackgroundPriority: ThreadPriorityBelowNormal,
	}
}

// SplitWorkers divides total threads between the two pools. Small machines
// get a single foreground worker; both pools always get at least one.
func SplitWorkers(total, foreground int) (fg, bg int) {
	if total < 1 {
		total = 1
	}
	if total <= 3 {
		foreground = 1
	}
	if foreground < 0 {
		foreground = 0
	}
	bg = max(1, total-min(foreground, total))
	fg = max(1, total-bg)
	return fg, bg
}

func (o WorkerOptions) validate() error {
	if o.Foreground < 1 {
		return fmt.Errorf("foreground workers %d, need at least 1: %w", o.Foreground, ErrInvalidWorkerCount)
	}
	if o.Background < 0 {
		return fmt.Errorf("background workers %d: %w", o.Background, ErrInvalidWorkerCount)
	}
	if o.Foreground > waitq.MaxNodes || o.Background > waitq.MaxNodes {
		return fmt.Errorf("worker counts %d/%d exceed %d: %w", o.Foreground, o.Background, waitq.MaxNodes, ErrInvalidWorkerCount)
	}
	return nil
}

// maxThreads is the thread ceiling of a class with the given nominal size.
func maxThreads(nominal int, ratio float64) int {
	n := int(math.Ceil(float64(nominal) * ratio))
	n = max(n, nominal, 1)
	return min(n, waitq.MaxNodes)
}
