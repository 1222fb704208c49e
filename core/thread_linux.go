//go:build linux

package core

import (
	"golang.org/x/sys/unix"
)

func currentThreadID() int { return unix.Gettid() }

// setThreadPriority applies p as the nice value of the calling thread. Linux
// keeps nice values per thread, so PRIO_PROCESS with a tid only affects it.
func setThreadPriority(p ThreadPriority) error {
	nice := p.nice()
	if nice == 0 {
		return nil
	}
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}

// setThreadAffinity pins the calling thread to the CPUs set in mask.
func setThreadAffinity(mask uint64) error {
	if mask == 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	for cpu := 0; cpu < 64; cpu++ {
		if mask&(uint64(1)<<cpu) != 0 {
			set.Set(cpu)
		}
	}
	return unix.SchedSetaffinity(0, &set)
}
