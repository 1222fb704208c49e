//go:build !linux

package core

import (
	"errors"

	"github.com/petermattis/goid"
)

var errThreadControlUnsupported = errors.New("thread priority and affinity are not supported on this platform")

func currentThreadID() int { return int(goid.Get()) }

func setThreadPriority(p ThreadPriority) error {
	if p.nice() == 0 {
		return nil
	}
	return errThreadControlUnsupported
}

func setThreadAffinity(mask uint64) error {
	if mask == 0 {
		return nil
	}
	return errThreadControlUnsupported
}
