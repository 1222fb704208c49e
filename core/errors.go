package core

import "errors"

var (
	// ErrAlreadyStarted is returned by StartWorkers while workers are running.
	ErrAlreadyStarted = errors.New("workers already started")

	// ErrInvalidWorkerCount is returned for worker counts the scheduler
	// cannot address.
	ErrInvalidWorkerCount = errors.New("invalid worker count")
)
