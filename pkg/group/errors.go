package group

import "errors"

var (
	// ErrNotStarted is returned when a Group is used before Start.
	ErrNotStarted = errors.New("group: not started")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("group: already started")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("group: closed")
	// ErrWorkerStuck is returned by Close when the worker did not exit in time.
	ErrWorkerStuck = errors.New("group: worker did not stop in time")
)
