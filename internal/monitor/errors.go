package monitor

import "errors"

var (
	// ErrStarted indicates Start was called on a running monitor.
	ErrStarted = errors.New("monitor already started")
	// ErrStopped indicates Start was called after Stop. Monitors are not
	// restartable.
	ErrStopped = errors.New("monitor stopped")
)
