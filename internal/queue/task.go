// Package queue runs generation tasks one at a time, coalescing repeated
// requests for the same key.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by Enqueue after Dispose.
	ErrClosed = errors.New("queue closed")
	// ErrEmptyKey is returned by Enqueue for a task without a key.
	ErrEmptyKey = errors.New("task key is empty")
	// ErrAbandoned is returned by Dispose when the running task did not
	// finish within the timeout.
	ErrAbandoned = errors.New("running task abandoned")
)

// Reason records why a task was submitted.
type Reason int

const (
	TemplateEdited Reason = iota
	SourceChanged
	ManualTrigger
)

// String describes the reason for status messages.
func (r Reason) String() string {
	switch r {
	case TemplateEdited:
		return "template-edited"
	case SourceChanged:
		return "source-changed"
	case ManualTrigger:
		return "manual"
	default:
		return "unknown"
	}
}

// Action is the body of a task. The context is cancelled when the queue
// abandons the task on shutdown.
type Action func(ctx context.Context) error

// Task is a unit of work keyed by the artifact it produces.
type Task struct {
	Key        string
	Reason     Reason
	EnqueuedAt time.Time
	Action     Action
}
