package metadata

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBackend indicates that no metadata backend could be instantiated.
	// The pipeline keeps running; every snapshot request fails with it.
	ErrNoBackend = errors.New("no usable metadata backend")
	// ErrNoModule indicates the project root has no go.mod file.
	ErrNoModule = errors.New("go.mod not found at project root")
	// ErrUnknownBackend indicates a backend name that is not registered.
	ErrUnknownBackend = errors.New("unknown metadata backend")
)

// ExtractionError reports that a backend could not produce a snapshot.
type ExtractionError struct {
	Backend string
	Root    string
	Err     error
}

// Error returns "extract <backend> <root>: <cause>".
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s %s: %v", e.Backend, e.Root, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}
