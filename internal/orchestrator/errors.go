package orchestrator

import "errors"

// ErrOutputWrite wraps failures to write a generated file. The previous
// output is left in place and the template's hash is not updated.
var ErrOutputWrite = errors.New("writing output")
