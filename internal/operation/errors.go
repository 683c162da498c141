package operation

import (
	"errors"
	"fmt"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("operation queue closed")
	// ErrNoCommand is returned when an operation has an empty argv.
	ErrNoCommand = errors.New("operation has no command")
)

// ExitError reports a process that ran to completion with a non-zero
// exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("operation exited with code %d", e.Code)
}
