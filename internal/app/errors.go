package app

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the App has been shut down.
	ErrClosed = errors.New("app closed")

	// ErrNoWorkspace indicates no workspace root has been opened yet.
	ErrNoWorkspace = errors.New("no workspace open")
)

// ComponentError represents a failure in a named component, typically
// during bootstrap or shutdown.
type ComponentError struct {
	Component string // component name, e.g. "config", "watcher"
	Action    string // action being performed, e.g. "init", "close"
	Err       error
}

// NewComponentError creates a new ComponentError.
func NewComponentError(component, action string, err error) *ComponentError {
	return &ComponentError{
		Component: component,
		Action:    action,
		Err:       err,
	}
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Action != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Component, e.Action)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}
	return e.Component
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches both the wrapper itself and the wrapped error.
func (e *ComponentError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ComponentError); ok {
		return e == t
	}
	return errors.Is(e.Err, target)
}
