package task

import "errors"

// ErrTaskNotFound reports that no declared or recorded task matches a
// lookup. It is not fatal: callers fall back to generating a fresh
// operation from the toolchain.
var ErrTaskNotFound = errors.New("task not found")
