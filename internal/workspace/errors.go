package workspace

import "errors"

// Sentinel errors for workspace operations.
var (
	// ErrNotAPackage is returned when a directory carries neither a
	// manifest nor a build database.
	ErrNotAPackage = errors.New("directory is not a package root")

	// ErrUnknownFolder is returned when focusing a folder that is not
	// registered.
	ErrUnknownFolder = errors.New("folder is not registered")

	// ErrClosed is returned by mutating calls after Close.
	ErrClosed = errors.New("workspace is closed")
)
