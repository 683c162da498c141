// Package watcher reports file system changes under workspace roots so
// the host can react to manifest edits and newly created packages. It
// wraps fsnotify with directory-tree watching, name-based ignore rules
// and per-path debouncing of rapid write bursts.
package watcher

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrClosed reports use of a closed watcher.
	ErrClosed = errors.New("watcher closed")
	// ErrNotWatched reports an Unwatch of a path that was never added.
	ErrNotWatched = errors.New("path not watched")
)

// Op is the kind of file system change. Coalesced events carry the
// union of the operations observed in the window.
type Op uint32

const (
	// OpCreate indicates a file or directory appeared.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file's content changed.
	OpWrite
	// OpRemove indicates a file or directory was deleted.
	OpRemove
	// OpRename indicates a file or directory was moved away.
	OpRename
	// OpChmod indicates permissions or timestamps changed.
	OpChmod
)

// Has reports whether op includes o.
func (op Op) Has(o Op) bool { return op&o == o }

// String returns the operation names joined by '|'.
func (op Op) String() string {
	if op == 0 {
		return "NONE"
	}
	names := make([]string, 0, 5)
	if op.Has(OpCreate) {
		names = append(names, "CREATE")
	}
	if op.Has(OpWrite) {
		names = append(names, "WRITE")
	}
	if op.Has(OpRemove) {
		names = append(names, "REMOVE")
	}
	if op.Has(OpRename) {
		names = append(names, "RENAME")
	}
	if op.Has(OpChmod) {
		names = append(names, "CHMOD")
	}
	return strings.Join(names, "|")
}

// Event is one file system change under a watched tree.
type Event struct {
	// Path is the absolute path of the changed file or directory.
	Path string
	// Op is the change, possibly a union after coalescing.
	Op Op
	// Time is when the change was last observed.
	Time time.Time
}

// Watcher reports file system changes on registered paths.
type Watcher interface {
	// Watch adds one directory, not its children. Watching an
	// already-watched path is a no-op.
	Watch(path string) error
	// WatchTree adds a directory and every non-ignored subdirectory,
	// and keeps watching directories created under it later.
	WatchTree(root string) error
	// Unwatch removes a single watched path.
	Unwatch(path string) error
	// Events returns the change channel. It closes when the watcher
	// closes. Events are dropped, never blocked on, when the consumer
	// falls behind.
	Events() <-chan Event
	// Errors returns the error channel. It closes when the watcher
	// closes.
	Errors() <-chan error
	// IsWatching reports whether path is currently watched.
	IsWatching(path string) bool
	// Close releases resources and closes both channels. Close is
	// idempotent.
	Close() error
}

// Config tunes the fsnotify-backed watcher.
type Config struct {
	// BufferSize is the event and error channel capacity.
	BufferSize int
	// IgnoreHidden skips dot-prefixed files and directories.
	IgnoreHidden bool
	// IgnoreDirs are directory names never watched or reported, such
	// as the toolchain checkout directory.
	IgnoreDirs []string
}

// Option adjusts a Config.
type Option func(*Config)

// WithBufferSize sets the channel capacity.
func WithBufferSize(n int) Option {
	return func(c *Config) { c.BufferSize = n }
}

// WithIgnoreHidden toggles skipping dot-prefixed names.
func WithIgnoreHidden(on bool) Option {
	return func(c *Config) { c.IgnoreHidden = on }
}

// WithIgnoreDirs adds directory names to skip.
func WithIgnoreDirs(names ...string) Option {
	return func(c *Config) { c.IgnoreDirs = append(c.IgnoreDirs, names...) }
}
