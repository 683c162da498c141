package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher is the fsnotify-backed Watcher. Directories created under
// a watched tree are picked up automatically, so packages added after
// the initial walk still produce events.
type FSWatcher struct {
	fs     *fsnotify.Watcher
	config Config

	mu     sync.RWMutex
	paths  map[string]bool
	closed bool

	events chan Event
	errors chan error
	quit   chan struct{}
	wg     sync.WaitGroup
}

var _ Watcher = (*FSWatcher)(nil)

// NewFS returns a started fsnotify watcher.
func NewFS(opts ...Option) (*FSWatcher, error) {
	config := Config{BufferSize: 64, IgnoreHidden: true}
	for _, opt := range opts {
		opt(&config)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &FSWatcher{
		fs:     fs,
		config: config,
		paths:  make(map[string]bool),
		events: make(chan Event, config.BufferSize),
		errors: make(chan error, config.BufferSize),
		quit:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Watch adds path without descending into it.
func (w *FSWatcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.paths[abs] {
		return nil
	}
	if err := w.fs.Add(abs); err != nil {
		return err
	}
	w.paths[abs] = true
	return nil
}

// WatchTree adds root and every non-ignored directory below it. The
// root itself is watched even when its own name would be ignored.
func (w *FSWatcher) WatchTree(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Watch(abs)
	}
	return filepath.WalkDir(abs, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || !d.IsDir() {
			return nil
		}
		if p != abs && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.Watch(p); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			w.emitErr(fmt.Errorf("watch %s: %w", p, err))
		}
		return nil
	})
}

// Unwatch removes a single watched path. Removing the kernel watch of
// a path that was deleted is tolerated.
func (w *FSWatcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !w.paths[abs] {
		return ErrNotWatched
	}
	delete(w.paths, abs)
	if err := w.fs.Remove(abs); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

// Events returns the change channel.
func (w *FSWatcher) Events() <-chan Event { return w.events }

// Errors returns the error channel.
func (w *FSWatcher) Errors() <-chan error { return w.errors }

// IsWatching reports whether path is currently watched.
func (w *FSWatcher) IsWatching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[abs]
}

// Close stops the watcher and closes both channels.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.quit)
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

func (w *FSWatcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.relay(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.emitErr(err)
		}
	}
}

func (w *FSWatcher) relay(fe fsnotify.Event) {
	op := mapOp(fe.Op)
	if op == 0 || w.ignored(fe.Name) {
		return
	}
	w.emit(Event{Path: fe.Name, Op: op, Time: time.Now()})

	// A directory created under a watched tree is watched as well.
	if op.Has(OpCreate) {
		if info, err := os.Stat(fe.Name); err == nil && info.IsDir() {
			if err := w.WatchTree(fe.Name); err != nil && !errors.Is(err, ErrClosed) {
				w.emitErr(err)
			}
		}
	}
}

func mapOp(fo fsnotify.Op) Op {
	var op Op
	if fo.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fo.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fo.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fo.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fo.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

// ignored reports whether path falls under the ignore rules. Ignored
// directory names are matched against every path segment so files
// inside an ignored directory stay invisible.
func (w *FSWatcher) ignored(path string) bool {
	if w.config.IgnoreHidden && strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	if len(w.config.IgnoreDirs) == 0 {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		for _, name := range w.config.IgnoreDirs {
			if seg == name {
				return true
			}
		}
	}
	return false
}

func (w *FSWatcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.quit:
	default:
	}
}

func (w *FSWatcher) emitErr(err error) {
	select {
	case w.errors <- err:
	case <-w.quit:
	default:
	}
}
