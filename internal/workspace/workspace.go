package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dshills/packwright/internal/config"
	"github.com/dshills/packwright/internal/operation"
	"github.com/dshills/packwright/internal/toolchain"
)

// Workspace is the folder registry and focus coordinator.
//
// Transitions — root add/remove, folder registration, focus moves,
// settings swaps — are serialized by a transition lock, and each
// transition's observer dispatch completes before the next transition
// starts. Read accessors only take the data lock and may be called from
// anywhere, including observer handlers.
type Workspace struct {
	chain  *toolchain.Toolchain
	runner operation.Runner
	logf   func(format string, args ...any)

	// transMu serializes transitions including their dispatch.
	transMu sync.Mutex

	// mu guards the fields below against concurrent readers.
	mu       sync.RWMutex
	settings config.Settings
	roots    []string
	folders  []*Folder
	focus    FocusState
	focused  *Folder
	closed   bool

	initializing    bool
	deferredPath    string
	hasDeferredPath bool

	observers observerSet
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogf routes workspace diagnostics (skipped observers, unreadable
// directories, queue reports) to fn. The default discards them.
func WithLogf(fn func(format string, args ...any)) Option {
	return func(w *Workspace) { w.logf = fn }
}

// New creates an empty Workspace in its initialization phase. Callers
// add roots, then FinishSetup.
func New(settings config.Settings, chain *toolchain.Toolchain, runner operation.Runner, opts ...Option) *Workspace {
	w := &Workspace{
		chain:        chain,
		runner:       runner,
		settings:     settings,
		focus:        FocusUndetermined,
		initializing: true,
		logf:         func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Observe registers obs and returns its removal function. Events fire
// in registration order; folder teardown fires in reverse order.
func (w *Workspace) Observe(obs Observer) func() {
	return w.observers.add(obs)
}

// Settings returns the current settings snapshot.
func (w *Workspace) Settings() config.Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings
}

// UpdateSettings installs a new settings snapshot and notifies
// observers. Discovery and focus behavior pick the new values up on
// their next use; the toolchain binding is fixed at construction.
func (w *Workspace) UpdateSettings(ctx context.Context, s config.Settings) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()
	w.mu.Lock()
	w.settings = s
	w.mu.Unlock()
	return w.observers.notify(ctx, Event{Kind: EventSettingsChanged}, w.logf)
}

// WorkspaceRoots returns the registered roots in registration order.
func (w *Workspace) WorkspaceRoots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.roots))
	copy(out, w.roots)
	return out
}

// Folders returns the registered folders in registration order.
func (w *Workspace) Folders() []*Folder {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Folder, len(w.folders))
	copy(out, w.folders)
	return out
}

// FolderCount returns the number of registered folders.
func (w *Workspace) FolderCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.folders)
}

// FolderAt returns the folder rooted exactly at dir, or nil.
func (w *Workspace) FolderAt(dir string) *Folder {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	abs = filepath.Clean(abs)
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, f := range w.folders {
		if f.root == abs {
			return f
		}
	}
	return nil
}

// FindOwning returns the registered folder owning path: the folder
// whose root contains it, preferring the most specific root when
// folders nest. Returns nil when no folder contains path.
func (w *Workspace) FindOwning(path string) *Folder {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	return w.findOwning(filepath.Clean(abs))
}

func (w *Workspace) findOwning(path string) *Folder {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var best *Folder
	for _, f := range w.folders {
		if !containsPath(f.root, path) {
			continue
		}
		if best == nil || len(f.root) > len(best.root) {
			best = f
		}
	}
	return best
}

// FocusState returns the current focus state.
func (w *Workspace) FocusState() FocusState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.focus
}

// FocusedFolder returns the focused folder, or nil when focus is
// undetermined or deliberately cleared.
func (w *Workspace) FocusedFolder() *Folder {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.focused
}

// AddWorkspaceRoot registers a workspace root and discovers the
// packages under it. Adding a root twice is a no-op.
func (w *Workspace) AddWorkspaceRoot(ctx context.Context, root string) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	abs = filepath.Clean(abs)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()

	return w.discoverLocked(ctx, abs, abs)
}

// RemoveWorkspaceRoot tears down every folder discovered under root, in
// reverse registration order, closing each folder's queue. If the
// focused folder is among them, focus moves to none first. Observer
// errors do not stop the teardown; the first one is returned once the
// teardown is complete. Removing an unknown root is a no-op.
func (w *Workspace) RemoveWorkspaceRoot(ctx context.Context, root string) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	return w.removeRootLocked(ctx, filepath.Clean(abs))
}

func (w *Workspace) removeRootLocked(ctx context.Context, root string) error {
	w.mu.RLock()
	rootKnown := false
	for _, r := range w.roots {
		if r == root {
			rootKnown = true
			break
		}
	}
	var victims []*Folder
	for _, f := range w.folders {
		if f.workspaceRoot == root {
			victims = append(victims, f)
		}
	}
	focusedVictim := w.focus == FocusFolder && w.focused != nil && w.focused.workspaceRoot == root
	w.mu.RUnlock()

	if !rootKnown && len(victims) == 0 {
		return nil
	}

	var firstErr error
	if focusedVictim {
		if err := w.unfocusCurrentLocked(ctx); err != nil {
			firstErr = err
		}
	}

	for i := len(victims) - 1; i >= 0; i-- {
		f := victims[i]
		if err := w.observers.notifyReverse(ctx, Event{Kind: EventFolderRemoved, Folder: f}, w.logf); err != nil && firstErr == nil {
			firstErr = err
		}
		w.mu.Lock()
		for j, g := range w.folders {
			if g == f {
				w.folders = append(w.folders[:j], w.folders[j+1:]...)
				break
			}
		}
		w.mu.Unlock()
		f.queue.Close("folder removed")
	}

	w.mu.Lock()
	for i, r := range w.roots {
		if r == root {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			break
		}
	}
	w.mu.Unlock()

	return firstErr
}

// AddFolder registers the package rooted at dir under workspaceRoot.
// Registering an already-registered root returns the existing folder.
func (w *Workspace) AddFolder(ctx context.Context, dir, workspaceRoot string) (*Folder, error) {
	w.transMu.Lock()
	defer w.transMu.Unlock()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve dir: %w", err)
	}
	wsAbs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return w.addFolderLocked(ctx, filepath.Clean(abs), filepath.Clean(wsAbs))
}

func (w *Workspace) addFolderLocked(ctx context.Context, root, workspaceRoot string) (*Folder, error) {
	w.mu.RLock()
	closed := w.closed
	var existing *Folder
	for _, f := range w.folders {
		if f.root == root {
			existing = f
			break
		}
	}
	w.mu.RUnlock()

	if existing != nil {
		return existing, nil
	}
	if closed {
		return nil, ErrClosed
	}
	if !w.chain.ValidRoot(root) {
		return nil, fmt.Errorf("%w: %s", ErrNotAPackage, root)
	}

	f := newFolder(root, workspaceRoot, w.chain, w.runner, w.logf)
	w.mu.Lock()
	w.folders = append(w.folders, f)
	w.mu.Unlock()

	if err := w.observers.notify(ctx, Event{Kind: EventFolderAdded, Folder: f}, w.logf); err != nil {
		// The folder stays registered; the dispatch failure surfaces.
		return f, err
	}
	return f, nil
}

// SetFocus makes f the focused folder, or deliberately clears focus
// when f is nil. Focusing the already-focused folder (or clearing an
// already-cleared focus) is a no-op. Otherwise the previously focused
// folder's unfocus dispatch completes before the focus event fires; an
// observer error during unfocus aborts the transition with focus
// unchanged.
func (w *Workspace) SetFocus(ctx context.Context, f *Folder) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()

	if f != nil && !w.isRegistered(f) {
		return ErrUnknownFolder
	}
	return w.setFocusLocked(ctx, f)
}

func (w *Workspace) setFocusLocked(ctx context.Context, f *Folder) error {
	w.mu.RLock()
	state, current := w.focus, w.focused
	w.mu.RUnlock()

	if state != FocusUndetermined {
		if (f == nil && state == FocusNone) || (f != nil && state == FocusFolder && current == f) {
			return nil
		}
	}

	if state == FocusFolder {
		if err := w.observers.notify(ctx, Event{Kind: EventUnfocused, Folder: current}, w.logf); err != nil {
			return err
		}
	}

	w.mu.Lock()
	if f == nil {
		w.focus, w.focused = FocusNone, nil
	} else {
		w.focus, w.focused = FocusFolder, f
	}
	w.mu.Unlock()

	return w.observers.notify(ctx, Event{Kind: EventFocusChanged, Folder: f}, w.logf)
}

// unfocusCurrentLocked clears a folder focus emitting only the unfocus
// event: used when the focused folder is being removed, and before
// registering a folder that will immediately take focus. The state is
// cleared even when the dispatch errors.
func (w *Workspace) unfocusCurrentLocked(ctx context.Context) error {
	w.mu.RLock()
	state, current := w.focus, w.focused
	w.mu.RUnlock()

	if state != FocusFolder {
		return nil
	}

	err := w.observers.notify(ctx, Event{Kind: EventUnfocused, Folder: current}, w.logf)

	w.mu.Lock()
	w.focus, w.focused = FocusNone, nil
	w.mu.Unlock()
	return err
}

// ActiveFileChanged tracks editor focus. An empty path (no file open,
// or an unaddressable one) deliberately clears folder focus. Otherwise
// the owning folder is focused; when none is registered, the file's
// ancestry is searched for a package root to register and focus. During
// initialization that registration is deferred, and only the most
// recent request survives to FinishSetup.
func (w *Workspace) ActiveFileChanged(ctx context.Context, path string) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()
	return w.activeFileLocked(ctx, path)
}

func (w *Workspace) activeFileLocked(ctx context.Context, path string) error {
	if path == "" {
		return w.setFocusLocked(ctx, nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	if f := w.findOwning(abs); f != nil {
		return w.setFocusLocked(ctx, f)
	}

	workspaceRoot := w.owningWorkspaceRoot(abs)
	if workspaceRoot == "" {
		return w.setFocusLocked(ctx, nil)
	}
	dir := w.findDiscoverableRoot(abs, workspaceRoot)
	if dir == "" {
		return w.setFocusLocked(ctx, nil)
	}

	w.mu.Lock()
	if w.initializing {
		w.deferredPath, w.hasDeferredPath = path, true
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	return w.registerAndFocusLocked(ctx, dir, workspaceRoot)
}

// registerAndFocusLocked unfocuses, registers, then focuses, in that
// order, so no moment has two folders contending for focus.
func (w *Workspace) registerAndFocusLocked(ctx context.Context, dir, workspaceRoot string) error {
	if err := w.unfocusCurrentLocked(ctx); err != nil {
		return err
	}
	f, err := w.addFolderLocked(ctx, dir, workspaceRoot)
	if err != nil {
		return err
	}
	return w.setFocusLocked(ctx, f)
}

// FinishSetup ends the initialization phase: a deferred focus request
// is resolved now, and when focus is still undetermined and exactly one
// folder exists, the sole-folder rule focuses it.
func (w *Workspace) FinishSetup(ctx context.Context) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()

	w.mu.Lock()
	w.initializing = false
	path, had := w.deferredPath, w.hasDeferredPath
	w.deferredPath, w.hasDeferredPath = "", false
	w.mu.Unlock()

	if had {
		if err := w.activeFileLocked(ctx, path); err != nil {
			return err
		}
	}

	w.mu.RLock()
	var sole *Folder
	if w.settings.FocusSoleFolder && w.focus == FocusUndetermined && len(w.folders) == 1 {
		sole = w.folders[0]
	}
	w.mu.RUnlock()

	if sole != nil {
		return w.setFocusLocked(ctx, sole)
	}
	return nil
}

// NotifyManifestChanged refreshes the folder owning path after its
// manifest changed on disk and notifies observers. Paths outside every
// registered folder are ignored.
func (w *Workspace) NotifyManifestChanged(ctx context.Context, path string) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	f := w.findOwning(filepath.Clean(abs))
	if f == nil {
		return nil
	}
	f.refresh(w.chain)
	return w.observers.notify(ctx, Event{Kind: EventManifestChanged, Folder: f}, w.logf)
}

// Close tears down every root in reverse registration order and
// rejects further mutation. Close is idempotent.
func (w *Workspace) Close(ctx context.Context) error {
	w.transMu.Lock()
	defer w.transMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	roots := make([]string, len(w.roots))
	copy(roots, w.roots)
	w.mu.Unlock()

	var firstErr error
	for i := len(roots) - 1; i >= 0; i-- {
		if err := w.removeRootLocked(ctx, roots[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return firstErr
}

// OwningWorkspaceRoot returns the most specific registered workspace
// root containing path, or "" when path lies outside every root.
func (w *Workspace) OwningWorkspaceRoot(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return w.owningWorkspaceRoot(filepath.Clean(abs))
}

// owningWorkspaceRoot returns the most specific registered root
// containing path, or "".
func (w *Workspace) owningWorkspaceRoot(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	best := ""
	for _, r := range w.roots {
		if !containsPath(r, path) {
			continue
		}
		if len(r) > len(best) {
			best = r
		}
	}
	return best
}

func (w *Workspace) isRegistered(f *Folder) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, g := range w.folders {
		if g == f {
			return true
		}
	}
	return false
}
