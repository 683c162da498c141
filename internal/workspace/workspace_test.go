package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/packwright/internal/config"
	"github.com/dshills/packwright/internal/operation"
	"github.com/dshills/packwright/internal/toolchain"
)

// stubProc is a never-exiting process that dies on the first signal.
type stubProc struct {
	once sync.Once
	done chan struct{}
}

func newStubProc() *stubProc { return &stubProc{done: make(chan struct{})} }

func (p *stubProc) Done() <-chan struct{} { return p.done }
func (p *stubProc) ExitCode() int         { return -1 }
func (p *stubProc) Err() error            { return nil }
func (p *stubProc) Terminate() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
func (p *stubProc) Kill() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type stubRunner struct{}

func (stubRunner) Start(context.Context, operation.Spec) (operation.Process, error) {
	return newStubProc(), nil
}

// eventRecorder is an Observer that appends event descriptions.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) HandleWorkspaceEvent(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, describe(ev))
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) clear() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func describe(ev Event) string {
	if ev.Folder != nil {
		return ev.Kind.String() + ":" + ev.Folder.Label()
	}
	return ev.Kind.String()
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

// makePackage creates a package directory with a manifest under root.
func makePackage(t *testing.T, root, rel, name string) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	manifest := fmt.Sprintf("[package]\nname = %q\n", name)
	if err := os.WriteFile(filepath.Join(dir, "pack.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir
}

func testSettings() config.Settings {
	s := config.Default()
	s.FocusSoleFolder = false
	return s
}

func newTestWorkspace(s config.Settings) *Workspace {
	return New(s, toolchain.New(toolchain.Config{}), stubRunner{})
}

func TestAddWorkspaceRootRegistersPackages(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	makePackage(t, root, ".", "rootpkg")

	w := newTestWorkspace(testSettings())
	rec := &eventRecorder{}
	w.Observe(rec)

	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatalf("AddWorkspaceRoot: %v", err)
	}

	folders := w.Folders()
	if len(folders) != 1 {
		t.Fatalf("FolderCount = %d, want 1", len(folders))
	}
	f := folders[0]
	if f.Root() != root || f.WorkspaceRoot() != root {
		t.Errorf("folder paths root=%q ws=%q", f.Root(), f.WorkspaceRoot())
	}
	if f.Label() != filepath.Base(root) {
		t.Errorf("Label = %q, want %q", f.Label(), filepath.Base(root))
	}
	if f.PackageName() != "rootpkg" {
		t.Errorf("PackageName = %q, want rootpkg", f.PackageName())
	}
	if !f.Valid() {
		t.Error("folder should be valid")
	}
	assertEvents(t, rec.list(), []string{"folder-added:" + f.Label()})

	// Re-adding the same root is a no-op.
	rec.clear()
	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatalf("second AddWorkspaceRoot: %v", err)
	}
	if len(w.Folders()) != 1 || len(rec.list()) != 0 {
		t.Error("adding a root twice should change nothing")
	}
	if roots := w.WorkspaceRoots(); len(roots) != 1 || roots[0] != root {
		t.Errorf("WorkspaceRoots = %v", roots)
	}
}

func TestAddFolderDuplicateReturnsExisting(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := makePackage(t, root, "svc", "svc")

	w := newTestWorkspace(testSettings())
	rec := &eventRecorder{}
	w.Observe(rec)

	first, err := w.AddFolder(ctx, dir, root)
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	second, err := w.AddFolder(ctx, dir, root)
	if err != nil {
		t.Fatalf("duplicate AddFolder: %v", err)
	}
	if first != second {
		t.Error("duplicate registration should return the existing folder")
	}
	if w.FolderCount() != 1 {
		t.Errorf("FolderCount = %d, want 1", w.FolderCount())
	}
	assertEvents(t, rec.list(), []string{"folder-added:svc"})
}

func TestAddFolderRejectsNonPackage(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	plain := filepath.Join(root, "plain")
	if err := os.MkdirAll(plain, 0o755); err != nil {
		t.Fatal(err)
	}

	w := newTestWorkspace(testSettings())
	if _, err := w.AddFolder(ctx, plain, root); !errors.Is(err, ErrNotAPackage) {
		t.Errorf("err = %v, want ErrNotAPackage", err)
	}
}

func TestRemoveWorkspaceRootTearsDownInReverse(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	makePackage(t, root, "alpha", "alpha")
	makePackage(t, root, "beta", "beta")
	makePackage(t, root, "gamma", "gamma")

	w := newTestWorkspace(testSettings())
	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatalf("AddWorkspaceRoot: %v", err)
	}
	if w.FolderCount() != 3 {
		t.Fatalf("FolderCount = %d, want 3", w.FolderCount())
	}

	rec := &eventRecorder{}
	w.Observe(rec)

	if err := w.RemoveWorkspaceRoot(ctx, root); err != nil {
		t.Fatalf("RemoveWorkspaceRoot: %v", err)
	}
	// Directory scan registers alphabetically; teardown reverses that.
	assertEvents(t, rec.list(), []string{
		"folder-removed:gamma",
		"folder-removed:beta",
		"folder-removed:alpha",
	})
	if w.FolderCount() != 0 {
		t.Errorf("FolderCount = %d after removal", w.FolderCount())
	}
	if len(w.WorkspaceRoots()) != 0 {
		t.Errorf("WorkspaceRoots = %v after removal", w.WorkspaceRoots())
	}

	// Unknown roots are a no-op.
	if err := w.RemoveWorkspaceRoot(ctx, filepath.Join(root, "never")); err != nil {
		t.Errorf("removing unknown root: %v", err)
	}
}

func TestRemoveWorkspaceRootCancelsOperations(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	makePackage(t, root, ".", "rootpkg")

	w := newTestWorkspace(testSettings())
	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatal(err)
	}
	f := w.Folders()[0]

	h, err := f.Queue().Submit(ctx, operation.New(operation.GroupBuild, []string{"pack", "build"}, root))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := w.RemoveWorkspaceRoot(ctx, root); err != nil {
		t.Fatalf("RemoveWorkspaceRoot: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	state, err := h.Wait(waitCtx)
	if err != nil {
		t.Fatalf("operation never finished: %v", err)
	}
	if state != operation.StateCanceled {
		t.Errorf("state = %v, want canceled", state)
	}
	if h.CancelReason() != "folder removed" {
		t.Errorf("reason = %q", h.CancelReason())
	}
	if _, err := f.Queue().Submit(ctx, operation.New(operation.GroupBuild, []string{"pack", "build"}, root)); !errors.Is(err, operation.ErrQueueClosed) {
		t.Errorf("Submit after removal = %v, want ErrQueueClosed", err)
	}
}

func TestObserversRunInOrderAndReverseOnTeardown(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	makePackage(t, root, "svc", "svc")

	w := newTestWorkspace(testSettings())

	var mu sync.Mutex
	var order []string
	observe := func(tag string) {
		w.Observe(ObserverFunc(func(_ context.Context, ev Event) error {
			mu.Lock()
			order = append(order, tag+":"+ev.Kind.String())
			mu.Unlock()
			return nil
		}))
	}
	observe("first")
	observe("second")

	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveWorkspaceRoot(ctx, root); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"first:folder-added", "second:folder-added",
		"second:folder-removed", "first:folder-removed",
	}
	assertEvents(t, order, want)
}

func TestObserverErrorAbortsDispatchButKeepsFolder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	makePackage(t, root, "svc", "svc")

	var logged []string
	var logMu sync.Mutex
	w := New(testSettings(), toolchain.New(toolchain.Config{}), stubRunner{},
		WithLogf(func(format string, args ...any) {
			logMu.Lock()
			logged = append(logged, fmt.Sprintf(format, args...))
			logMu.Unlock()
		}))

	boom := errors.New("observer exploded")
	w.Observe(ObserverFunc(func(context.Context, Event) error { return boom }))
	rec := &eventRecorder{}
	w.Observe(rec)

	err := w.AddWorkspaceRoot(ctx, root)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped observer error", err)
	}
	if len(rec.list()) != 0 {
		t.Error("later observers should be skipped after an error")
	}
	if w.FolderCount() != 1 {
		t.Error("folder should stay registered despite the dispatch error")
	}
	logMu.Lock()
	defer logMu.Unlock()
	if len(logged) == 0 {
		t.Error("skipped observers should be reported")
	}
}

func TestObserverErrorDoesNotStopTeardown(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	makePackage(t, root, "alpha", "alpha")
	makePackage(t, root, "beta", "beta")

	w := newTestWorkspace(testSettings())
	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("teardown handler failed")
	w.Observe(ObserverFunc(func(_ context.Context, ev Event) error {
		if ev.Kind == EventFolderRemoved {
			return boom
		}
		return nil
	}))

	err := w.RemoveWorkspaceRoot(ctx, root)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want first observer error", err)
	}
	if w.FolderCount() != 0 {
		t.Errorf("teardown should complete despite observer errors, %d folders left", w.FolderCount())
	}
}

func TestFindOwningPrefersMostSpecific(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	makePackage(t, root, ".", "outer")
	nested := makePackage(t, root, "nested", "inner")

	s := testSettings()
	w := newTestWorkspace(s)
	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatal(err)
	}
	// Discovery stops at the outer package; a nested folder enters the
	// set the way a manifest-create event would, through AddFolder.
	if _, err := w.AddFolder(ctx, nested, root); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if w.FolderCount() != 2 {
		t.Fatalf("FolderCount = %d, want 2", w.FolderCount())
	}

	if f := w.FindOwning(filepath.Join(nested, "src", "main.c")); f == nil || f.Root() != nested {
		t.Errorf("file in nested package resolved to %v", f)
	}
	if f := w.FindOwning(filepath.Join(root, "docs", "readme.md")); f == nil || f.Root() != root {
		t.Errorf("file in outer package resolved to %v", f)
	}
	if f := w.FindOwning(filepath.Dir(root)); f != nil {
		t.Errorf("file outside all folders resolved to %v", f)
	}
	// A folder owns its own root path.
	if f := w.FindOwning(nested); f == nil || f.Root() != nested {
		t.Errorf("folder root resolved to %v", f)
	}
}

func TestFolderAt(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := makePackage(t, root, "svc", "svc")

	w := newTestWorkspace(testSettings())
	if err := w.AddWorkspaceRoot(ctx, root); err != nil {
		t.Fatal(err)
	}
	if f := w.FolderAt(dir); f == nil || f.Root() != dir {
		t.Errorf("FolderAt(%q) = %v", dir, f)
	}
	if f := w.FolderAt(filepath.Join(dir, "src")); f != nil {
		t.Error("FolderAt should match exact roots only")
	}
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkspace(testSettings())
	rec := &eventRecorder{}
	w.Observe(rec)

	s := w.Settings()
	s.SearchSubfolders = false
	if err := w.UpdateSettings(ctx, s); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if w.Settings().SearchSubfolders {
		t.Error("settings snapshot not swapped")
	}
	assertEvents(t, rec.list(), []string{"settings-changed"})
}

func TestCloseTearsDownAndRejectsMutation(t *testing.T) {
	ctx := context.Background()
	rootA := t.TempDir()
	rootB := t.TempDir()
	makePackage(t, rootA, ".", "a")
	makePackage(t, rootB, ".", "b")

	w := newTestWorkspace(testSettings())
	if err := w.AddWorkspaceRoot(ctx, rootA); err != nil {
		t.Fatal(err)
	}
	if err := w.AddWorkspaceRoot(ctx, rootB); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	w.Observe(rec)

	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Roots unwind newest-first.
	assertEvents(t, rec.list(), []string{
		"folder-removed:" + filepath.Base(rootB),
		"folder-removed:" + filepath.Base(rootA),
	})
	if w.FolderCount() != 0 {
		t.Error("folders should be gone after Close")
	}

	if err := w.AddWorkspaceRoot(ctx, rootA); !errors.Is(err, ErrClosed) {
		t.Errorf("AddWorkspaceRoot after Close = %v, want ErrClosed", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
