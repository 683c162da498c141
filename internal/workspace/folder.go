package workspace

import (
	"path/filepath"
	"sync"

	"github.com/dshills/packwright/internal/operation"
	"github.com/dshills/packwright/internal/toolchain"
)

// Folder is one registered package root. Its identity (paths, label,
// queue) is fixed at registration; validity and package name follow the
// manifest on disk.
type Folder struct {
	root          string
	workspaceRoot string
	label         string
	queue         *operation.Queue

	mu      sync.RWMutex
	valid   bool
	pkgName string
}

func newFolder(root, workspaceRoot string, chain *toolchain.Toolchain, runner operation.Runner, report func(format string, args ...any)) *Folder {
	f := &Folder{
		root:          root,
		workspaceRoot: workspaceRoot,
		label:         folderLabel(root, workspaceRoot),
	}
	f.queue = operation.NewQueue(f.label, runner, operation.WithReport(report))
	f.refresh(chain)
	return f
}

// Root returns the package root directory.
func (f *Folder) Root() string { return f.root }

// WorkspaceRoot returns the workspace root this folder was discovered
// under.
func (f *Folder) WorkspaceRoot() string { return f.workspaceRoot }

// Label returns the display label: the root's path relative to its
// workspace root, or the base name for a folder that is the root.
func (f *Folder) Label() string { return f.label }

// Queue returns the folder's operation queue.
func (f *Folder) Queue() *operation.Queue { return f.queue }

// Valid reports whether the folder still carries a package marker.
func (f *Folder) Valid() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.valid
}

// PackageName returns the manifest's declared name, falling back to the
// directory name.
func (f *Folder) PackageName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pkgName
}

// refresh re-reads the folder's on-disk markers and package name. The
// manifest names the package; a database-only root falls back to the
// name the build database recorded, then to the directory name.
func (f *Folder) refresh(chain *toolchain.Toolchain) {
	valid := chain.ValidRoot(f.root)
	name := filepath.Base(f.root)
	if m, err := chain.LoadManifest(f.root); err == nil {
		name = m.DisplayName(name)
	} else if st, err := chain.LoadState(f.root); err == nil && st.PackageName != "" {
		name = st.PackageName
	}
	f.mu.Lock()
	f.valid = valid
	f.pkgName = name
	f.mu.Unlock()
}

func folderLabel(root, workspaceRoot string) string {
	rel, err := filepath.Rel(workspaceRoot, root)
	if err != nil || rel == "." || rel == "" {
		return filepath.Base(root)
	}
	return filepath.ToSlash(rel)
}
