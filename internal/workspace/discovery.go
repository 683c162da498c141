package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// discoverLocked registers the packages under root. A directory that
// validates as a package root is registered and not descended into, so
// an outer package shadows any nested ones. Non-package directories
// are searched recursively when configured; hidden directories, the
// toolchain checkout directory and configured exclusions are never
// descended into.
func (w *Workspace) discoverLocked(ctx context.Context, root, workspaceRoot string) error {
	return w.discoverDir(ctx, root, workspaceRoot, w.Settings().SearchSubfolders)
}

func (w *Workspace) discoverDir(ctx context.Context, dir, workspaceRoot string, recurse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.chain.ValidRoot(dir) {
		_, err := w.addFolderLocked(ctx, dir, workspaceRoot)
		return err
	}
	if !recurse {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if dir == workspaceRoot {
			return fmt.Errorf("discover %s: %w", dir, err)
		}
		// Deeper directories may be unreadable; note it and move on.
		w.logf("discover %s: %v", dir, err)
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() || w.skipDir(entry.Name()) {
			continue
		}
		if err := w.discoverDir(ctx, filepath.Join(dir, entry.Name()), workspaceRoot, true); err != nil {
			return err
		}
	}
	return nil
}

// skipDir reports whether discovery must not descend into name.
func (w *Workspace) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if name == w.chain.CheckoutsDir() {
		return true
	}
	for _, ex := range w.Settings().ExcludeDirs {
		if name == ex {
			return true
		}
	}
	return false
}

// findDiscoverableRoot walks upward from path's directory to
// workspaceRoot and returns the outermost directory that is a package
// root, or "" when none is.
//
// TODO: revisit outermost-wins when both an ancestor and the file's own
// directory carry manifests; monorepo users may expect the innermost
// package to take focus.
func (w *Workspace) findDiscoverableRoot(path, workspaceRoot string) string {
	dir := filepath.Dir(path)
	if dir != workspaceRoot && !isSubPath(workspaceRoot, dir) {
		return ""
	}
	var found string
	for {
		if w.chain.ValidRoot(dir) {
			found = dir
		}
		if dir == workspaceRoot {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return found
}

// isSubPath reports whether child is strictly inside parent, comparing
// whole path segments.
func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// containsPath reports whether path is root itself or inside it.
func containsPath(root, path string) bool {
	return path == root || isSubPath(root, path)
}
