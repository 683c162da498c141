package toolchain

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Manifest is the decoded pack.toml. Only the fields packwright cares
// about are mapped; unknown keys are ignored.
type Manifest struct {
	Package      Package           `toml:"package"`
	Dependencies map[string]string `toml:"dependencies"`
}

// Package is the [package] table of a manifest.
type Package struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// DisplayName returns the declared package name, or fallback when the
// manifest does not declare one.
func (m *Manifest) DisplayName(fallback string) string {
	if m != nil && m.Package.Name != "" {
		return m.Package.Name
	}
	return fallback
}

// LoadManifest reads and decodes the manifest for the package rooted at
// dir. A missing manifest returns an error wrapping os.ErrNotExist;
// roots marked only by a build database hit this path and callers fall
// back to the directory name.
func (t *Toolchain) LoadManifest(dir string) (*Manifest, error) {
	path := t.ManifestPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}
