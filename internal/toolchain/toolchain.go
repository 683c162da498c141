package toolchain

import (
	"os"
	"path/filepath"
)

// Config selects the tool binary and the marker files that identify a
// package root. Zero values fall back to the standard pack layout.
type Config struct {
	Executable   string
	ManifestName string
	StateFile    string
	CheckoutsDir string
	ExtraArgs    []string
}

// Toolchain answers questions about pack packages on disk and builds
// invocations for the standard operations. It is immutable and safe for
// concurrent use.
type Toolchain struct {
	cfg Config
}

// New returns a Toolchain for cfg, filling unset fields with the
// standard pack layout.
func New(cfg Config) *Toolchain {
	if cfg.Executable == "" {
		cfg.Executable = "pack"
	}
	if cfg.ManifestName == "" {
		cfg.ManifestName = "pack.toml"
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(".pack", "state.json")
	}
	if cfg.CheckoutsDir == "" {
		cfg.CheckoutsDir = "pack_modules"
	}
	return &Toolchain{cfg: cfg}
}

// Executable returns the pack binary name or path.
func (t *Toolchain) Executable() string { return t.cfg.Executable }

// ManifestName returns the manifest file name, e.g. "pack.toml".
func (t *Toolchain) ManifestName() string { return t.cfg.ManifestName }

// CheckoutsDir returns the dependency checkout directory name.
func (t *Toolchain) CheckoutsDir() string { return t.cfg.CheckoutsDir }

// ManifestPath returns the manifest path for a package rooted at dir.
func (t *Toolchain) ManifestPath(dir string) string {
	return filepath.Join(dir, t.cfg.ManifestName)
}

// StatePath returns the build database path for a package rooted at dir.
func (t *Toolchain) StatePath(dir string) string {
	return filepath.Join(dir, t.cfg.StateFile)
}

// ValidRoot reports whether dir is a package root: it must contain the
// manifest or the build database. The two markers are independent; a
// root that lost its manifest but still has build state remains valid.
func (t *Toolchain) ValidRoot(dir string) bool {
	if isRegularFile(t.ManifestPath(dir)) {
		return true
	}
	return isRegularFile(t.StatePath(dir))
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (t *Toolchain) args(subcommand, dir string, extra ...string) []string {
	argv := make([]string, 0, 4+len(t.cfg.ExtraArgs)+len(extra))
	argv = append(argv, t.cfg.Executable, subcommand)
	argv = append(argv, t.cfg.ExtraArgs...)
	argv = append(argv, extra...)
	argv = append(argv, "--package-path", dir)
	return argv
}

// BuildArgs returns the argv for building the package at dir.
func (t *Toolchain) BuildArgs(dir string) []string { return t.args("build", dir) }

// TestArgs returns the argv for running the package tests at dir.
func (t *Toolchain) TestArgs(dir string) []string { return t.args("test", dir) }

// ResolveArgs returns the argv for resolving dependencies at dir.
func (t *Toolchain) ResolveArgs(dir string) []string { return t.args("resolve", dir) }

// UpdateArgs returns the argv for updating dependencies at dir.
func (t *Toolchain) UpdateArgs(dir string) []string { return t.args("update", dir) }

// CleanArgs returns the argv for removing build products at dir.
func (t *Toolchain) CleanArgs(dir string) []string { return t.args("clean", dir) }
