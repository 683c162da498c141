// Package toolchain binds packwright to the pack build tool: which
// files mark a directory as a package root, how manifests are decoded,
// and how command lines for the standard operations are assembled.
//
// The rest of the codebase never spells out "pack.toml" or argv shapes;
// it asks a Toolchain. That keeps the binding swappable for tests and
// for future tool revisions.
package toolchain
