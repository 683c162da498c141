// Package task resolves the task to run for a workspace folder and an
// operation group. Users may declare their own tasks in per-root
// declaration files; a declared task takes precedence over the task
// this package would generate from the toolchain, so a customized
// declaration transparently replaces the generated default without any
// configuration merging.
package task
