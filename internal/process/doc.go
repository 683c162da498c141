// Package process runs and supervises pack child processes.
//
// A Supervisor starts processes from a Spec, scans their output into
// line callbacks, tracks them until exit, and tears the survivors down
// on shutdown. Processes run in their own process group so that
// termination reaches the whole tree, not just the direct child.
//
// Runner adapts a Supervisor to the operation.Runner interface; the
// operation package itself never touches os/exec.
package process
