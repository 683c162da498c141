// Package operation models external tool invocations and the per-folder
// queue that serializes them.
//
// An Operation is an immutable description of one invocation: argv,
// working directory, environment, a group, and two scheduling flags.
// Submitting an Operation to a Queue yields a Handle, the mutable view
// of that run: state, exit code, captured output, cancellation.
//
// A Queue runs at most one ordinary operation at a time. Operations
// marked BypassQueue may run alongside an ordinary one, and operations
// marked Exclusive run strictly alone. All admission decisions happen
// synchronously under the queue lock, so two submissions can never both
// conclude the queue is idle.
package operation
