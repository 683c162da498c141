package operation

import (
	"context"
	"time"
)

// OutputLine is one line of process output.
type OutputLine struct {
	Text   string
	Stderr bool
	Time   time.Time
}

// Spec is everything a Runner needs to start one invocation.
type Spec struct {
	Name string
	Argv []string
	Dir  string
	Env  map[string]string
	// OnOutput receives each output line as it is read. May be nil.
	OnOutput func(OutputLine)
}

// Process is a started invocation as seen by the queue.
type Process interface {
	// Done is closed when the process has exited and all output has
	// been delivered.
	Done() <-chan struct{}
	// ExitCode returns the exit code, or -1 before exit and for
	// abnormal termination.
	ExitCode() int
	// Err returns the failure that prevented a clean exit, if any.
	// A non-zero exit code is not an Err; it is reported via ExitCode.
	Err() error
	// Terminate asks the process to stop gracefully.
	Terminate() error
	// Kill stops the process immediately.
	Kill() error
}

// Runner starts processes on behalf of a queue. The production
// implementation lives in the process package; tests substitute fakes.
type Runner interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}
