package operation

import (
	"context"
	"sync"
)

// State is the lifecycle state of a submitted operation.
type State int

// Handle states. Succeeded, Failed and Canceled are terminal.
const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCanceled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Handle is the mutable view of one submitted operation: its state,
// exit code, captured output and cancellation. Handles are created by
// Queue.Submit and are safe for concurrent use.
type Handle struct {
	op Operation
	q  *Queue

	// ctx is the submission context; deferred starts reuse it.
	ctx context.Context

	mu        sync.Mutex
	state     State
	exitCode  int
	err       error
	reason    string
	cancelReq bool
	proc      Process
	lines     []OutputLine
	listeners []func(OutputLine)
	done      chan struct{}
}

func newHandle(ctx context.Context, op Operation, q *Queue) *Handle {
	return &Handle{
		op:       op,
		q:        q,
		ctx:      ctx,
		state:    StatePending,
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

// Operation returns the immutable description this handle tracks.
func (h *Handle) Operation() Operation { return h.op }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ExitCode returns the process exit code, or -1 when the operation has
// not exited normally.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Err returns the failure for a StateFailed handle, nil otherwise.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// CancelReason returns why a canceled operation was canceled, e.g.
// "canceled" or "folder removed".
func (h *Handle) CancelReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// Done is closed once the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Output returns a copy of the lines captured so far.
func (h *Handle) Output() []OutputLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]OutputLine, len(h.lines))
	copy(out, h.lines)
	return out
}

// OnOutput registers fn for output lines. Lines captured before the
// registration are replayed first, so late subscribers see the full
// stream.
func (h *Handle) OnOutput(fn func(OutputLine)) {
	h.mu.Lock()
	replay := make([]OutputLine, len(h.lines))
	copy(replay, h.lines)
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
	for _, line := range replay {
		fn(line)
	}
}

// Cancel requests cancellation. Pending operations resolve immediately
// and never start; running ones have their process terminated. Cancel
// of a terminal handle is a no-op.
func (h *Handle) Cancel() {
	h.q.cancelHandle(h, "canceled")
}

// Wait blocks until the handle is terminal or ctx is done, returning
// the final state.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.done:
		return h.State(), nil
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

func (h *Handle) appendLine(line OutputLine) {
	h.mu.Lock()
	h.lines = append(h.lines, line)
	listeners := make([]func(OutputLine), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(line)
	}
}

func (h *Handle) setRunning() {
	h.mu.Lock()
	if h.state == StatePending {
		h.state = StateRunning
	}
	h.mu.Unlock()
}

// attachProc records the started process and reports whether a cancel
// arrived before the process existed.
func (h *Handle) attachProc(p Process) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proc = p
	return h.cancelReq
}

// requestCancel marks the handle canceled-on-completion and returns the
// process to signal, if one is attached yet.
func (h *Handle) requestCancel(reason string) Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.cancelReq {
		h.cancelReq = true
		h.reason = reason
	}
	return h.proc
}

func (h *Handle) cancelState() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelReq, h.reason
}

// resolve moves the handle to a terminal state. It reports false when
// the handle was already terminal.
func (h *Handle) resolve(state State, exitCode int, err error, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.state = state
	h.exitCode = exitCode
	h.err = err
	if reason != "" {
		h.reason = reason
	}
	close(h.done)
	return true
}
