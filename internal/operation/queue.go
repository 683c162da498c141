package operation

import (
	"context"
	"fmt"
	"sync"
)

// Queue serializes operations for one folder. Ordinary operations run
// one at a time in submission order. BypassQueue operations may start
// beside an ordinary one; Exclusive operations wait for an empty queue
// and block everything else while they run.
type Queue struct {
	name   string
	runner Runner
	report func(format string, args ...any)

	mu          sync.Mutex
	pending     []*Handle
	active      []*Handle
	closed      bool
	closeReason string
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithReport routes queue diagnostics (failed terminations, degraded
// cancellations) to fn. The default discards them.
func WithReport(fn func(format string, args ...any)) QueueOption {
	return func(q *Queue) { q.report = fn }
}

// NewQueue returns an empty queue named for diagnostics, typically the
// folder label.
func NewQueue(name string, runner Runner, opts ...QueueOption) *Queue {
	q := &Queue{
		name:   name,
		runner: runner,
		report: func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue's diagnostic name.
func (q *Queue) Name() string { return q.name }

// Submit enqueues op and returns its handle. If an operation with the
// same Key is already pending or active, the existing handle is
// returned instead. The operation starts immediately when admission
// rules allow; otherwise it waits its turn. Cancelling ctx cancels the
// operation.
func (q *Queue) Submit(ctx context.Context, op Operation) (*Handle, error) {
	if len(op.Argv) == 0 {
		return nil, ErrNoCommand
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w (%s)", ErrQueueClosed, q.name)
	}
	if h := q.lookupLocked(op.Key); h != nil {
		q.mu.Unlock()
		return h, nil
	}
	h := newHandle(ctx, op, q)
	q.pending = append(q.pending, h)
	if q.admitLocked(h) {
		q.startLocked(h)
	}
	q.mu.Unlock()

	if ctx.Done() != nil {
		go q.watchContext(ctx, h)
	}
	return h, nil
}

// Active returns the handles currently running, in start order.
func (q *Queue) Active() []*Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Handle, len(q.active))
	copy(out, q.active)
	return out
}

// Pending returns the handles waiting to start, in submission order.
func (q *Queue) Pending() []*Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Handle, len(q.pending))
	copy(out, q.pending)
	return out
}

// Close cancels all pending and active operations with the given reason
// and rejects further submissions. Close is idempotent.
func (q *Queue) Close(reason string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.closeReason = reason
	pending := q.pending
	q.pending = nil
	active := make([]*Handle, len(q.active))
	copy(active, q.active)
	q.mu.Unlock()

	for _, h := range pending {
		h.resolve(StateCanceled, -1, nil, reason)
	}
	for _, h := range active {
		q.cancelHandle(h, reason)
	}
}

// lookupLocked finds a live handle with the given dedup key.
func (q *Queue) lookupLocked(key string) *Handle {
	for _, h := range q.active {
		if h.op.Key == key {
			return h
		}
	}
	for _, h := range q.pending {
		if h.op.Key == key {
			return h
		}
	}
	return nil
}

// admitLocked decides whether a freshly submitted operation starts
// now: only when the queue is idle, or when the operation bypasses the
// queue and nothing exclusive is active.
func (q *Queue) admitLocked(h *Handle) bool {
	if len(q.active) == 0 {
		return true
	}
	if !h.op.BypassQueue {
		return false
	}
	for _, a := range q.active {
		if a.op.Exclusive {
			return false
		}
	}
	return true
}

// eligibleLocked decides whether a waiting operation may start once a
// slot frees up. Exclusive operations need an empty queue; ordinary
// ones additionally wait out other ordinary ones, but not lingering
// bypassers.
func (q *Queue) eligibleLocked(h *Handle) bool {
	if len(q.active) == 0 {
		return true
	}
	for _, a := range q.active {
		if a.op.Exclusive {
			return false
		}
	}
	if h.op.Exclusive {
		return false
	}
	if h.op.BypassQueue {
		return true
	}
	for _, a := range q.active {
		if !a.op.BypassQueue {
			return false
		}
	}
	return true
}

// scheduleLocked starts every pending operation that has become
// eligible, in submission order, until none qualifies.
func (q *Queue) scheduleLocked() {
	if q.closed {
		return
	}
	for {
		started := false
		for _, h := range q.pending {
			if q.eligibleLocked(h) {
				q.startLocked(h)
				started = true
				break
			}
		}
		if !started {
			return
		}
	}
}

func (q *Queue) startLocked(h *Handle) {
	q.removePendingLocked(h)
	q.active = append(q.active, h)
	h.setRunning()
	go q.run(h)
}

func (q *Queue) run(h *Handle) {
	spec := Spec{
		Name:     h.op.Description,
		Argv:     h.op.Argv,
		Dir:      h.op.Dir,
		Env:      h.op.Env,
		OnOutput: h.appendLine,
	}
	proc, err := q.runner.Start(h.ctx, spec)
	if err != nil {
		q.finish(h, StateFailed, -1, fmt.Errorf("start %s: %w", h.op.Description, err), "")
		return
	}
	if h.attachProc(proc) {
		// Cancel arrived before the process existed.
		if terr := proc.Terminate(); terr != nil {
			q.report("queue %s: terminate %s: %v", q.name, h.op.Description, terr)
		}
	}
	<-proc.Done()

	canceled, reason := h.cancelState()
	switch {
	case canceled:
		q.finish(h, StateCanceled, proc.ExitCode(), nil, reason)
	case proc.Err() != nil:
		q.finish(h, StateFailed, proc.ExitCode(), fmt.Errorf("%s: %w", h.op.Description, proc.Err()), "")
	case proc.ExitCode() != 0:
		q.finish(h, StateFailed, proc.ExitCode(), &ExitError{Code: proc.ExitCode()}, "")
	default:
		q.finish(h, StateSucceeded, 0, nil, "")
	}
}

// finish retires h and starts whatever became eligible. It is safe to
// call for handles another path already resolved.
func (q *Queue) finish(h *Handle, state State, exitCode int, err error, reason string) {
	q.mu.Lock()
	q.removeActiveLocked(h)
	h.resolve(state, exitCode, err, reason)
	q.scheduleLocked()
	q.mu.Unlock()
}

// cancelHandle implements Handle.Cancel and Close for one handle.
func (q *Queue) cancelHandle(h *Handle, reason string) {
	q.mu.Lock()
	if q.removePendingLocked(h) {
		h.resolve(StateCanceled, -1, nil, reason)
		q.mu.Unlock()
		return
	}
	if !q.isActiveLocked(h) {
		q.mu.Unlock()
		return
	}
	proc := h.requestCancel(reason)
	q.mu.Unlock()
	if proc == nil {
		// Not attached yet; run() terminates it right after attach.
		return
	}
	if err := proc.Terminate(); err != nil {
		// The process cannot be signalled. Resolve the handle anyway so
		// the queue does not wedge behind it; the child may linger.
		q.report("queue %s: terminate %s: %v", q.name, h.op.Description, err)
		q.finish(h, StateCanceled, -1, nil, reason)
	}
}

func (q *Queue) watchContext(ctx context.Context, h *Handle) {
	select {
	case <-h.done:
	case <-ctx.Done():
		q.cancelHandle(h, "context canceled")
	}
}

func (q *Queue) removePendingLocked(h *Handle) bool {
	for i, p := range q.pending {
		if p == h {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) removeActiveLocked(h *Handle) {
	for i, a := range q.active {
		if a == h {
			q.active = append(q.active[:i], q.active[i+1:]...)
			return
		}
	}
}

func (q *Queue) isActiveLocked(h *Handle) bool {
	for _, a := range q.active {
		if a == h {
			return true
		}
	}
	return false
}
