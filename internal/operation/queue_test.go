package operation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeProc is a Process whose exit is driven by the test.
type fakeProc struct {
	done chan struct{}

	mu         sync.Mutex
	exitCode   int
	err        error
	exited     bool
	terminated bool
	killed     bool
	// termErr simulates a process that cannot be signalled.
	termErr error
}

func newFakeProc() *fakeProc {
	return &fakeProc{done: make(chan struct{}), exitCode: -1}
}

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	if p.termErr != nil {
		defer p.mu.Unlock()
		return p.termErr
	}
	p.terminated = true
	p.mu.Unlock()
	p.exit(-1, nil)
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(-1, nil)
	return nil
}

func (p *fakeProc) exit(code int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.exitCode = code
	p.err = err
	close(p.done)
}

func (p *fakeProc) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// fakeRunner records every start and hands out fakeProcs.
type fakeRunner struct {
	mu       sync.Mutex
	specs    []Spec
	procs    []*fakeProc
	startErr error
	nextTerm error // termErr applied to the next started proc
}

func newFakeRunner() *fakeRunner { return &fakeRunner{} }

func (r *fakeRunner) Start(_ context.Context, spec Spec) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	p := newFakeProc()
	p.termErr = r.nextTerm
	r.specs = append(r.specs, spec)
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

func (r *fakeRunner) spec(i int) Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.specs[i]
}

func (r *fakeRunner) proc(i int) *fakeProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[i]
}

// waitStarted blocks until n processes have been started.
func (r *fakeRunner) waitStarted(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.startCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d starts, have %d", n, r.startCount())
}

// settle gives the queue's goroutines a moment to do something wrong.
func settle() { time.Sleep(25 * time.Millisecond) }

func waitTerminal(t *testing.T, h *Handle) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("operation %q never finished: %v", h.Operation().Description, err)
	}
	return state
}

func buildOp(name string, opts ...Option) Operation {
	return New(GroupBuild, []string{"pack", "build", name}, "/work/"+name, opts...)
}

func TestSubmitStartsWhenIdle(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)

	h, err := q.Submit(context.Background(), buildOp("a"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r.waitStarted(t, 1)
	if got := r.spec(0).Argv[2]; got != "a" {
		t.Errorf("started argv %v", r.spec(0).Argv)
	}
	if h.State() != StateRunning {
		t.Errorf("state = %v, want running", h.State())
	}

	r.proc(0).exit(0, nil)
	if got := waitTerminal(t, h); got != StateSucceeded {
		t.Errorf("final state = %v, want succeeded", got)
	}
	if h.ExitCode() != 0 {
		t.Errorf("exit code = %d", h.ExitCode())
	}
}

func TestFIFOOrderAndAtMostOneActive(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)
	ctx := context.Background()

	a, _ := q.Submit(ctx, buildOp("a"))
	r.waitStarted(t, 1)
	b, _ := q.Submit(ctx, buildOp("b"))
	c, _ := q.Submit(ctx, buildOp("c"))

	settle()
	if n := r.startCount(); n != 1 {
		t.Fatalf("only the first operation should run, started %d", n)
	}
	if b.State() != StatePending || c.State() != StatePending {
		t.Fatalf("b=%v c=%v, want both pending", b.State(), c.State())
	}

	r.proc(0).exit(0, nil)
	r.waitStarted(t, 2)
	if got := r.spec(1).Argv[2]; got != "b" {
		t.Errorf("second start should be b, got %q", got)
	}
	settle()
	if n := r.startCount(); n != 2 {
		t.Fatalf("c started before b finished")
	}

	r.proc(1).exit(0, nil)
	r.waitStarted(t, 3)
	if got := r.spec(2).Argv[2]; got != "c" {
		t.Errorf("third start should be c, got %q", got)
	}
	r.proc(2).exit(0, nil)

	for _, h := range []*Handle{a, b, c} {
		if got := waitTerminal(t, h); got != StateSucceeded {
			t.Errorf("%s state = %v", h.Operation().Description, got)
		}
	}
}

func TestSubmitDeduplicatesLiveOperations(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)
	ctx := context.Background()

	first, _ := q.Submit(ctx, buildOp("a"))
	r.waitStarted(t, 1)
	dupActive, _ := q.Submit(ctx, buildOp("a"))
	if dupActive != first {
		t.Error("identical submission against an active operation should return the existing handle")
	}

	pendingB, _ := q.Submit(ctx, buildOp("b"))
	dupPending, _ := q.Submit(ctx, buildOp("b"))
	if dupPending != pendingB {
		t.Error("identical submission against a pending operation should return the existing handle")
	}

	r.proc(0).exit(0, nil)
	waitTerminal(t, first)

	again, _ := q.Submit(ctx, buildOp("a"))
	if again == first {
		t.Error("resubmission after completion should create a fresh handle")
	}
}

func TestExclusiveRunsAlone(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)
	ctx := context.Background()

	a, _ := q.Submit(ctx, buildOp("a"))
	r.waitStarted(t, 1)
	x, _ := q.Submit(ctx, buildOp("bypass", WithBypass()))
	r.waitStarted(t, 2)

	excl, _ := q.Submit(ctx, New(GroupResolve, []string{"pack", "resolve"}, "/work/a", WithExclusive()))
	settle()
	if excl.State() != StatePending {
		t.Fatalf("exclusive should wait for drain, state = %v", excl.State())
	}

	// One of the two non-exclusive operations finishing is not enough.
	r.proc(0).exit(0, nil)
	waitTerminal(t, a)
	settle()
	if excl.State() != StatePending {
		t.Fatalf("exclusive started while another operation was active")
	}

	r.proc(1).exit(0, nil)
	waitTerminal(t, x)
	r.waitStarted(t, 3)
	if excl.State() != StateRunning {
		t.Fatalf("exclusive should start once the queue drains, state = %v", excl.State())
	}

	// Nothing starts beside an exclusive operation, not even a bypasser.
	plain, _ := q.Submit(ctx, buildOp("late"))
	bypass, _ := q.Submit(ctx, buildOp("late-bypass", WithBypass()))
	settle()
	if plain.State() != StatePending || bypass.State() != StatePending {
		t.Fatalf("plain=%v bypass=%v, want both pending behind exclusive", plain.State(), bypass.State())
	}

	r.proc(2).exit(0, nil)
	waitTerminal(t, excl)
	r.waitStarted(t, 5)
	if plain.State() != StateRunning || bypass.State() != StateRunning {
		t.Fatalf("plain=%v bypass=%v, want both running after exclusive drains", plain.State(), bypass.State())
	}
}

func TestBypassStartsBesideActive(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)
	ctx := context.Background()

	a, _ := q.Submit(ctx, buildOp("a"))
	r.waitStarted(t, 1)
	x, _ := q.Submit(ctx, buildOp("rebuild", WithBypass()))
	r.waitStarted(t, 2)
	if a.State() != StateRunning || x.State() != StateRunning {
		t.Fatalf("a=%v x=%v, want both running", a.State(), x.State())
	}
	if got := len(q.Active()); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}

	// The ordinary chain keeps moving while the bypasser lingers.
	b, _ := q.Submit(ctx, buildOp("b"))
	settle()
	if b.State() != StatePending {
		t.Fatalf("plain b should queue behind plain a, state = %v", b.State())
	}
	r.proc(0).exit(0, nil)
	waitTerminal(t, a)
	r.waitStarted(t, 3)
	if b.State() != StateRunning {
		t.Fatalf("b should start even though the bypasser is still active, state = %v", b.State())
	}

	r.proc(1).exit(0, nil)
	r.proc(2).exit(0, nil)
	waitTerminal(t, x)
	waitTerminal(t, b)
}

func TestCancelPendingNeverStarts(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)
	ctx := context.Background()

	a, _ := q.Submit(ctx, buildOp("a"))
	r.waitStarted(t, 1)
	b, _ := q.Submit(ctx, buildOp("b"))

	b.Cancel()
	if got := waitTerminal(t, b); got != StateCanceled {
		t.Fatalf("state = %v, want canceled", got)
	}
	if b.CancelReason() != "canceled" {
		t.Errorf("reason = %q", b.CancelReason())
	}

	r.proc(0).exit(0, nil)
	waitTerminal(t, a)
	settle()
	if n := r.startCount(); n != 1 {
		t.Errorf("canceled pending operation was started, %d starts", n)
	}
}

func TestCancelRunningTerminatesProcess(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)

	h, _ := q.Submit(context.Background(), buildOp("a"))
	r.waitStarted(t, 1)

	h.Cancel()
	if got := waitTerminal(t, h); got != StateCanceled {
		t.Fatalf("state = %v, want canceled", got)
	}
	if !r.proc(0).wasTerminated() {
		t.Error("process was not terminated")
	}
}

func TestCancelUnsignallableProcessFreesQueue(t *testing.T) {
	r := newFakeRunner()
	var reports []string
	var repMu sync.Mutex
	q := NewQueue("pkg", r, WithReport(func(format string, args ...any) {
		repMu.Lock()
		reports = append(reports, fmt.Sprintf(format, args...))
		repMu.Unlock()
	}))
	ctx := context.Background()

	r.nextTerm = errors.New("operation not permitted")
	stuck, _ := q.Submit(ctx, buildOp("stuck"))
	r.waitStarted(t, 1)
	r.mu.Lock()
	r.nextTerm = nil
	r.mu.Unlock()

	next, _ := q.Submit(ctx, buildOp("next"))
	settle()
	if next.State() != StatePending {
		t.Fatalf("precondition: next should be pending")
	}

	stuck.Cancel()
	if got := waitTerminal(t, stuck); got != StateCanceled {
		t.Fatalf("state = %v, want canceled despite failed termination", got)
	}
	r.waitStarted(t, 2)
	if next.State() != StateRunning {
		t.Fatalf("queue wedged behind unsignallable process")
	}
	repMu.Lock()
	defer repMu.Unlock()
	if len(reports) == 0 {
		t.Error("failed termination should be reported")
	}
	r.proc(1).exit(0, nil)
	waitTerminal(t, next)
}

func TestSubmitContextCancelsOperation(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)

	ctx, cancel := context.WithCancel(context.Background())
	h, _ := q.Submit(ctx, buildOp("a"))
	r.waitStarted(t, 1)

	cancel()
	if got := waitTerminal(t, h); got != StateCanceled {
		t.Fatalf("state = %v, want canceled", got)
	}
	if h.CancelReason() != "context canceled" {
		t.Errorf("reason = %q", h.CancelReason())
	}
}

func TestNonZeroExitFails(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)

	h, _ := q.Submit(context.Background(), buildOp("a"))
	r.waitStarted(t, 1)
	r.proc(0).exit(2, nil)

	if got := waitTerminal(t, h); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}
	var exitErr *ExitError
	if !errors.As(h.Err(), &exitErr) || exitErr.Code != 2 {
		t.Errorf("Err() = %v, want ExitError{2}", h.Err())
	}
	if h.ExitCode() != 2 {
		t.Errorf("ExitCode() = %d", h.ExitCode())
	}
}

func TestStartFailureFails(t *testing.T) {
	r := newFakeRunner()
	r.startErr = errors.New("executable not found")
	q := NewQueue("pkg", r)

	h, err := q.Submit(context.Background(), buildOp("a"))
	if err != nil {
		t.Fatalf("Submit should accept the operation: %v", err)
	}
	if got := waitTerminal(t, h); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}
	if h.Err() == nil || !errors.Is(h.Err(), r.startErr) {
		t.Errorf("Err() = %v, want wrapped start error", h.Err())
	}
	if h.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d, want -1", h.ExitCode())
	}
}

func TestProcessErrorFails(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)

	h, _ := q.Submit(context.Background(), buildOp("a"))
	r.waitStarted(t, 1)
	waitErr := errors.New("wait: no child processes")
	r.proc(0).exit(-1, waitErr)

	if got := waitTerminal(t, h); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}
	if !errors.Is(h.Err(), waitErr) {
		t.Errorf("Err() = %v, want wrapped %v", h.Err(), waitErr)
	}
}

func TestCloseCancelsEverything(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)
	ctx := context.Background()

	running, _ := q.Submit(ctx, buildOp("a"))
	r.waitStarted(t, 1)
	queued, _ := q.Submit(ctx, buildOp("b"))

	q.Close("folder removed")

	if got := waitTerminal(t, queued); got != StateCanceled {
		t.Errorf("pending state = %v, want canceled", got)
	}
	if queued.CancelReason() != "folder removed" {
		t.Errorf("pending reason = %q", queued.CancelReason())
	}
	if got := waitTerminal(t, running); got != StateCanceled {
		t.Errorf("active state = %v, want canceled", got)
	}
	if !r.proc(0).wasTerminated() {
		t.Error("active process should be terminated on close")
	}

	if _, err := q.Submit(ctx, buildOp("c")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Submit after Close = %v, want ErrQueueClosed", err)
	}

	// Idempotent.
	q.Close("again")
}

func TestRejectsEmptyArgv(t *testing.T) {
	q := NewQueue("pkg", newFakeRunner())
	if _, err := q.Submit(context.Background(), Operation{}); !errors.Is(err, ErrNoCommand) {
		t.Errorf("err = %v, want ErrNoCommand", err)
	}
}

func TestOutputCaptureAndReplay(t *testing.T) {
	r := newFakeRunner()
	q := NewQueue("pkg", r)

	h, _ := q.Submit(context.Background(), buildOp("a"))
	r.waitStarted(t, 1)

	emit := r.spec(0).OnOutput
	emit(OutputLine{Text: "compiling", Time: time.Now()})
	emit(OutputLine{Text: "warning: unused", Stderr: true, Time: time.Now()})

	var mu sync.Mutex
	var seen []string
	h.OnOutput(func(l OutputLine) {
		mu.Lock()
		seen = append(seen, l.Text)
		mu.Unlock()
	})
	emit(OutputLine{Text: "done", Time: time.Now()})

	r.proc(0).exit(0, nil)
	waitTerminal(t, h)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"compiling", "warning: unused", "done"}
	if len(seen) != len(want) {
		t.Fatalf("listener saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("listener saw %v, want %v", seen, want)
		}
	}

	lines := h.Output()
	if len(lines) != 3 || !lines[1].Stderr {
		t.Errorf("Output() = %+v", lines)
	}
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateRunning, "running"},
		{StateSucceeded, "succeeded"},
		{StateFailed, "failed"},
		{StateCanceled, "canceled"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	if StateRunning.Terminal() {
		t.Error("running should not be terminal")
	}
	if !StateCanceled.Terminal() {
		t.Error("canceled should be terminal")
	}
}

func TestOperationDefaults(t *testing.T) {
	op := New(GroupBuild, []string{"pack", "build"}, "/work")
	if op.ID == "" {
		t.Error("ID should be generated")
	}
	if op.Key == "" {
		t.Error("Key should be derived")
	}
	if op.Description != "pack build" {
		t.Errorf("Description = %q", op.Description)
	}

	same := New(GroupBuild, []string{"pack", "build"}, "/work")
	if same.Key != op.Key {
		t.Error("equal invocations should derive equal keys")
	}
	if same.ID == op.ID {
		t.Error("IDs should be unique per description")
	}

	other := New(GroupTest, []string{"pack", "build"}, "/work")
	if other.Key == op.Key {
		t.Error("group should participate in the key")
	}

	custom := New(GroupBuild, []string{"pack", "build"}, "/work",
		WithKey("k"), WithDescription("Build (api)"), WithExclusive(), WithBypass(),
		WithEnv(map[string]string{"A": "1"}))
	if custom.Key != "k" || custom.Description != "Build (api)" {
		t.Errorf("options not applied: %+v", custom)
	}
	if !custom.Exclusive || !custom.BypassQueue || custom.Env["A"] != "1" {
		t.Errorf("options not applied: %+v", custom)
	}
}

func TestParseGroup(t *testing.T) {
	tests := []struct {
		kind string
		want Group
	}{
		{"build", GroupBuild},
		{"Test", GroupTest},
		{"RESOLVE", GroupResolve},
		{"update", GroupUpdate},
		{"clean", GroupClean},
		{"shell", GroupNone},
		{"", GroupNone},
	}
	for _, tt := range tests {
		if got := ParseGroup(tt.kind); got != tt.want {
			t.Errorf("ParseGroup(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
