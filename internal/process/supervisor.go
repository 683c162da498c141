package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Spec describes one child process to start.
type Spec struct {
	// Name is a human-readable label, used in errors and diagnostics.
	Name string
	// Argv is the command line; Argv[0] is the executable.
	Argv []string
	// Dir is the working directory. Empty means the caller's.
	Dir string
	// Env is merged over the parent environment.
	Env map[string]string
	// OnLine receives each output line as it is read. May be nil.
	OnLine func(Line)
}

// Supervisor starts and tracks child processes.
//
// Every process runs in its own process group, its output is scanned
// into the Spec's line callback, and it stays tracked until exit.
// Shutdown terminates survivors gracefully and kills stragglers.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Proc

	// closed indicates the supervisor has been shut down.
	closed atomic.Bool

	// onExit is called after a process exits and is untracked.
	onExit func(p *Proc)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithExitCallback sets a callback invoked after each process exits.
func WithExitCallback(fn func(p *Proc)) SupervisorOption {
	return func(s *Supervisor) { s.onExit = fn }
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Proc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the process described by spec and tracks it until
// exit. Returns ErrSupervisorShutdown after Shutdown.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Proc, error) {
	if len(spec.Argv) == 0 {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	// A fresh process group lets signals reach the whole child tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	proc := newProc(uuid.New().String(), spec.Name, cmd)
	if err := proc.start(stdout, stderr, spec.OnLine); err != nil {
		return nil, err
	}

	s.processes[proc.ID] = proc
	go s.reap(proc)

	return proc, nil
}

// reap waits for exit, untracks the process and runs the callback.
func (s *Supervisor) reap(proc *Proc) {
	<-proc.Done()

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()

	if s.onExit != nil {
		s.onExit(proc)
	}
}

// Get returns a tracked process by ID, or nil.
func (s *Supervisor) Get(id string) *Proc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Proc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Proc, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// TerminateAll sends SIGTERM to every tracked process.
func (s *Supervisor) TerminateAll() {
	for _, p := range s.List() {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}
}

// KillAll sends SIGKILL to every tracked process.
func (s *Supervisor) KillAll() {
	for _, p := range s.List() {
		if p.IsRunning() {
			_ = p.Kill()
		}
	}
}

// Shutdown gracefully stops all processes and rejects further starts.
//
// It sends SIGTERM to every tracked process, waits up to timeout for
// them to exit, then SIGKILLs the stragglers and waits for those too.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
	}

	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Kill()
		}
	}
	<-done
}

// mergeEnv overlays extra onto the base environment, later keys
// winning, and returns a deterministic sorted slice.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(extra))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// Sentinel errors for supervisor operations.
var (
	// ErrSupervisorShutdown is returned by Start after Shutdown.
	ErrSupervisorShutdown = errors.New("supervisor is shut down")

	// ErrEmptyCommand is returned when a Spec has no argv.
	ErrEmptyCommand = errors.New("empty command")
)
