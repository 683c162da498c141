package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Line is one line of process output.
type Line struct {
	Text   string
	Stderr bool
	Time   time.Time
}

// Proc is a managed child process. It is created by Supervisor.Start
// and is safe for concurrent use.
type Proc struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name for the process.
	Name string

	cmd *exec.Cmd

	// started is the time the process was started.
	started time.Time

	// done is closed when the process has exited and all output has
	// been delivered.
	done chan struct{}

	// state tracks the current process state.
	state atomic.Int32

	// exitCode stores the exit code after the process exits.
	exitCode atomic.Int32

	// waitErr stores any error from Wait().
	waitErr error

	// mu protects waitErr.
	mu sync.RWMutex

	// outWg tracks the output scanner goroutines. Wait() must not run
	// until they drain the pipes.
	outWg sync.WaitGroup

	// waitOnce ensures the wait loop runs once.
	waitOnce sync.Once
}

func newProc(id, name string, cmd *exec.Cmd) *Proc {
	p := &Proc{
		ID:   id,
		Name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1) // -1 indicates not exited
	return p
}

// State returns the current process state.
func (p *Proc) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code.
// Returns -1 if the process has not exited or was killed by a signal.
func (p *Proc) ExitCode() int {
	return int(p.exitCode.Load())
}

// Err returns the failure that prevented a clean exit, if any. A
// non-zero exit code is not an Err; it is reported via ExitCode.
func (p *Proc) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return nil
	}
	return p.waitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Proc) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true if the process has exited (normally or killed).
func (p *Proc) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the process ID, or -1 if not started.
func (p *Proc) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Runtime returns how long the process has been running, or the total
// runtime if it has exited.
func (p *Proc) Runtime() time.Duration {
	if p.started.IsZero() {
		return 0
	}
	return time.Since(p.started)
}

// Signal sends a signal to the process group, falling back to the
// process itself when the group is gone. Returns an error if the
// process is not running.
func (p *Proc) Signal(sig os.Signal) error {
	if !p.IsRunning() {
		return fmt.Errorf("signal %s: %w", p.Name, ErrNotRunning)
	}
	proc := p.cmd.Process
	if proc == nil {
		return fmt.Errorf("signal %s: %w", p.Name, ErrNotRunning)
	}
	if s, ok := sig.(syscall.Signal); ok {
		if err := syscall.Kill(-proc.Pid, s); err == nil {
			return nil
		}
	}
	return proc.Signal(sig)
}

// Terminate sends SIGTERM to the process group.
func (p *Proc) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Interrupt sends SIGINT to the process group.
func (p *Proc) Interrupt() error {
	return p.Signal(syscall.SIGINT)
}

// Kill sends SIGKILL to the process group.
func (p *Proc) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// start launches the command, the output scanners and the wait loop.
// Called by the Supervisor with the pipes it created.
func (p *Proc) start(stdout, stderr io.ReadCloser, onLine func(Line)) error {
	if p.State() != StateCreated {
		return ErrAlreadyStarted
	}

	if err := p.cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	p.started = time.Now()
	p.state.Store(int32(StateRunning))

	p.scan(stdout, false, onLine)
	p.scan(stderr, true, onLine)
	go p.waitLoop()

	return nil
}

// scan reads r line by line and forwards each line to onLine.
func (p *Proc) scan(r io.Reader, stderr bool, onLine func(Line)) {
	p.outWg.Add(1)
	go func() {
		defer p.outWg.Done()
		scanner := bufio.NewScanner(r)
		// Build tools emit long diagnostic lines; grow past the
		// scanner's 64K default.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(Line{Text: scanner.Text(), Stderr: stderr, Time: time.Now()})
			}
		}
	}()
}

// waitLoop waits for the process to exit and updates state.
func (p *Proc) waitLoop() {
	p.waitOnce.Do(func() {
		// The pipes must be drained before Wait closes them.
		p.outWg.Wait()
		err := p.cmd.Wait()

		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
					if status.Signaled() {
						state = StateKilled
					}
				}
			} else {
				exitCode = -1
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)
	})
}

// Sentinel errors for process lifecycle operations.
var (
	// ErrNotRunning is returned when operations require a running process.
	ErrNotRunning = errors.New("process not running")

	// ErrAlreadyStarted is returned when starting a process twice.
	ErrAlreadyStarted = errors.New("process already started")
)
