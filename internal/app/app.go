// Package app wires packwright's components into a running host:
// configuration, the pack toolchain, workspace folders, task
// resolution, process supervision, and the manifest watcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/packwright/internal/config"
	"github.com/dshills/packwright/internal/operation"
	"github.com/dshills/packwright/internal/process"
	"github.com/dshills/packwright/internal/task"
	"github.com/dshills/packwright/internal/toolchain"
	"github.com/dshills/packwright/internal/watcher"
	"github.com/dshills/packwright/internal/workspace"
)

const (
	defaultDebounceWindow = 100 * time.Millisecond
	defaultShutdownGrace  = 5 * time.Second
)

// Options configures App creation.
type Options struct {
	// ConfigPaths are packwright.toml files merged over the defaults,
	// later paths winning.
	ConfigPaths []string

	// Settings bypasses configuration loading entirely when non-nil.
	Settings *config.Settings

	// LogOutput is where log lines are written. Defaults to os.Stderr.
	LogOutput io.Writer

	// LogLevel overrides the configured log level when non-empty.
	LogLevel string

	// DebounceWindow is the quiet period used to coalesce file events
	// per path. Defaults to 100ms.
	DebounceWindow time.Duration
}

// App owns one workspace and everything serving it. Create it with
// New, open roots with Open, and always call Shutdown when done.
type App struct {
	settings config.Settings
	logger   *Logger
	metrics  *Metrics
	chain    *toolchain.Toolchain
	super    *process.Supervisor
	decls    *task.FileDeclarations
	catalog  *task.Catalog
	provider *task.Provider
	ws       *workspace.Workspace
	watch    *watcher.Debounced

	closed  atomic.Bool
	watchWg sync.WaitGroup

	// recMu guards recorded, the set of handles with an outcome
	// recorder attached. Submit can hand back an existing handle when
	// it coalesces duplicate work; tracking prevents double counting.
	recMu    sync.Mutex
	recorded map[*operation.Handle]struct{}
	recWg    sync.WaitGroup
}

// New builds an App from opts. The returned App is already watching
// for file events but owns no workspace roots until Open is called.
func New(opts Options) (*App, error) {
	// 1. Configuration
	var settings config.Settings
	if opts.Settings != nil {
		settings = *opts.Settings
	} else {
		var err error
		settings, err = config.Load(opts.ConfigPaths...)
		if err != nil {
			return nil, NewComponentError("config", "load", err)
		}
	}

	// 2. Logger
	level := settings.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := NewLogger(LoggerConfig{
		Level:  ParseLogLevel(level),
		Output: opts.LogOutput,
		Prefix: "packwright",
	})

	// 3. Toolchain
	chain := toolchain.New(toolchain.Config{
		Executable:   settings.Toolchain.Executable,
		ManifestName: settings.Toolchain.Manifest,
		StateFile:    settings.Toolchain.StateFile,
		CheckoutsDir: settings.Toolchain.CheckoutsDir,
		ExtraArgs:    settings.Toolchain.ExtraArgs,
	})

	// 4. Process supervision
	procLog := logger.WithComponent("process")
	super := process.NewSupervisor(process.WithExitCallback(func(p *process.Proc) {
		procLog.Debug("%s exited with code %d", p.Name, p.ExitCode())
	}))
	runner := process.NewRunner(super)

	// 5. Task declarations and resolution
	decls := task.NewFileDeclarations(settings.TasksDir,
		task.WithLogf(logger.WithComponent("tasks").Warn))
	catalog := task.NewCatalog(decls)
	provider := task.NewProvider(chain, catalog)

	// 6. Workspace
	ws := workspace.New(settings, chain, runner,
		workspace.WithLogf(logger.WithComponent("workspace").Warn))

	// 7. Manifest watcher
	ignore := append([]string{chain.CheckoutsDir()}, settings.ExcludeDirs...)
	fs, err := watcher.NewFS(watcher.WithIgnoreDirs(ignore...))
	if err != nil {
		return nil, NewComponentError("watcher", "init", err)
	}
	window := opts.DebounceWindow
	if window <= 0 {
		window = defaultDebounceWindow
	}
	watch := watcher.Debounce(fs, window)

	a := &App{
		settings: settings,
		logger:   logger,
		metrics:  NewMetrics(),
		chain:    chain,
		super:    super,
		decls:    decls,
		catalog:  catalog,
		provider: provider,
		ws:       ws,
		watch:    watch,
		recorded: make(map[*operation.Handle]struct{}),
	}

	a.watchWg.Add(1)
	go a.watchLoop()

	logger.WithComponent("app").Debug("initialized with toolchain %q", chain.Executable())
	return a, nil
}

// Open registers each root as a workspace root, loads its task
// declarations, and starts watching its tree. Declaration parse
// failures are logged, not fatal; the root still opens.
func (a *App) Open(ctx context.Context, roots ...string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	log := a.logger.WithComponent("app")
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve root %s: %w", root, err)
		}
		if err := a.decls.AddRoot(abs); err != nil {
			log.Warn("task declarations for %s: %v", abs, err)
		}
		if err := a.ws.AddWorkspaceRoot(ctx, abs); err != nil {
			return fmt.Errorf("add workspace root %s: %w", abs, err)
		}
		if err := a.watch.WatchTree(abs); err != nil {
			return NewComponentError("watcher", "watch "+abs, err)
		}
		log.Info("opened workspace root %s", abs)
	}
	return nil
}

// FinishSetup marks initial root registration as complete, releasing
// any focus request deferred during setup.
func (a *App) FinishSetup(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.ws.FinishSetup(ctx)
}

// ActiveFileChanged reports that the host's active file moved to path,
// shifting focus to the owning folder and discovering unregistered
// packages on demand.
func (a *App) ActiveFileChanged(ctx context.Context, path string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.ws.ActiveFileChanged(ctx, path)
}

// ReloadTasks re-reads the task declaration files of every open root.
func (a *App) ReloadTasks() error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.decls.Reload()
}

// RunTask resolves the task for group on folder f and submits it to
// the folder's queue. Declared tasks take precedence over generated
// invocations.
func (a *App) RunTask(ctx context.Context, f *workspace.Folder, group operation.Group) (*operation.Handle, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	op, err := a.provider.Operation(f, group)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, f, op)
}

// Rebuild submits a build for f that runs beside whatever the queue is
// already doing instead of waiting behind it.
func (a *App) Rebuild(ctx context.Context, f *workspace.Folder) (*operation.Handle, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return a.submit(ctx, f, a.provider.Rebuild(f))
}

// submit merges the configured environment into op, hands it to the
// folder queue, and attaches an outcome recorder to the handle.
func (a *App) submit(ctx context.Context, f *workspace.Folder, op operation.Operation) (*operation.Handle, error) {
	if len(a.settings.Env) > 0 {
		merged := make(map[string]string, len(a.settings.Env)+len(op.Env))
		for k, v := range a.settings.Env {
			merged[k] = v
		}
		for k, v := range op.Env {
			merged[k] = v
		}
		op.Env = merged
	}

	h, err := f.Queue().Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	a.metrics.RecordSubmitted()
	a.logger.WithComponent("queue").Debug("submitted %s for %s", op.Description, f.Label())

	a.recMu.Lock()
	if _, dup := a.recorded[h]; !dup {
		a.recorded[h] = struct{}{}
		a.recWg.Add(1)
		go a.recordOutcome(h)
	}
	a.recMu.Unlock()
	return h, nil
}

func (a *App) recordOutcome(h *operation.Handle) {
	defer a.recWg.Done()
	tm := StartTimer()
	<-h.Done()
	turnaround := tm.Elapsed()

	a.recMu.Lock()
	delete(a.recorded, h)
	a.recMu.Unlock()

	switch h.State() {
	case operation.StateSucceeded:
		a.metrics.RecordSucceeded(turnaround)
	case operation.StateCanceled:
		a.metrics.RecordCanceled(turnaround)
	default:
		a.metrics.RecordFailed(turnaround)
	}
}

// watchLoop drains the debounced watcher until it closes.
func (a *App) watchLoop() {
	defer a.watchWg.Done()
	log := a.logger.WithComponent("watch")
	for {
		select {
		case ev, ok := <-a.watch.Events():
			if !ok {
				return
			}
			a.handleFSEvent(context.Background(), ev)
		case err, ok := <-a.watch.Errors():
			if !ok {
				return
			}
			log.Warn("watch error: %v", err)
		}
	}
}

// handleFSEvent reacts to manifest activity: refreshing the owning
// folder, queueing a dependency resolution when configured to, and
// registering packages whose manifest just appeared.
func (a *App) handleFSEvent(ctx context.Context, ev watcher.Event) {
	a.metrics.RecordFSEvent()
	if filepath.Base(ev.Path) != a.chain.ManifestName() {
		return
	}
	log := a.logger.WithComponent("watch")
	dir := filepath.Dir(ev.Path)

	if ev.Op.Has(watcher.OpRemove) || ev.Op.Has(watcher.OpRename) {
		if a.ws.FindOwning(ev.Path) == nil {
			return
		}
		a.metrics.RecordManifestChange()
		if err := a.ws.NotifyManifestChanged(ctx, ev.Path); err != nil {
			log.Warn("manifest change for %s: %v", ev.Path, err)
		}
		return
	}

	if f := a.ws.FolderAt(dir); f != nil {
		a.metrics.RecordManifestChange()
		if err := a.ws.NotifyManifestChanged(ctx, ev.Path); err != nil {
			log.Warn("manifest change for %s: %v", ev.Path, err)
			return
		}
		if a.ws.Settings().ResolveOnManifestChange {
			if _, err := a.RunTask(ctx, f, operation.GroupResolve); err != nil {
				log.Warn("queue resolve for %s: %v", f.Label(), err)
			}
		}
		return
	}

	// A manifest appeared in a directory we don't track yet.
	root := a.ws.OwningWorkspaceRoot(dir)
	if root == "" {
		return
	}
	f, err := a.ws.AddFolder(ctx, dir, root)
	if err != nil {
		if !errors.Is(err, workspace.ErrNotAPackage) {
			log.Warn("register %s: %v", dir, err)
		}
		return
	}
	log.Info("registered package %s", f.Label())
}

// Shutdown stops watching, tears down the workspace in reverse
// registration order, and terminates any processes still running.
// It is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	log := a.logger.WithComponent("app")
	log.Info("shutting down")

	var firstErr error
	if err := a.watch.Close(); err != nil && firstErr == nil {
		firstErr = NewComponentError("watcher", "close", err)
	}
	a.watchWg.Wait()

	if err := a.ws.Close(ctx); err != nil && firstErr == nil {
		firstErr = NewComponentError("workspace", "close", err)
	}

	a.super.Shutdown(shutdownGrace(ctx))
	a.recWg.Wait()

	snap := a.metrics.Snapshot()
	log.Info("shutdown complete: %d operations, %.0f%% succeeded",
		snap.Finished(), snap.SuccessRate())
	return firstErr
}

// shutdownGrace derives the process termination grace period from the
// context deadline, capped at the default.
func shutdownGrace(ctx context.Context) time.Duration {
	grace := defaultShutdownGrace
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < grace {
			grace = d
		}
	}
	if grace < 0 {
		grace = 0
	}
	return grace
}

// Workspace returns the folder registry.
func (a *App) Workspace() *workspace.Workspace { return a.ws }

// Settings returns the configuration snapshot the App was built with.
func (a *App) Settings() config.Settings { return a.settings }

// Logger returns the App's logger.
func (a *App) Logger() *Logger { return a.logger }

// Metrics returns the App's metrics tracker.
func (a *App) Metrics() *Metrics { return a.metrics }

// Toolchain returns the configured pack toolchain.
func (a *App) Toolchain() *toolchain.Toolchain { return a.chain }

// Provider returns the task provider.
func (a *App) Provider() *task.Provider { return a.provider }
