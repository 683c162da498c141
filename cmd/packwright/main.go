// Package main is the entry point for the packwright workspace host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/packwright/internal/app"
	"github.com/dshills/packwright/internal/operation"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	a, err := app.New(app.Options{
		ConfigPaths: flags.configPaths,
		LogLevel:    flags.logLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx := context.Background()
	if err := a.Open(ctx, flags.roots...); err != nil {
		fmt.Fprintf(os.Stderr, "Error: open workspace: %v\n", err)
		return 1
	}
	if err := a.FinishSetup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: finish setup: %v\n", err)
		return 1
	}

	ws := a.Workspace()
	a.Logger().Info("tracking %d package(s) in %d root(s)", ws.FolderCount(), len(flags.roots))

	if flags.task != "" {
		return runOnce(ctx, a, flags.task, sigCh)
	}

	// Watch mode: keep reacting to manifest changes until interrupted.
	<-sigCh
	return 0
}

// runOnce submits one task group on the focused (or first) folder,
// streams its output, and exits with the task's status.
func runOnce(ctx context.Context, a *app.App, taskGroup string, sigCh <-chan os.Signal) int {
	group := operation.ParseGroup(taskGroup)
	if group == operation.GroupNone {
		fmt.Fprintf(os.Stderr, "Error: unknown task group %q (want build, test, resolve, update or clean)\n", taskGroup)
		return 1
	}

	ws := a.Workspace()
	folder := ws.FocusedFolder()
	if folder == nil {
		folders := ws.Folders()
		if len(folders) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no packages found in workspace")
			return 1
		}
		folder = folders[0]
	}

	h, err := a.RunTask(ctx, folder, group)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "%s [%s]\n", h.Operation().Description, folder.Root())

	h.OnOutput(func(line operation.OutputLine) {
		if line.Stderr {
			fmt.Fprintln(os.Stderr, line.Text)
		} else {
			fmt.Fprintln(os.Stdout, line.Text)
		}
	})

	select {
	case <-h.Done():
	case <-sigCh:
		h.Cancel()
		<-h.Done()
	}

	switch h.State() {
	case operation.StateSucceeded:
		return 0
	case operation.StateCanceled:
		fmt.Fprintf(os.Stderr, "canceled: %s\n", h.CancelReason())
		return 1
	default:
		if err := h.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if code := h.ExitCode(); code > 0 {
			return code
		}
		return 1
	}
}

// cliFlags holds parsed command-line flags.
type cliFlags struct {
	configPaths []string
	logLevel    string
	task        string
	roots       []string
}

func parseFlags() *cliFlags {
	f := &cliFlags{}

	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&configPath, "c", "", "path to configuration file (shorthand)")
	flag.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.StringVar(&f.logLevel, "l", "", "log level (shorthand)")
	flag.StringVar(&f.task, "run", "", "run one task group and exit: build, test, resolve, update, clean")
	flag.StringVar(&f.task, "r", "", "run one task group and exit (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&showVersion, "v", false, "print version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "packwright - workspace host for the pack toolchain\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  packwright [flags] [roots...]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  packwright                     # watch the current directory\n")
		fmt.Fprintf(os.Stderr, "  packwright ~/src/monorepo      # watch a workspace root\n")
		fmt.Fprintf(os.Stderr, "  packwright -r build            # build the main package and exit\n")
		fmt.Fprintf(os.Stderr, "  packwright -c pw.toml -l debug # custom config, verbose logs\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("packwright %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if f.logLevel != "" {
		switch f.logLevel {
		case "debug", "info", "warn", "error":
		default:
			fmt.Fprintf(os.Stderr, "Error: invalid log level %q\n", f.logLevel)
			os.Exit(2)
		}
	}

	if configPath != "" {
		f.configPaths = []string{configPath}
	} else {
		f.configPaths = []string{"packwright.toml"}
	}

	f.roots = flag.Args()
	if len(f.roots) == 0 {
		f.roots = []string{"."}
	}
	return f
}
