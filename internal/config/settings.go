package config

import "path/filepath"

// Toolchain describes how to locate and invoke the pack build tool.
type Toolchain struct {
	// Executable is the pack binary name or absolute path.
	Executable string `toml:"executable"`
	// Manifest is the file name that marks a directory as a package root.
	Manifest string `toml:"manifest"`
	// StateFile is the build database path relative to a package root.
	// A directory containing it is treated as a package root even when
	// the manifest is absent.
	StateFile string `toml:"state_file"`
	// CheckoutsDir is the dependency checkout directory name. Discovery
	// never descends into it.
	CheckoutsDir string `toml:"checkouts_dir"`
	// ExtraArgs are appended to every generated invocation, before the
	// package path arguments.
	ExtraArgs []string `toml:"extra_args"`
}

// Settings is an immutable snapshot of packwright configuration.
// Callers copy it by value; maps and slices must not be mutated after
// the snapshot is handed out.
type Settings struct {
	// SearchSubfolders enables recursive package discovery below each
	// workspace root.
	SearchSubfolders bool `toml:"search_subfolders"`
	// FocusSoleFolder focuses the only discovered folder once setup
	// finishes and no other focus has been established.
	FocusSoleFolder bool `toml:"focus_sole_folder"`
	// ResolveOnManifestChange queues a dependency resolution when a
	// package manifest is edited.
	ResolveOnManifestChange bool `toml:"resolve_on_manifest_change"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
	// TasksDir is the per-root directory holding task declaration files
	// (tasks.json, tasks.yaml).
	TasksDir string `toml:"tasks_dir"`
	// ExcludeDirs are directory names skipped during discovery, in
	// addition to hidden directories and the toolchain checkout dir.
	ExcludeDirs []string `toml:"exclude_dirs"`
	// Env is merged into the environment of every operation.
	Env map[string]string `toml:"env"`

	Toolchain Toolchain `toml:"toolchain"`
}

// Default returns the settings used when no configuration file exists.
func Default() Settings {
	return Settings{
		SearchSubfolders:        true,
		FocusSoleFolder:         true,
		ResolveOnManifestChange: true,
		LogLevel:                "info",
		TasksDir:                ".packwright",
		Toolchain: Toolchain{
			Executable:   "pack",
			Manifest:     "pack.toml",
			StateFile:    filepath.Join(".pack", "state.json"),
			CheckoutsDir: "pack_modules",
		},
	}
}
