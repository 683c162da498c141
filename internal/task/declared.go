package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/dshills/packwright/internal/operation"
)

// Declaration file names read from each root's tasks directory.
const (
	TasksJSONName = "tasks.json"
	TasksYAMLName = "tasks.yaml"
)

// Declared is one externally declared task. Declared tasks shadow
// generated ones during catalog lookup.
type Declared struct {
	// Name is the task's display name.
	Name string
	// Group assigns the task to an operation group. GroupNone tasks
	// never match a group lookup but still shadow by name.
	Group operation.Group
	// Default marks the task as its group's default for its directory.
	Default bool

	Command string
	Args    []string
	// Cwd is the declared working directory. It may reference
	// ${workspaceRoot} and may be relative; ResolveCwd normalizes it.
	Cwd string
	Env map[string]string

	// SourceFile is the declaration file the task came from.
	SourceFile string
	// WorkspaceRoot is the root owning the declaration file.
	WorkspaceRoot string
}

// ResolveCwd returns the task's working directory as an absolute
// cleaned path. An unset cwd defaults to the workspace root,
// ${workspaceRoot} expands to it, and relative paths are joined to it.
func (d Declared) ResolveCwd() string {
	cwd := d.Cwd
	if cwd == "" {
		return filepath.Clean(d.WorkspaceRoot)
	}
	cwd = strings.ReplaceAll(cwd, "${workspaceRoot}", d.WorkspaceRoot)
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(d.WorkspaceRoot, cwd)
	}
	return filepath.Clean(cwd)
}

// Declarations enumerates externally declared tasks.
type Declarations interface {
	Tasks() []Declared
}

// FileDeclarations loads task declarations from the tasks directory of
// each added root: tasks.json (JSON with comments and trailing commas)
// and tasks.yaml. It is safe for concurrent use.
type FileDeclarations struct {
	dir  string
	logf func(format string, args ...any)

	mu    sync.RWMutex
	roots []string
	tasks map[string][]Declared
}

// FileOption configures a FileDeclarations.
type FileOption func(*FileDeclarations)

// WithLogf routes loader diagnostics, such as skipped malformed
// declarations, to fn.
func WithLogf(fn func(format string, args ...any)) FileOption {
	return func(l *FileDeclarations) { l.logf = fn }
}

// NewFileDeclarations returns a loader reading declaration files from
// the dir subdirectory of each added root, e.g. ".packwright".
func NewFileDeclarations(dir string, opts ...FileOption) *FileDeclarations {
	l := &FileDeclarations{
		dir:   dir,
		logf:  func(string, ...any) {},
		tasks: make(map[string][]Declared),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddRoot loads the declaration files under root and keeps their tasks
// until RemoveRoot. A root without declaration files contributes
// nothing; that is not an error.
func (l *FileDeclarations) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	tasks, err := l.loadRoot(abs)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tasks[abs]; !ok {
		l.roots = append(l.roots, abs)
	}
	l.tasks[abs] = tasks
	return nil
}

// RemoveRoot drops the tasks declared under root.
func (l *FileDeclarations) RemoveRoot(root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tasks, abs)
	for i, r := range l.roots {
		if r == abs {
			l.roots = append(l.roots[:i], l.roots[i+1:]...)
			break
		}
	}
}

// Reload re-reads the declaration files of every known root. Roots
// that fail to load keep their previous tasks; the first failure is
// returned after all roots have been attempted.
func (l *FileDeclarations) Reload() error {
	l.mu.RLock()
	roots := make([]string, len(l.roots))
	copy(roots, l.roots)
	l.mu.RUnlock()

	var firstErr error
	for _, root := range roots {
		tasks, err := l.loadRoot(root)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		l.mu.Lock()
		if _, ok := l.tasks[root]; ok {
			l.tasks[root] = tasks
		}
		l.mu.Unlock()
	}
	return firstErr
}

// Tasks returns every declared task, in root-addition order and file
// order within a root.
func (l *FileDeclarations) Tasks() []Declared {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Declared
	for _, root := range l.roots {
		out = append(out, l.tasks[root]...)
	}
	return out
}

func (l *FileDeclarations) loadRoot(root string) ([]Declared, error) {
	var tasks []Declared

	jsonPath := filepath.Join(root, l.dir, TasksJSONName)
	if raw, err := os.ReadFile(jsonPath); err == nil {
		ts, perr := parseJSONTasks(raw, jsonPath, root)
		if perr != nil {
			return nil, perr
		}
		tasks = append(tasks, ts...)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", jsonPath, err)
	}

	yamlPath := filepath.Join(root, l.dir, TasksYAMLName)
	if raw, err := os.ReadFile(yamlPath); err == nil {
		ts, perr := parseYAMLTasks(raw, yamlPath, root)
		if perr != nil {
			return nil, perr
		}
		tasks = append(tasks, ts...)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", yamlPath, err)
	}

	keep := tasks[:0]
	for _, t := range tasks {
		if t.Command == "" {
			l.logf("task %q in %s has no command, skipped", t.Name, t.SourceFile)
			continue
		}
		keep = append(keep, t)
	}
	return keep, nil
}

// groupField accepts either a bare group kind string or an object with
// kind and default flags, so short declarations stay short.
type groupField struct {
	Kind    string `json:"kind" yaml:"kind"`
	Default bool   `json:"isDefault" yaml:"default"`
}

func (g *groupField) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &g.Kind)
	}
	type plain groupField
	return json.Unmarshal(data, (*plain)(g))
}

func (g *groupField) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&g.Kind)
	}
	type plain groupField
	return value.Decode((*plain)(g))
}

type tasksJSONFile struct {
	Version string     `json:"version"`
	Tasks   []jsonTask `json:"tasks"`
}

type jsonTask struct {
	Label   string          `json:"label"`
	Command string          `json:"command"`
	Args    []string        `json:"args"`
	Group   groupField      `json:"group"`
	Options jsonTaskOptions `json:"options"`
}

type jsonTaskOptions struct {
	Cwd string            `json:"cwd"`
	Env map[string]string `json:"env"`
}

func parseJSONTasks(raw []byte, path, root string) ([]Declared, error) {
	var file tasksJSONFile
	if err := json.Unmarshal(jsonc.ToJSON(raw), &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]Declared, 0, len(file.Tasks))
	for _, t := range file.Tasks {
		out = append(out, Declared{
			Name:          t.Label,
			Group:         operation.ParseGroup(t.Group.Kind),
			Default:       t.Group.Default,
			Command:       t.Command,
			Args:          t.Args,
			Cwd:           t.Options.Cwd,
			Env:           t.Options.Env,
			SourceFile:    path,
			WorkspaceRoot: root,
		})
	}
	return out, nil
}

type tasksYAMLFile struct {
	Version string     `yaml:"version"`
	Tasks   []yamlTask `yaml:"tasks"`
}

type yamlTask struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Group   groupField        `yaml:"group"`
	Cwd     string            `yaml:"cwd"`
	Env     map[string]string `yaml:"env"`
}

func parseYAMLTasks(raw []byte, path, root string) ([]Declared, error) {
	var file tasksYAMLFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]Declared, 0, len(file.Tasks))
	for _, t := range file.Tasks {
		out = append(out, Declared{
			Name:          t.Name,
			Group:         operation.ParseGroup(t.Group.Kind),
			Default:       t.Group.Default,
			Command:       t.Command,
			Args:          t.Args,
			Cwd:           t.Cwd,
			Env:           t.Env,
			SourceFile:    path,
			WorkspaceRoot: root,
		})
	}
	return out, nil
}
