package task

import (
	"fmt"
	"sync"

	"github.com/dshills/packwright/internal/operation"
)

// FolderInfo is the view of a workspace folder a lookup needs.
type FolderInfo interface {
	Root() string
	WorkspaceRoot() string
	Label() string
}

// Origin tells which precedence rule produced a Resolved task.
type Origin int

const (
	// OriginDeclaredDefault is a user task marked default for the group
	// whose working directory is the folder root.
	OriginDeclaredDefault Origin = iota
	// OriginDeclaredName is a user task shadowing a generated task name.
	OriginDeclaredName
	// OriginGenerated is a task this system generated and recorded.
	OriginGenerated
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginDeclaredDefault:
		return "declared-default"
	case OriginDeclaredName:
		return "declared-name"
	case OriginGenerated:
		return "generated"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Generated is a task this system synthesized from the toolchain,
// recorded so later lookups reuse the same invocation.
type Generated struct {
	Name      string
	Group     operation.Group
	Argv      []string
	Dir       string
	Exclusive bool
}

// Resolved is the outcome of a catalog lookup. Declared is set for the
// declared origins, Generated for OriginGenerated.
type Resolved struct {
	Origin    Origin
	Name      string
	Declared  *Declared
	Generated *Generated
}

type genKey struct {
	name string
	dir  string
}

// Catalog resolves the task to run for a folder and an operation
// group. User declarations take precedence over recorded generated
// tasks, so a customized declaration replaces the default outright.
// It is safe for concurrent use.
type Catalog struct {
	decls Declarations

	mu        sync.RWMutex
	generated map[genKey]Generated
}

// NewCatalog returns a catalog consulting decls for user declarations.
// decls may be nil when the host offers no declaration surface.
func NewCatalog(decls Declarations) *Catalog {
	return &Catalog{
		decls:     decls,
		generated: make(map[genKey]Generated),
	}
}

// Resolve returns the task for f and group, first match wins:
//
//  1. a declared task of the group, marked default, whose working
//     directory resolves to f's root
//  2. a declared task whose name equals the canonical generated name
//  3. a recorded generated task for that name and root
//
// When nothing matches, Resolve reports ErrTaskNotFound; the caller is
// expected to generate a fresh operation instead.
func (c *Catalog) Resolve(f FolderInfo, group operation.Group) (Resolved, error) {
	canonical := CanonicalName(group, f.Label())

	var decls []Declared
	if c.decls != nil {
		decls = c.decls.Tasks()
	}
	for _, d := range decls {
		if d.Group == group && d.Default && d.ResolveCwd() == f.Root() {
			return Resolved{Origin: OriginDeclaredDefault, Name: d.Name, Declared: &d}, nil
		}
	}
	for _, d := range decls {
		if d.Name == canonical {
			return Resolved{Origin: OriginDeclaredName, Name: d.Name, Declared: &d}, nil
		}
	}

	c.mu.RLock()
	g, ok := c.generated[genKey{name: canonical, dir: f.Root()}]
	c.mu.RUnlock()
	if ok {
		return Resolved{Origin: OriginGenerated, Name: g.Name, Generated: &g}, nil
	}
	return Resolved{}, fmt.Errorf("%w: %q for %s", ErrTaskNotFound, canonical, f.Root())
}

// Record stores a generated task so later lookups find it.
func (c *Catalog) Record(g Generated) {
	c.mu.Lock()
	c.generated[genKey{name: g.Name, dir: g.Dir}] = g
	c.mu.Unlock()
}

// CanonicalName is the display name of the generated task for a group
// and folder label, e.g. "Build (api)". A declared task using the same
// name shadows the generated one.
func CanonicalName(group operation.Group, label string) string {
	var verb string
	switch group {
	case operation.GroupBuild:
		verb = "Build"
	case operation.GroupTest:
		verb = "Test"
	case operation.GroupResolve:
		verb = "Resolve Dependencies"
	case operation.GroupUpdate:
		verb = "Update Dependencies"
	case operation.GroupClean:
		verb = "Clean Build"
	default:
		verb = "Run"
	}
	return verb + " (" + label + ")"
}
