package operation

import (
	"strings"

	"github.com/google/uuid"
)

// Group categorizes an operation by the kind of work it performs.
// Resolution and update operations mutate shared package state and are
// typically marked Exclusive by their builders.
type Group string

// Standard operation groups.
const (
	GroupBuild   Group = "build"
	GroupTest    Group = "test"
	GroupResolve Group = "resolve"
	GroupUpdate  Group = "update"
	GroupClean   Group = "clean"
	GroupNone    Group = ""
)

// ParseGroup maps a task declaration's group kind to a Group. Unknown
// kinds map to GroupNone.
func ParseGroup(kind string) Group {
	switch strings.ToLower(kind) {
	case "build":
		return GroupBuild
	case "test":
		return GroupTest
	case "resolve":
		return GroupResolve
	case "update":
		return GroupUpdate
	case "clean":
		return GroupClean
	default:
		return GroupNone
	}
}

// Operation is an immutable description of one external tool
// invocation. Construct it with New; the zero value is not valid.
//
// Two operations with equal Keys are considered the same work: a queue
// holding one will hand back its existing handle instead of enqueueing
// the other.
type Operation struct {
	// ID uniquely identifies this description.
	ID string
	// Key is the deduplication identity, derived from group, directory
	// and argv unless overridden with WithKey.
	Key string
	// Description is a short human-readable label, e.g. "Build (api)".
	Description string

	Argv []string
	Dir  string
	Env  map[string]string

	Group Group

	// Exclusive operations run strictly alone on their queue. Nothing
	// starts beside them, and they do not start beside anything.
	Exclusive bool
	// BypassQueue operations skip the at-most-one rule: they may start
	// while an ordinary operation is active. They still yield to an
	// Exclusive one.
	BypassQueue bool
}

// Option configures an Operation at construction time.
type Option func(*Operation)

// WithDescription sets the human-readable label.
func WithDescription(desc string) Option {
	return func(o *Operation) { o.Description = desc }
}

// WithEnv sets extra environment variables for the invocation.
func WithEnv(env map[string]string) Option {
	return func(o *Operation) { o.Env = env }
}

// WithKey overrides the deduplication identity.
func WithKey(key string) Option {
	return func(o *Operation) { o.Key = key }
}

// WithExclusive marks the operation as running strictly alone.
func WithExclusive() Option {
	return func(o *Operation) { o.Exclusive = true }
}

// WithBypass marks the operation as exempt from the at-most-one rule.
func WithBypass() Option {
	return func(o *Operation) { o.BypassQueue = true }
}

// New builds an Operation for argv executed in dir. The default Key
// covers group, dir and argv; the default Description is the joined
// argv.
func New(group Group, argv []string, dir string, opts ...Option) Operation {
	op := Operation{
		ID:    uuid.New().String(),
		Group: group,
		Argv:  append([]string(nil), argv...),
		Dir:   dir,
	}
	for _, opt := range opts {
		opt(&op)
	}
	if op.Key == "" {
		op.Key = deriveKey(group, dir, argv)
	}
	if op.Description == "" {
		op.Description = strings.Join(argv, " ")
	}
	return op
}

func deriveKey(group Group, dir string, argv []string) string {
	parts := make([]string, 0, len(argv)+2)
	parts = append(parts, string(group), dir)
	parts = append(parts, argv...)
	return strings.Join(parts, "\x1f")
}
