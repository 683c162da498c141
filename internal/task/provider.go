package task

import (
	"errors"
	"fmt"

	"github.com/dshills/packwright/internal/operation"
	"github.com/dshills/packwright/internal/toolchain"
)

// Provider turns catalog lookups into runnable operations, generating
// and recording a fresh task when nothing is declared.
type Provider struct {
	chain   *toolchain.Toolchain
	catalog *Catalog
}

// NewProvider returns a provider backed by chain and catalog.
func NewProvider(chain *toolchain.Toolchain, catalog *Catalog) *Provider {
	return &Provider{chain: chain, catalog: catalog}
}

// Operation returns the operation to run for f and group: the resolved
// catalog task when one exists, otherwise a generated toolchain
// invocation, recorded for reuse.
func (p *Provider) Operation(f FolderInfo, group operation.Group) (operation.Operation, error) {
	res, err := p.catalog.Resolve(f, group)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return p.generate(f, group)
		}
		return operation.Operation{}, err
	}
	switch res.Origin {
	case OriginGenerated:
		return fromGenerated(*res.Generated), nil
	default:
		return p.FromDeclared(*res.Declared), nil
	}
}

// FromDeclared builds the operation for a user-declared task.
func (p *Provider) FromDeclared(d Declared) operation.Operation {
	argv := append([]string{d.Command}, d.Args...)
	opts := []operation.Option{operation.WithDescription(d.Name)}
	if len(d.Env) > 0 {
		opts = append(opts, operation.WithEnv(d.Env))
	}
	if exclusiveGroup(d.Group) {
		opts = append(opts, operation.WithExclusive())
	}
	return operation.New(d.Group, argv, d.ResolveCwd(), opts...)
}

// Rebuild returns a build operation that runs beside whatever the
// folder queue is doing. Hosts use it for an explicit rebuild action
// that must not wait behind queued work.
func (p *Provider) Rebuild(f FolderInfo) operation.Operation {
	return operation.New(operation.GroupBuild, p.chain.BuildArgs(f.Root()), f.Root(),
		operation.WithDescription(CanonicalName(operation.GroupBuild, f.Label())),
		operation.WithBypass(),
	)
}

func (p *Provider) generate(f FolderInfo, group operation.Group) (operation.Operation, error) {
	argv, err := p.argvFor(f.Root(), group)
	if err != nil {
		return operation.Operation{}, err
	}
	g := Generated{
		Name:      CanonicalName(group, f.Label()),
		Group:     group,
		Argv:      argv,
		Dir:       f.Root(),
		Exclusive: exclusiveGroup(group),
	}
	p.catalog.Record(g)
	return fromGenerated(g), nil
}

func (p *Provider) argvFor(dir string, group operation.Group) ([]string, error) {
	switch group {
	case operation.GroupBuild:
		return p.chain.BuildArgs(dir), nil
	case operation.GroupTest:
		return p.chain.TestArgs(dir), nil
	case operation.GroupResolve:
		return p.chain.ResolveArgs(dir), nil
	case operation.GroupUpdate:
		return p.chain.UpdateArgs(dir), nil
	case operation.GroupClean:
		return p.chain.CleanArgs(dir), nil
	default:
		return nil, fmt.Errorf("no generated task for group %q", group)
	}
}

func fromGenerated(g Generated) operation.Operation {
	opts := []operation.Option{operation.WithDescription(g.Name)}
	if g.Exclusive {
		opts = append(opts, operation.WithExclusive())
	}
	return operation.New(g.Group, g.Argv, g.Dir, opts...)
}

// exclusiveGroup reports whether operations of the group mutate shared
// package state and must run alone in their folder queue.
func exclusiveGroup(g operation.Group) bool {
	return g == operation.GroupResolve || g == operation.GroupUpdate
}
