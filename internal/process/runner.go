package process

import (
	"context"

	"github.com/dshills/packwright/internal/operation"
)

// Runner adapts a Supervisor to the operation.Runner interface.
type Runner struct {
	sup *Supervisor
}

var (
	_ operation.Runner  = (*Runner)(nil)
	_ operation.Process = (*Proc)(nil)
)

// NewRunner returns a Runner that starts operations on sup.
func NewRunner(sup *Supervisor) *Runner {
	return &Runner{sup: sup}
}

// Start implements operation.Runner.
func (r *Runner) Start(ctx context.Context, spec operation.Spec) (operation.Process, error) {
	var onLine func(Line)
	if spec.OnOutput != nil {
		emit := spec.OnOutput
		onLine = func(l Line) {
			emit(operation.OutputLine{Text: l.Text, Stderr: l.Stderr, Time: l.Time})
		}
	}
	proc, err := r.sup.Start(ctx, Spec{
		Name:   spec.Name,
		Argv:   spec.Argv,
		Dir:    spec.Dir,
		Env:    spec.Env,
		OnLine: onLine,
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}
