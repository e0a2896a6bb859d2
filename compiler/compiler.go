package compiler

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/weftlang/weft/compiler/flow"
	"github.com/weftlang/weft/compiler/tape"
)

type Options struct {
	// Budget bounds adaptive loop unrolling, in instructions per
	// batch.  Zero keeps the default.
	Budget int

	// ExportDir receives descriptors of exported entry points.
	ExportDir string
}

// Compile runs the body against a fresh program and finalizes every
// tape it produced.  Construct compilers abort on misuse; aborts come
// back as typed errors.
func Compile(ctx context.Context, name string, body func(c *flow.Ctx)) (*tape.Program, error) {
	return CompileOpts(ctx, name, Options{}, body)
}

func CompileOpts(ctx context.Context, name string, opts Options, body func(c *flow.Ctx)) (p *tape.Program, err error) {
	defer func() {
		if err != nil {
			p = nil
		}
	}()
	defer tape.Recover(&err)

	p = tape.NewProgram(name)

	if opts.Budget > 0 {
		p.Budget = opts.Budget
	}

	p.ExportDir = opts.ExportDir

	tlog.SpanFromContext(ctx).Printw("compile program", "name", name, "budget", p.Budget)

	body(flow.NewCtx(p))

	p.Finalize()

	tlog.SpanFromContext(ctx).Printw("compiled program", "name", name, "tapes", len(p.Tapes), "cost", p.Main().Aggregate())

	return p, nil
}

func MustCompile(name string, body func(c *flow.Ctx)) *tape.Program {
	p, err := Compile(context.Background(), name, body)
	if err != nil {
		panic(err)
	}

	return p
}
