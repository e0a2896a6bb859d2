package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/weftlang/weft/compiler"
	"github.com/weftlang/weft/compiler/flow"
	"github.com/weftlang/weft/compiler/tape"
)

type demo struct {
	Description string
	Body        func(c *flow.Ctx)
}

var demos = map[string]demo{
	"sum": {
		Description: "sum of 0..99 with the adaptive unroller",
		Body:        sumDemo,
	},
	"threads": {
		Description: "sum of squares over four worker tapes",
		Body:        threadsDemo,
	},
	"sort": {
		Description: "oblivious sorting network over eight secrets",
		Body:        sortDemo,
	},
}

func main() {
	demoCmd := &cli.Command{
		Name:   "demo",
		Action: demoAct,
		Args:   cli.Args{},
	}

	listCmd := &cli.Command{
		Name:   "list",
		Action: listAct,
	}

	app := &cli.Command{
		Name:        "weft",
		Description: "weft compiles data-oblivious programs into executable tapes",
		Commands: []*cli.Command{
			demoCmd,
			listCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func demoAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		d, ok := demos[a]
		if !ok {
			return errors.New("unknown demo %v, try list", a)
		}

		p, err := compiler.Compile(ctx, a, d.Body)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		for _, t := range p.Tapes {
			fmt.Printf("%s", t.Dump(nil))
			fmt.Printf("cost %v: %v\n", t.Name, t.Aggregate())
		}
	}

	return nil
}

func listAct(c *cli.Command) error {
	names := make([]string, 0, len(demos))
	for n := range demos {
		names = append(names, n)
	}

	sort.Strings(names)

	for _, n := range names {
		fmt.Printf("%-10v %v\n", n, demos[n].Description)
	}

	return nil
}

func sumDemo(c *flow.Ctx) {
	out := c.NewMemValue(tape.Int)

	acc := c.MapSum(1, 0, flow.C(100), []tape.Kind{tape.Int}, func(c *flow.Ctx, i flow.Value) []tape.Reg {
		return []tape.Reg{c.Reg(i)}
	})

	out.Write(c, acc(c)[0])
}

func threadsDemo(c *flow.Ctx) {
	out := c.NewMemValue(tape.Int)

	acc := c.MapSum(4, 0, flow.C(1000), []tape.Kind{tape.Int}, func(c *flow.Ctx, i flow.Value) []tape.Reg {
		return []tape.Reg{c.Reg(c.Mul(i, i))}
	})

	out.Write(c, acc(c)[0])
}

func sortDemo(c *flow.Ctx) {
	a := c.NewArray(tape.Secret, 8)

	for i := int64(0); i < 8; i++ {
		a.Set(c, flow.C(i), c.Secret(7-i))
	}

	c.OddEvenMergeSort(a)

	out := c.NewMemValue(tape.Int)
	out.Write(c, c.Reg(c.Reveal(a.Get(c, flow.C(0)))))
}
