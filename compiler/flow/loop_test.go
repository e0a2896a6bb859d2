package flow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlang/weft/compiler/exec"
	"github.com/weftlang/weft/compiler/tape"
)

func TestForRangeFillsArray(t *testing.T) {
	var base int64

	p := compile(t, func(c *Ctx) {
		a := c.NewArray(tape.Int, 10)
		base, _ = a.Base.Static()

		c.ForRange(C(10), func(c *Ctx, i Value) {
			a.Set(c, i, c.Reg(i))
		})
	})

	m := run(t, p)

	for i := int64(0); i < 10; i++ {
		assert.Equal(t, i, m.Load(tape.Int, base+i), "index %v", i)
	}
}

func TestForRangeScaledCost(t *testing.T) {
	p := compile(t, func(c *Ctx) {
		s := c.Secret(2)

		c.ForRange(C(10), func(c *Ctx, i Value) {
			c.SecretMul(s, s)
		})
	})

	cost := p.Main().Aggregate()
	assert.Equal(t, 10.0, cost["triple"], "cost %v", cost)
}

func TestDoWhileRuntimeCostUnknown(t *testing.T) {
	var in int64

	p := compile(t, func(c *Ctx) {
		inm := c.NewMemValue(tape.Int)
		in = inm.Addr

		s := c.Secret(2)

		c.DoWhile(func(c *Ctx) Value {
			c.SecretMul(s, s)

			v := c.Sub(R(inm.Read(c)), C(1))
			inm.Write(c, c.Reg(v))

			return v
		})
	})

	cost := p.Main().Aggregate()
	if !math.IsInf(cost["triple"], 1) {
		t.Errorf("runtime loop cost should be unbounded: %v", cost)
	}

	m := exec.New(p)
	m.Store(tape.Int, in, 4)

	require.NoError(t, m.Run())
	assert.Equal(t, int64(0), m.Load(tape.Int, in))
}

func TestDoWhileBreakShape(t *testing.T) {
	var out int64

	p := compile(t, func(c *Ctx) {
		outm := c.NewMemValue(tape.Int)
		out = outm.Addr

		outm.Write(c, c.Int(0))

		c.DoWhile(func(c *Ctx) Value {
			v := c.Add(R(outm.Read(c)), C(1))
			outm.Write(c, c.Reg(v))

			c.If(c.Eq(v, C(5)), func(c *Ctx) {
				c.Break()
			})

			return c.Lt(v, C(100))
		})
	})

	tp := p.Main()

	// one back edge and at least one break jump past it
	var back *tape.BasicBlock
	for _, b := range tp.Blocks {
		if b.Exit.Kind == tape.BranchNZ && b.Exit.To <= b.Index {
			back = b
		}
	}

	require.NotNil(t, back, "no back edge")

	breaks := 0
	for _, b := range tp.Blocks {
		if b.Exit.Kind == tape.Jump && b.Exit.To > back.Index {
			breaks++
		}
	}

	if breaks == 0 {
		t.Errorf("break was not wired past the loop")
	}

	m := run(t, p)
	assert.Equal(t, int64(5), m.Load(tape.Int, out))
}

func TestDoWhileUnconditionalBreak(t *testing.T) {
	var out int64

	p := compile(t, func(c *Ctx) {
		outm := c.NewMemValue(tape.Int)
		out = outm.Addr

		outm.Write(c, c.Int(0))

		c.DoWhile(func(c *Ctx) Value {
			outm.Write(c, c.Reg(c.Add(R(outm.Read(c)), C(1))))

			c.Break()

			return C(1)
		})
	})

	tp := p.Main()

	var back *tape.BasicBlock
	for _, b := range tp.Blocks {
		if b.Exit.Kind == tape.BranchNZ && b.Exit.To <= b.Index {
			back = b
		}
	}

	require.NotNil(t, back, "no back edge")

	var brk *tape.BasicBlock
	for _, b := range tp.Blocks {
		if b.Exit.Kind == tape.Jump && b.Exit.To > back.Index {
			brk = b
		}
	}

	require.NotNil(t, brk, "break was not wired past the loop")

	// the break jump leaves nothing falling into the back-edge block
	reach := map[int]bool{0: true}
	q := []int{0}

	for len(q) != 0 {
		b := tp.Blocks[q[0]]
		q = q[1:]

		var next []int

		switch b.Exit.Kind {
		case tape.None:
			next = []int{b.Index + 1}
		case tape.Jump:
			next = []int{b.Exit.To}
		case tape.BranchNZ, tape.BranchEZ:
			next = []int{b.Exit.To, b.Index + 1}
		}

		for _, n := range next {
			if n < len(tp.Blocks) && !reach[n] {
				reach[n] = true
				q = append(q, n)
			}
		}
	}

	assert.False(t, reach[back.Index], "back edge block is reachable")

	m := run(t, p)
	assert.Equal(t, int64(1), m.Load(tape.Int, out))
}

func TestBreakOutsideLoop(t *testing.T) {
	_, err := tryCompile(0, func(c *Ctx) {
		c.Break()
	})

	if _, ok := err.(*tape.StructuralError); !ok {
		t.Errorf("want structural error, got %v", err)
	}
}

func TestWhileDoStaticFalse(t *testing.T) {
	p := compile(t, func(c *Ctx) {
		out := c.NewMemValue(tape.Int)
		out.Write(c, c.Int(7))

		c.WhileDo(func(c *Ctx) Value { return C(0) }, func(c *Ctx) {
			out.Write(c, c.Int(1))
		})
	})

	if len(p.Main().Blocks) != 1 {
		t.Errorf("statically dead loop was compiled: %v blocks", len(p.Main().Blocks))
	}

	m := run(t, p)
	assert.Equal(t, int64(7), m.Load(tape.Int, 0))
}

func TestWhileDoRuntime(t *testing.T) {
	var in, out int64

	p := compile(t, func(c *Ctx) {
		inm := c.NewMemValue(tape.Int)
		outm := c.NewMemValue(tape.Int)

		in, out = inm.Addr, outm.Addr

		c.WhileDo(func(c *Ctx) Value {
			return c.Gt(R(inm.Read(c)), C(0))
		}, func(c *Ctx) {
			outm.Write(c, c.Reg(c.Add(R(outm.Read(c)), R(inm.Read(c)))))
			inm.Write(c, c.Reg(c.Sub(R(inm.Read(c)), C(1))))
		})
	})

	for n, want := range map[int64]int64{0: 0, 1: 1, 5: 15} {
		m := exec.New(p)
		m.Store(tape.Int, in, n)

		require.NoError(t, m.Run())
		assert.Equal(t, want, m.Load(tape.Int, out), "n %v", n)
	}
}

func TestForRangeStepDown(t *testing.T) {
	var out int64

	p := compile(t, func(c *Ctx) {
		outm := c.NewMemValue(tape.Int)
		out = outm.Addr

		c.ForRangeStep(C(10), C(0), C(-2), func(c *Ctx, i Value) {
			outm.Write(c, c.Reg(c.Add(R(outm.Read(c)), i)))
		})
	})

	m := run(t, p)

	// 10+8+6+4+2
	assert.Equal(t, int64(30), m.Load(tape.Int, out))
}

func TestForRangeRuntimeBounds(t *testing.T) {
	var in, out int64

	p := compile(t, func(c *Ctx) {
		inm := c.NewMemValue(tape.Int)
		outm := c.NewMemValue(tape.Int)

		in, out = inm.Addr, outm.Addr

		c.ForRange(R(inm.Read(c)), func(c *Ctx, i Value) {
			outm.Write(c, c.Reg(c.Add(R(outm.Read(c)), i)))
		})
	})

	for n, want := range map[int64]int64{0: 0, 1: 0, 7: 21} {
		m := exec.New(p)
		m.Store(tape.Int, in, n)

		require.NoError(t, m.Run())
		assert.Equal(t, want, m.Load(tape.Int, out), "n %v", n)
	}
}

func TestZeroStep(t *testing.T) {
	_, err := tryCompile(0, func(c *Ctx) {
		c.ForRangeStep(C(0), C(10), C(0), func(c *Ctx, i Value) {})
	})

	if _, ok := err.(*tape.UnsupportedError); !ok {
		t.Errorf("want unsupported error, got %v", err)
	}
}
