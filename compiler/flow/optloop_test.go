package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlang/weft/compiler/exec"
	"github.com/weftlang/weft/compiler/tape"
)

func sumBody(outm *MemValue) func(c *Ctx, i Value) {
	return func(c *Ctx, i Value) {
		outm.Write(c, c.Reg(c.Add(R(outm.Read(c)), i)))
	}
}

func TestOptUnrollMatchesPlain(t *testing.T) {
	for _, n := range []int64{1, 2, 7, 100} {
		for _, budget := range []int{5, 50, 1000} {
			var out int64

			p := compileBudget(t, budget, func(c *Ctx) {
				outm := c.NewMemValue(tape.Int)
				out = outm.Addr

				c.ForRangeOptN(C(n), sumBody(outm))
			})

			m := run(t, p)

			want := n * (n - 1) / 2
			assert.Equal(t, want, m.Load(tape.Int, out), "n %v budget %v", n, budget)
		}
	}
}

func TestOptUnrollRuntimeBound(t *testing.T) {
	for _, budget := range []int{30, 1000} {
		var in, out int64

		p := compileBudget(t, budget, func(c *Ctx) {
			inm := c.NewMemValue(tape.Int)
			outm := c.NewMemValue(tape.Int)

			in, out = inm.Addr, outm.Addr

			c.ForRangeOptN(R(inm.Read(c)), sumBody(outm))
		})

		for _, n := range []int64{0, 1, 13, 64} {
			m := exec.New(p)
			m.Store(tape.Int, in, n)

			require.NoError(t, m.Run())
			assert.Equal(t, n*(n-1)/2, m.Load(tape.Int, out), "n %v budget %v", n, budget)
		}
	}
}

func TestOptUnrollMergesSingleBatch(t *testing.T) {
	var out int64

	p := compile(t, func(c *Ctx) {
		outm := c.NewMemValue(tape.Int)
		out = outm.Addr

		// fits one batch under the default budget: the loop wrapper
		// folds away
		c.ForRangeOptN(C(8), sumBody(outm))
	})

	tp := p.Main()

	for _, b := range tp.Blocks {
		if b.Exit.Kind == tape.BranchNZ || b.Exit.Kind == tape.BranchEZ {
			t.Errorf("merged loop still branches: block %v", b.Index)
		}
	}

	m := run(t, p)
	assert.Equal(t, int64(28), m.Load(tape.Int, out))
}

func TestOptUnrollScaledCost(t *testing.T) {
	p := compileBudget(t, 30, func(c *Ctx) {
		s := c.Secret(2)

		c.ForRangeOptN(C(64), func(c *Ctx, i Value) {
			c.SecretMul(s, s)
		})
	})

	cost := p.Main().Aggregate()
	assert.Equal(t, 64.0, cost["triple"], "cost %v", cost)
}

func TestMapReduceSingleParallel(t *testing.T) {
	for _, par := range []int{1, 4, 7} {
		var out int64

		p := compile(t, func(c *Ctx) {
			outm := c.NewMemValue(tape.Int)
			out = outm.Addr

			acc := c.MapReduceSingle(par, C(100),
				func(c *Ctx) []tape.Reg {
					return []tape.Reg{c.Int(0)}
				},
				func(c *Ctx, item, st []tape.Reg) []tape.Reg {
					return []tape.Reg{c.Reg(c.Add(R(item[0]), R(st[0])))}
				},
				func(c *Ctx, i Value) []tape.Reg {
					return []tape.Reg{c.Reg(i)}
				})

			outm.Write(c, acc(c)[0])
		})

		m := run(t, p)
		assert.Equal(t, int64(4950), m.Load(tape.Int, out), "parallel %v", par)
	}
}

func TestMapReduceOptState(t *testing.T) {
	var out int64

	p := compileBudget(t, 40, func(c *Ctx) {
		outm := c.NewMemValue(tape.Int)
		out = outm.Addr

		acc := c.MapReduceOpt(C(37),
			func(c *Ctx) []tape.Reg {
				return []tape.Reg{c.Int(0)}
			},
			func(c *Ctx, item, st []tape.Reg) []tape.Reg {
				return []tape.Reg{c.Reg(c.Add(R(item[0]), R(st[0])))}
			},
			func(c *Ctx, i Value) []tape.Reg {
				// i squared keeps the batch from folding to a constant
				return []tape.Reg{c.Reg(c.Mul(i, i))}
			})

		outm.Write(c, acc(c)[0])
	})

	m := run(t, p)

	var want int64
	for i := int64(0); i < 37; i++ {
		want += i * i
	}

	assert.Equal(t, want, m.Load(tape.Int, out))
}

func TestForRangeOptSteps(t *testing.T) {
	var out int64

	p := compileBudget(t, 50, func(c *Ctx) {
		outm := c.NewMemValue(tape.Int)
		out = outm.Addr

		c.ForRangeOpt(C(3), C(40), C(7), sumBody(outm))
	})

	m := run(t, p)

	var want int64
	for i := int64(3); i < 40; i += 7 {
		want += i
	}

	assert.Equal(t, want, m.Load(tape.Int, out))
}
