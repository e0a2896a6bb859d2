package flow

import (
	"tlog.app/go/tlog"

	"github.com/weftlang/weft/compiler/tape"
)

// ThreadBody compiles one thread's share of the iteration domain:
// indices base..base+size-1.
type ThreadBody func(c *Ctx, base, size Value)

// Multithread distributes nItems across up to nThreads spawned tapes,
// leaving the in-thread repetition to the body.
func (c *Ctx) Multithread(nThreads int, nItems Value, body ThreadBody) {
	c.mapReduce(nThreads, 0, nItems, nil, nil, false, 0, nil, body)
}

// MultithreadSplit additionally caps the size handed to the body at
// maxSize, looping inside each thread over full chunks and a tail.
func (c *Ctx) MultithreadSplit(nThreads int, nItems Value, maxSize int64, body ThreadBody) {
	if n, ok := nItems.Static(); ok && n <= maxSize {
		c.Multithread(nThreads, nItems, body)
		return
	}

	if maxSize < 1 {
		maxSize = 1
	}

	c.Multithread(nThreads, nItems, func(c *Ctx, base, size Value) {
		c.ForRange(c.Div(size, C(maxSize)), func(c *Ctx, i Value) {
			body(c, c.Add(base, c.Mul(i, C(maxSize))), C(maxSize))
		})

		rem := c.Mod(size, C(maxSize))

		c.If(c.Gt(rem, C(0)), func(c *Ctx) {
			body(c, c.Sub(c.Add(base, size), rem), rem)
		})
	})
}

// MapReduce runs nLoops loop bodies across nThreads tapes, nParallel
// unrolled copies per round inside each (0 selects the budgeted
// unroller), then reduces per-thread state in ascending thread order.
func (c *Ctx) MapReduce(nThreads, nParallel int, nLoops Value, init Initializer, red Reducer, body LoopBody) Accessor {
	return c.mapReduce(nThreads, nParallel, nLoops, init, red, true, 0, body, nil)
}

func (c *Ctx) ForRangeMultithread(nThreads, nParallel int, nLoops Value, body func(c *Ctx, i Value)) {
	c.MapReduce(nThreads, nParallel, nLoops, nil, nil, func(c *Ctx, i Value) []tape.Reg {
		body(c, i)
		return nil
	})
}

func (c *Ctx) ForRangeOptMultithread(nThreads int, nLoops Value, body func(c *Ctx, i Value)) {
	c.ForRangeMultithread(nThreads, 0, nLoops, body)
}

// Partition describes one thread's contiguous share.
func Partition(nThreads int, nItems, t int64) (offset, size int64) {
	base := nItems / int64(nThreads)
	rem := nItems % int64(nThreads)

	offset = t*base + min64(t, rem)

	size = base
	if t < rem {
		size++
	}

	return offset, size
}

func (c *Ctx) mapReduce(nThreads, nParallel int, nLoops Value, init Initializer, red Reducer, looping bool, budget int, body LoopBody, threadBody ThreadBody) Accessor {
	if nThreads == 0 {
		tape.Unsupportedf("multithread", "zero threads requested")
	}

	n, static := nLoops.Static()

	// no work at all: the state keeps its initial values
	if static && n == 0 {
		state := c.initState(init)
		return func(c *Ctx) []tape.Reg { return state }
	}

	// degenerate non-threaded dispatch
	if nThreads == 1 || (static && n == 1) {
		if !looping {
			threadBody(c, C(0), nLoops)
			return (&loopState{}).accessor()
		}

		if nParallel > 0 {
			return c.MapReduceSingle(nParallel, nLoops, init, red, body)
		}

		return c.mapReduceBudgeted(nLoops, init, red, c.newLoopState(init), budget, body)
	}

	state := c.initState(init)
	stateLen := len(state)

	var stateKind tape.Kind
	if stateLen > 0 {
		stateKind = state[0].Kind

		for _, r := range state {
			if r.Kind != stateKind {
				tape.Unsupportedf("map-reduce", "mixed state kinds %v and %v", stateKind, r.Kind)
			}
		}
	}

	// one row per thread: domain offset and state address
	args := c.NewArray(tape.Int, int64(nThreads)*2)

	var roundsMem, loopsMem *MemValue
	var baseRounds, remainder int64

	if static {
		baseRounds = n / int64(nThreads)
		remainder = n % int64(nThreads)
	} else {
		roundsMem = c.MemInt(c.Div(nLoops, C(int64(nThreads))))
		loopsMem = c.MemInt(nLoops)
	}

	prevent := c.Prog.PreventBreaks

	threadFn := func(inc int64) func(cc *Ctx) {
		return func(cc *Ctx) {
			t := cc.Arg()
			row := cc.Mul(t, C(2))

			off := R(args.Get(cc, row))
			var size Value

			if static {
				size = C(baseRounds + inc)
			} else {
				// uniform offsets were written; shift by min(t, over)
				// so the first threads absorb the overhang
				rounds := R(roundsMem.Read(cc))
				loops := R(loopsMem.Read(cc))

				over := cc.Mod(loops, C(int64(nThreads)))
				extra := cc.Lt(t, over)

				off = cc.Add(off, cc.Add(cc.Mul(extra, t), cc.Mul(cc.Sub(C(1), extra), over)))
				size = cc.Add(rounds, extra)
			}

			if !looping {
				threadBody(cc, off, size)
				return
			}

			stAddr := args.Get(cc, cc.Add(row, C(1)))
			st := &loopState{n: stateLen}

			if stateLen > 0 {
				st.arr = ArrayAt(stateKind, int64(stateLen), R(stAddr))
			}

			inner := func(cc *Ctx, i Value) []tape.Reg {
				return body(cc, cc.Add(off, i))
			}

			if nParallel > 0 {
				cc.mapReduceParallel(nParallel, size, init, red, st, inner)
			} else {
				cc.mapReduceBudgeted(size, init, red, st, budget, inner)
			}
		}
	}

	if c.T.Singular {
		c.Prog.NRunningThreads = nThreads
	}

	// at most two tape bodies regardless of thread count
	var tapes [2]*tape.Tape

	tapeFor := func(inc int64) *tape.Tape {
		if tapes[inc] == nil {
			c.Prog.PreventBreaks = false
			tapes[inc] = c.compileTape("multithread", c.T.Pool, threadFn(inc))
		}

		return tapes[inc]
	}

	var pairs []tape.TapeRun
	stateAddr := make([]int64, nThreads)
	spawned := make([]bool, nThreads)

	for t := 0; t < nThreads; t++ {
		var off, size int64
		var inc int64

		if static {
			off, size = Partition(nThreads, n, int64(t))
			if size == 0 {
				continue
			}

			if int64(t) < remainder {
				inc = 1
			}
		} else {
			inc = 0
		}

		tp := tapeFor(inc)

		if static {
			args.Set(c, C(int64(2*t)), c.Int(off))
		} else {
			args.Set(c, C(int64(2*t)), c.Reg(c.Mul(C(int64(t)), R(roundsMem.Read(c)))))
		}

		if stateLen > 0 {
			stateAddr[t] = c.Prog.Malloc(int64(stateLen), stateKind)

			// every thread accumulates from the initial state
			row := ArrayAt(stateKind, int64(stateLen), C(stateAddr[t]))
			for i, r := range state {
				row.Set(c, C(int64(i)), r)
			}

			args.Set(c, C(int64(2*t+1)), c.Int(stateAddr[t]))
		}

		spawned[t] = true
		pairs = append(pairs, tape.TapeRun{Tape: tp.Index, Arg: int64(t)})
	}

	c.Prog.NRunningThreads = 0

	if len(pairs) > 0 {
		tlog.V("threads").Printw("spawning tapes", "tape", c.T.Name, "threads", len(pairs), "bodies", countTapes(tapes))

		c.Prog.PreventBreaks = false

		hs := c.Prog.RunTapes(pairs)
		for _, h := range hs {
			c.Prog.JoinTape(h)
		}

		c.Prog.FreeDeferred()
	}

	c.Prog.PreventBreaks = prevent

	// deterministic reduction in ascending thread order
	acc := state

	if stateLen > 0 {
		for t := 0; t < nThreads; t++ {
			if !spawned[t] {
				continue
			}

			row := ArrayAt(stateKind, int64(stateLen), C(stateAddr[t]))
			rs := make([]tape.Reg, stateLen)

			for i := range rs {
				rs[i] = row.Get(c, C(int64(i)))
			}

			acc = red(c, rs, acc)
		}
	}

	return func(c *Ctx) []tape.Reg { return acc }
}

func (c *Ctx) compileTape(name string, pool *tape.Pool, f func(cc *Ctx)) *tape.Tape {
	t := c.Prog.NewTape(name, pool)
	prev := c.Prog.SetCurrent(t)

	f(&Ctx{Prog: c.Prog, T: t})

	c.Prog.SetCurrent(prev)

	return t
}

// MapSum is the sum-reduction shorthand: one zero-initialized value
// per kind, added pairwise.
func (c *Ctx) MapSum(nThreads, nParallel int, nLoops Value, kinds []tape.Kind, body LoopBody) Accessor {
	init := func(c *Ctx) []tape.Reg {
		rs := make([]tape.Reg, len(kinds))

		for i, k := range kinds {
			rs[i] = c.zero(k)
		}

		return rs
	}

	red := func(c *Ctx, item, acc []tape.Reg) []tape.Reg {
		rs := make([]tape.Reg, len(acc))

		for i := range acc {
			rs[i] = c.addRegs(item[i], acc[i])
		}

		return rs
	}

	return c.MapReduce(nThreads, nParallel, nLoops, init, red, body)
}

// MapSumSimple is MapSum with the budgeted unroller inside each thread.
func (c *Ctx) MapSumSimple(nThreads int, nLoops Value, kinds []tape.Kind, body LoopBody) Accessor {
	return c.MapSum(nThreads, 0, nLoops, kinds, body)
}

// TreeReduceMultithread reduces an array pairwise per level, each
// level split across threads.
func (c *Ctx) TreeReduceMultithread(nThreads int, fn func(c *Ctx, x, y tape.Reg) tape.Reg, a *Array) tape.Reg {
	inputs := c.NewArray(a.Kind, a.Len)
	c.ForRangeOptN(C(a.Len), func(c *Ctx, i Value) {
		inputs.Set(c, i, a.Get(c, i))
	})

	outputs := c.NewArray(a.Kind, a.Len/2)

	for left := a.Len; left > 1; left = (left + 1) / 2 {
		half := left / 2

		c.Multithread(nThreads, C(half), func(c *Ctx, base, size Value) {
			c.ForRange(size, func(c *Ctx, i Value) {
				lo := c.Add(c.Mul(base, C(2)), i)
				hi := c.Add(lo, size)

				outputs.Set(c, c.Add(base, i), fn(c, inputs.Get(c, lo), inputs.Get(c, hi)))
			})
		})

		c.ForRange(C(half), func(c *Ctx, i Value) {
			inputs.Set(c, i, outputs.Get(c, i))
		})

		if left%2 == 1 {
			inputs.Set(c, C(half), inputs.Get(c, C(left-1)))
		}
	}

	return inputs.Get(c, C(0))
}

func (c *Ctx) zero(k tape.Kind) tape.Reg {
	if k == tape.Secret {
		return c.Secret(0)
	}

	return c.Int(0)
}

func (c *Ctx) addRegs(a, b tape.Reg) tape.Reg {
	if a.Kind == tape.Secret {
		return c.SecretAdd(a, b)
	}

	return c.Reg(c.Add(R(a), R(b)))
}

func countTapes(t [2]*tape.Tape) (n int) {
	for _, x := range t {
		if x != nil {
			n++
		}
	}

	return n
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}
