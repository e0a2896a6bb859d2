package flow

import (
	"math/bits"

	"tlog.app/go/tlog"

	"github.com/weftlang/weft/compiler/opt"
	"github.com/weftlang/weft/compiler/tape"
)

type (
	// LoopBody compiles one logical iteration and returns the values
	// to reduce, if any.
	LoopBody func(c *Ctx, i Value) []tape.Reg

	Initializer func(c *Ctx) []tape.Reg

	// Reducer folds a fresh item into the accumulated state.
	Reducer func(c *Ctx, item, acc []tape.Reg) []tape.Reg

	// Accessor reads back declared loop results.
	Accessor func(c *Ctx) []tape.Reg

	// loopState carries the reduction state across compiled copies:
	// memory cells in a single tape, an array row per spawned thread.
	loopState struct {
		vals []*MemValue
		arr  *Array
		n    int
	}
)

func (s *loopState) read(c *Ctx) []tape.Reg {
	if s == nil || s.n == 0 {
		return nil
	}

	if s.arr != nil {
		rs := make([]tape.Reg, s.n)
		for i := range rs {
			rs[i] = s.arr.Get(c, C(int64(i)))
		}

		return rs
	}

	return c.Unmemorize(s.vals)
}

func (s *loopState) write(c *Ctx, rs []tape.Reg) {
	if s == nil || s.n == 0 {
		return
	}

	if s.arr != nil {
		for i, r := range rs {
			s.arr.Set(c, C(int64(i)), r)
		}

		return
	}

	c.WriteMem(s.vals, rs)
}

func (c *Ctx) initState(init Initializer) []tape.Reg {
	if init == nil {
		return nil
	}

	return init(c)
}

func (c *Ctx) reduceWith(red Reducer, item, acc []tape.Reg) []tape.Reg {
	if red == nil {
		return nil
	}

	return red(c, item, acc)
}

// ForRangeParallel unrolls up to nParallel copies per compiled round.
// With nParallel >= a static bound the loop disappears entirely and
// every iteration is a physical copy.
func (c *Ctx) ForRangeParallel(nParallel int, nLoops Value, body func(c *Ctx, i Value)) {
	c.MapReduceSingle(nParallel, nLoops, nil, nil, func(c *Ctx, i Value) []tape.Reg {
		body(c, i)
		return nil
	})
}

// ForRangeOptN runs the body for indices 0..n-1, unrolling
// adaptively under the program's instruction budget.
func (c *Ctx) ForRangeOptN(n Value, body func(c *Ctx, i Value)) {
	c.MapReduceOpt(n, nil, nil, func(c *Ctx, i Value) []tape.Reg {
		body(c, i)
		return nil
	})
}

// ForRangeOpt is ForRangeOptN over a start/stop/step range.
func (c *Ctx) ForRangeOpt(start, stop, step Value, body func(c *Ctx, i Value)) {
	start, stop, step = rangePrep(start, stop, step)

	var n Value

	if cnt, ok := staticCount(start, stop, step); ok {
		n = C(cnt)
	} else {
		span := c.Sub(stop, start)
		// one more round when step does not divide the span
		n = c.Add(c.Gt(c.Mod(span, step), C(0)), c.Div(span, step))
	}

	c.ForRangeOptN(n, func(c *Ctx, i Value) {
		body(c, c.Add(start, c.Mul(i, step)))
	})
}

// MapReduceSingle compiles nLoops iterations in one tape, up to
// nParallel unrolled copies per round, reducing returned items into
// memory state.
func (c *Ctx) MapReduceSingle(nParallel int, nLoops Value, init Initializer, red Reducer, body LoopBody) Accessor {
	if nParallel <= 0 {
		nParallel = 1
	}

	st := c.newLoopState(init)

	return c.mapReduceParallel(nParallel, nLoops, init, red, st, body)
}

// MapReduceOpt is the budget-driven variant: batch size is decided by
// the unroller, not the caller.
func (c *Ctx) MapReduceOpt(nLoops Value, init Initializer, red Reducer, body LoopBody) Accessor {
	st := c.newLoopState(init)

	return c.mapReduceBudgeted(nLoops, init, red, st, 0, body)
}

func (c *Ctx) newLoopState(init Initializer) *loopState {
	if init == nil {
		return &loopState{}
	}

	// compile the initializer once to learn the state shape
	rs := init(c)

	return &loopState{vals: c.Memorize(rs), n: len(rs)}
}

func (c *Ctx) mapReduceParallel(nParallel int, nLoops Value, init Initializer, red Reducer, st *loopState, body LoopBody) Accessor {
	var rounds Value

	if n, ok := nLoops.Static(); ok {
		if int64(nParallel) < n {
			rounds = C(n / int64(nParallel))
		} else {
			rounds = C(0)
		}
	} else {
		rounds = c.Div(nLoops, C(int64(nParallel)))
	}

	c.ForRange(rounds, func(c *Ctx, i Value) {
		state := c.initState(init)
		start := c.Block()

		j := c.Mul(i, C(int64(nParallel)))
		one := c.Int(1)

		for k := 0; k < nParallel; k++ {
			state = c.reduceWith(red, body(c, j), state)
			j = c.Add(j, R(one))
		}

		if nParallel > 1 && start != c.Block() {
			tlog.Printw("warning: parallelization broken by control flow instruction",
				"tape", c.T.Name, "parallel", nParallel)
		}

		st.write(c, c.reduceWith(red, st.read(c), state))
	})

	c.loopTail(nLoops, rounds, nParallel, st, init, red, body)

	return st.accessor()
}

func (c *Ctx) mapReduceBudgeted(nLoops Value, init Initializer, red Reducer, st *loopState, budget int, body LoopBody) Accessor {
	if n, ok := nLoops.Static(); ok && n == 0 {
		return st.accessor()
	}

	if budget <= 0 {
		budget = c.Prog.Budget
	}

	if nLoops.IsReg() {
		// optimization is rudimentary for runtime bounds
		budget /= 10
	}

	// batch size placeholder, patched once the batch is compiled
	nOpt := c.T.NewReg(tape.Int, 1)
	nOptInst := c.emit(&tape.Instr{Op: tape.Ldi, Out: nOpt, Imm: 0})

	parent := c.Block()

	prevent := c.Prog.PreventBreaks
	c.Prog.PreventBreaks = false

	i := c.T.NewReg(tape.Int, 1)
	c.movInto(i, C(0))

	cond := func(c *Ctx) Value {
		return c.Le(c.Add(R(i), R(nOpt)), nLoops)
	}

	nStatic, static := nLoops.Static()
	k := 0

	c.IfStatement(cond(c), func(c *Ctx) {
		c.DoWhile(func(c *Ctx) Value {
			block := c.Block()
			state := c.initState(init)

			k = 0

			for {
				state = c.reduceWith(red, body(c, c.Add(R(i), C(int64(k)))), state)
				k++

				if static && int64(k) >= nStatic {
					break
				}

				if c.Block() != block || block.Len() >= budget {
					break
				}
			}

			opt.Optimize(block, c.T)

			st.write(c, c.reduceWith(red, st.read(c), state))

			nOptInst.Imm = int64(k)
			c.addInto(i, R(i), R(nOpt))

			return cond(c)
		})
	}, nil)

	c.Prog.PreventBreaks = prevent

	var rounds Value
	if static {
		rounds = C(nStatic / int64(k))
	} else {
		rounds = c.Div(nLoops, C(int64(k)))
	}

	if r, ok := rounds.Static(); ok && r == 1 && c.mergeOptLoop(parent) {
		// degenerate single batch folded into the surrounding block
	} else if r, ok := rounds.Static(); ok {
		// counted wrapper: scale the batch cost
		c.scaleOptLoop(r)
	}

	c.loopTail(nLoops, rounds, k, st, init, red, body)

	return st.accessor()
}

// scaleOptLoop rewrites the freshly closed wrapper's cost: the batch
// repeats a known number of rounds.
func (c *Ctx) scaleOptLoop(rounds int64) {
	req := c.Block().Req

	if len(req.Children) == 0 {
		return
	}

	ifChild := req.Children[len(req.Children)-1]
	then := ifChild.Nodes[0]

	if len(then.Children) == 0 {
		return
	}

	then.Children[0].Aggregator = tape.ScaledCost(rounds)
}

// mergeOptLoop folds the loop wrapper blocks back into the parent
// block when the whole loop collapsed to a single batch.  The wrapper
// window is the if block, the loop block and the two continuations;
// any other shape keeps the runtime loop.
func (c *Ctx) mergeOptLoop(parent *tape.BasicBlock) bool {
	const nToMerge = 5

	blocks := c.T.Blocks

	if len(blocks) < nToMerge || blocks[len(blocks)-nToMerge] != parent {
		return false
	}

	req := c.Block().Req

	if len(req.Children) == 0 {
		return false
	}

	ifChild := req.Children[len(req.Children)-1]

	if len(ifChild.Nodes) == 0 || blocks[len(blocks)-nToMerge+1].Req != ifChild.Nodes[0] {
		return false
	}

	tlog.V("merge").Printw("merging degenerate loop wrapper", "tape", c.T.Name, "parent", parent.Index)

	elim := func(b *tape.BasicBlock) {
		b.ExitReads(func(r tape.Reg) { c.T.Eliminable.Add(r) })
	}

	merged := parent
	elim(merged)

	last := blocks[len(blocks)-1]

	for _, b := range blocks[len(blocks)-nToMerge+1:] {
		merged.Instrs = append(merged.Instrs, b.Instrs...)
		elim(b)

		b.Instrs = nil // purged
	}

	merged.Exit = last.Exit // rewiring by hand, the branch is gone

	c.T.Blocks = blocks[:len(blocks)-nToMerge+1]
	req.Children = req.Children[:len(req.Children)-1]

	opt.Optimize(merged, c.T)

	c.T.Active = merged

	return true
}

// loopTail compiles the iterations the rounds did not cover: plain
// copies for a static bound, a halving ladder of conditional copies
// for a runtime bound.
func (c *Ctx) loopTail(nLoops, rounds Value, k int, st *loopState, init Initializer, red Reducer, body LoopBody) {
	if n, ok := nLoops.Static(); ok {
		r, _ := rounds.Static()

		state := st.read(c)

		for j := r * int64(k); j < n; j++ {
			state = c.reduceWith(red, body(c, C(j)), state)
		}

		st.write(c, state)

		return
	}

	done := c.T.NewReg(tape.Int, 1)
	c.movInto(done, c.Mul(rounds, C(int64(k))))

	for e := bits.Len(uint(k)) - 1; e >= 0; e-- {
		n := int64(1) << e

		c.If(c.Ge(c.Sub(nLoops, R(done)), C(n)), func(c *Ctx) {
			state := c.initState(init)

			for j := int64(0); j < n; j++ {
				state = c.reduceWith(red, body(c, c.Add(R(done), C(j))), state)
			}

			st.write(c, c.reduceWith(red, st.read(c), state))
			c.addInto(done, R(done), C(n))
		})
	}
}

func (s *loopState) accessor() Accessor {
	return func(c *Ctx) []tape.Reg {
		return s.read(c)
	}
}
