package flow

import (
	"math"

	"github.com/weftlang/weft/compiler/tape"
)

// DoWhile compiles the body exactly once and re-enters while the
// returned public value is nonzero.  The body always runs at least
// once.
func (c *Ctx) DoWhile(body func(c *Ctx) Value) {
	scope := c.Block()
	parent := scope.Req

	// possibly unknown loop count
	c.T.OpenScope(tape.UnknownCost, "begin-loop")
	c.T.LoopBreaks = append(c.T.LoopBreaks, nil)

	loop := c.Block()

	cond := body(c)
	if !cond.Kind().Public() {
		tape.Unsupportedf("end-loop", "loop exit value must be public")
	}

	c.Block().SetExit(tape.Exit{Kind: tape.BranchNZ, Cond: c.Reg(cond), To: loop.Index})

	c.T.CloseScope(scope, parent, "end-loop")

	breaks := c.T.LoopBreaks[len(c.T.LoopBreaks)-1]
	c.T.LoopBreaks = c.T.LoopBreaks[:len(c.T.LoopBreaks)-1]

	for _, b := range breaks {
		b.SetExit(tape.Exit{Kind: tape.Jump, To: c.Block().Index})
	}
}

// Break redirects control flow out of the innermost loop.  The block
// is wired to the loop's continuation when the loop closes.
func (c *Ctx) Break() {
	if len(c.T.LoopBreaks) == 0 {
		tape.Structuralf("break", "break outside of a loop")
	}

	last := len(c.T.LoopBreaks) - 1
	c.T.LoopBreaks[last] = append(c.T.LoopBreaks[last], c.Block())

	c.T.StartBlock(c.Block().Scope, "break", c.Block().Req)
}

// WhileDo evaluates the condition once ahead of the loop; a condition
// that is statically false never compiles the body.
func (c *Ctx) WhileDo(cond func(c *Ctx) Value, body func(c *Ctx)) {
	loopFn := func(c *Ctx) Value {
		body(c)
		return cond(c)
	}

	pre := cond(c)

	if v, ok := pre.Static(); ok {
		if v != 0 {
			c.DoWhile(loopFn)
		}

		return
	}

	c.IfStatement(pre, func(c *Ctx) { c.DoWhile(loopFn) }, nil)
}

func rangePrep(start, stop, step Value) (Value, Value, Value) {
	if v, ok := step.Static(); ok && v == 0 {
		tape.Unsupportedf("for-range", "step must not be zero")
	}

	return start, stop, step
}

// ForRange runs the body for indices 0..n-1 as a counted runtime loop.
func (c *Ctx) ForRange(n Value, body func(c *Ctx, i Value)) {
	c.ForRangeStep(C(0), n, C(1), body)
}

// ForRangeStep is a counted loop over start/stop/step, any of which
// may be a runtime public value.  The body compiles once; the index
// register crosses the back edge.
func (c *Ctx) ForRangeStep(start, stop, step Value, body func(c *Ctx, i Value)) {
	start, stop, step = rangePrep(start, stop, step)

	cond := func(c *Ctx, x Value) Value {
		if sv, ok := step.Static(); ok {
			if sv > 0 {
				return c.Lt(x, stop)
			}

			return c.Gt(x, stop)
		}

		// direction only known at runtime
		b := c.Gt(step, C(0))

		return c.Add(c.Mul(b, c.Lt(x, stop)), c.Mul(c.Sub(C(1), b), c.Gt(x, stop)))
	}

	pre := cond(c, start)

	if v, ok := pre.Static(); ok && v == 0 {
		return
	}

	i := c.T.NewReg(tape.Int, 1)
	c.movInto(i, start)

	loopFn := func(c *Ctx) Value {
		body(c, R(i))
		c.addInto(i, R(i), step)

		return cond(c, R(i))
	}

	if _, ok := pre.Static(); ok {
		c.DoWhile(loopFn)
	} else {
		c.IfStatement(pre, func(c *Ctx) { c.DoWhile(loopFn) }, nil)
	}

	// known loop count
	if n, ok := staticCount(start, stop, step); ok {
		children := c.Block().Req.Children
		children[len(children)-1].Aggregator = tape.ScaledCost(n)
	}
}

func staticCount(start, stop, step Value) (int64, bool) {
	a, ok := start.Static()
	if !ok {
		return 0, false
	}

	b, ok := stop.Static()
	if !ok {
		return 0, false
	}

	s, ok := step.Static()
	if !ok {
		return 0, false
	}

	n := int64(math.Ceil(float64(b-a) / float64(s)))
	if n < 0 {
		n = 0
	}

	return n, true
}
