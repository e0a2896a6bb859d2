package flow

import (
	"tlog.app/go/loc"

	"github.com/weftlang/weft/compiler/tape"
)

// IfThen opens a two-way branch on a public value.  The then arm
// compiles into a fresh block; EndIf wires the start block to skip it
// when the condition is zero.
func (c *Ctx) IfThen(cond Value) {
	if !cond.Kind().Public() {
		tape.Unsupportedf("if-block", "cannot branch on a secret value, use oblivious selection instead")
	}

	st := &tape.IfState{
		Cond:  c.Reg(cond),
		Start: c.Block(),
		At:    loc.Caller(1),
	}

	st.Child = c.T.OpenScope(tape.MaxCosts, "if-block")

	c.T.IfStates = append(c.T.IfStates, st)
}

// ElseThen starts the else arm as a sibling cost node.
func (c *Ctx) ElseThen() {
	st := c.topIf("else-block")
	if st.Static {
		tape.Structuralf("else-block", "no open if block")
	}

	if st.HasElse {
		tape.Structuralf("else-block", "else block already defined (if at %v)", st.At)
	}

	st.ExitBlock = c.Block()

	node := st.Child.AddNode("else-block")
	c.T.StartBlock(st.Start, "else-block", node)

	st.ElseBlock = c.Block()
	st.HasElse = true
}

// EndIf pops the innermost conditional and wires the jumps.
func (c *Ctx) EndIf() {
	st := c.topIf("end-if")
	if st.Static {
		tape.Structuralf("end-if", "no open if/else block")
	}

	c.T.IfStates = c.T.IfStates[:len(c.T.IfStates)-1]

	c.T.CloseScope(st.Start, st.Start.Req, "end-if")
	cont := c.Block()

	if st.HasElse {
		// jump to the else arm when the condition is zero
		st.Start.SetExit(tape.Exit{Kind: tape.BranchEZ, Cond: st.Cond, To: st.ElseBlock.Index})

		// the then arm skips the else arm
		st.ExitBlock.SetExit(tape.Exit{Kind: tape.Jump, To: cont.Index})

		return
	}

	st.Start.SetExit(tape.Exit{Kind: tape.BranchEZ, Cond: st.Cond, To: cont.Index})

	// nothing to compute without else, the skipped path is free
	st.Child.Aggregator = tape.FirstCost
}

func (c *Ctx) topIf(label string) *tape.IfState {
	if len(c.T.IfStates) == 0 {
		tape.Structuralf(label, "no open if block")
	}

	return c.T.IfStates[len(c.T.IfStates)-1]
}

// If compiles the body under a runtime condition without an else arm.
// A compile-time condition elides the branch entirely.
func (c *Ctx) If(cond Value, body func(c *Ctx)) {
	if v, ok := cond.Static(); ok {
		if v != 0 {
			body(c)
		}

		return
	}

	c.IfThen(cond)
	body(c)
	c.EndIf()
}

// IfE opens a conditional that must be completed with Else.  A
// compile-time condition invokes only the live arm's callable.
func (c *Ctx) IfE(cond Value, body func(c *Ctx)) {
	if v, ok := cond.Static(); ok {
		c.T.IfStates = append(c.T.IfStates, &tape.IfState{Static: true, Taken: v != 0})

		if v != 0 {
			body(c)
		}

		return
	}

	c.IfThen(cond)
	body(c)
	c.T.IfStates[len(c.T.IfStates)-1].ClosedIf = true
}

// Else completes an IfE.
func (c *Ctx) Else(body func(c *Ctx)) {
	st := c.topIf("else-block")

	if st.Static {
		if !st.Taken {
			body(c)
		}

		c.T.IfStates = c.T.IfStates[:len(c.T.IfStates)-1]

		return
	}

	if !st.ClosedIf {
		tape.Structuralf("else-block", "IfE not closed before else block")
	}

	c.ElseThen()
	body(c)
	c.EndIf()
}

// IfStatement dispatches on compile-time conditions directly.
func (c *Ctx) IfStatement(cond Value, ifFn, elseFn func(c *Ctx)) {
	if v, ok := cond.Static(); ok {
		if v != 0 {
			ifFn(c)
		} else if elseFn != nil {
			elseFn(c)
		}

		return
	}

	c.IfThen(cond)
	ifFn(c)

	if elseFn != nil {
		c.ElseThen()
		elseFn(c)
	}

	c.EndIf()
}

// And compiles nested conditionals with compile-time short circuit:
// a later term is only compiled under the earlier terms' then arms.
// The result is a 0/1 public value.
func And(terms ...func(c *Ctx) Value) func(c *Ctx) Value {
	return func(c *Ctx) Value {
		res := c.MemInt(C(0))

		for _, t := range terms {
			c.IfThen(t(c))
		}

		res.Write(c, c.Int(1))

		for range terms {
			c.ElseThen()
			c.EndIf()
		}

		return R(res.Read(c))
	}
}

// Or nests each following term under the previous term's else arm.
func Or(terms ...func(c *Ctx) Value) func(c *Ctx) Value {
	return func(c *Ctx) Value {
		res := c.MemInt(C(1))

		for _, t := range terms {
			c.IfThen(t(c))
			c.ElseThen()
		}

		res.Write(c, c.Int(0))

		for range terms {
			c.EndIf()
		}

		return R(res.Read(c))
	}
}

func Not(term func(c *Ctx) Value) func(c *Ctx) Value {
	return func(c *Ctx) Value {
		return c.Sub(C(1), term(c))
	}
}
