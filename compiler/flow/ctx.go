package flow

import (
	"github.com/weftlang/weft/compiler/tape"
)

type (
	// Ctx is the compilation context of one tape under construction.
	// Bodies receive the context explicitly; a thread spawn hands the
	// body a fresh context for the spawned tape.
	Ctx struct {
		Prog *tape.Program
		T    *tape.Tape
	}

	// Value is a public integer: either known at compile time or held
	// in a register.  Loop bounds, conditions and addresses are
	// Values so the compiler can specialize the static cases.
	Value struct {
		c     int64
		r     tape.Reg
		isReg bool
	}
)

func NewCtx(p *tape.Program) *Ctx {
	return &Ctx{Prog: p, T: p.Cur}
}

// C is a compile-time constant.
func C(v int64) Value { return Value{c: v} }

// R wraps a register.
func R(r tape.Reg) Value { return Value{r: r, isReg: true} }

func (v Value) Static() (int64, bool) {
	if v.isReg {
		return 0, false
	}

	return v.c, true
}

func (v Value) IsReg() bool { return v.isReg }

func (v Value) Kind() tape.Kind {
	if v.isReg {
		return v.r.Kind
	}

	return tape.Int
}

// Reg materializes the value into a register.
func (c *Ctx) Reg(v Value) tape.Reg {
	if v.isReg {
		return v.r
	}

	return c.Int(v.c)
}

func (c *Ctx) Block() *tape.BasicBlock { return c.T.Active }

func (c *Ctx) emit(i *tape.Instr) *tape.Instr { return c.T.Emit(i) }

// Int loads a constant into a fresh public register.
func (c *Ctx) Int(v int64) tape.Reg {
	r := c.T.NewReg(tape.Int, 1)
	c.emit(&tape.Instr{Op: tape.Ldi, Out: r, Imm: v})

	return r
}

func (c *Ctx) binop(op tape.Op, a, b Value, fold func(x, y int64) int64) Value {
	if x, ok := a.Static(); ok {
		if y, ok := b.Static(); ok {
			return C(fold(x, y))
		}
	}

	r := c.T.NewReg(tape.Int, 1)
	c.emit(&tape.Instr{Op: op, Out: r, A: c.Reg(a), B: c.Reg(b)})

	return R(r)
}

func (c *Ctx) Add(a, b Value) Value {
	return c.binop(tape.Add, a, b, func(x, y int64) int64 { return x + y })
}

func (c *Ctx) Sub(a, b Value) Value {
	return c.binop(tape.Sub, a, b, func(x, y int64) int64 { return x - y })
}

func (c *Ctx) Mul(a, b Value) Value {
	return c.binop(tape.Mul, a, b, func(x, y int64) int64 { return x * y })
}

func (c *Ctx) Div(a, b Value) Value {
	if y, ok := b.Static(); ok && y == 0 {
		tape.Unsupportedf("div", "division by constant zero")
	}

	return c.binop(tape.Div, a, b, func(x, y int64) int64 { return x / y })
}

func (c *Ctx) Mod(a, b Value) Value {
	if y, ok := b.Static(); ok && y == 0 {
		tape.Unsupportedf("mod", "division by constant zero")
	}

	return c.binop(tape.Mod, a, b, func(x, y int64) int64 { return x % y })
}

func (c *Ctx) Lt(a, b Value) Value {
	return c.binop(tape.Lt, a, b, func(x, y int64) int64 { return b2i(x < y) })
}

func (c *Ctx) Gt(a, b Value) Value {
	return c.binop(tape.Gt, a, b, func(x, y int64) int64 { return b2i(x > y) })
}

func (c *Ctx) Eq(a, b Value) Value {
	return c.binop(tape.Eq, a, b, func(x, y int64) int64 { return b2i(x == y) })
}

// Le is compiled as 1 - (b < a).
func (c *Ctx) Le(a, b Value) Value {
	return c.Sub(C(1), c.Gt(a, b))
}

func (c *Ctx) Ge(a, b Value) Value {
	return c.Sub(C(1), c.Lt(a, b))
}

// addInto accumulates into an existing register, for induction
// variables crossing a back edge.
func (c *Ctx) addInto(dst tape.Reg, a, b Value) {
	c.emit(&tape.Instr{Op: tape.Add, Out: dst, A: c.Reg(a), B: c.Reg(b)})
}

func (c *Ctx) movInto(dst tape.Reg, v Value) {
	if x, ok := v.Static(); ok {
		c.emit(&tape.Instr{Op: tape.Ldi, Out: dst, Imm: x})
		return
	}

	c.emit(&tape.Instr{Op: tape.Add, Out: dst, A: c.Reg(v), B: c.Int(0)})
}

// Clear loads a constant into the clear domain.  Clear values are
// public but live in their own register and memory space.
func (c *Ctx) Clear(v int64) tape.Reg {
	r := c.T.NewReg(tape.Clear, 1)
	c.emit(&tape.Instr{Op: tape.Ldi, Out: r, Imm: v})

	return r
}

// Secret loads a constant as a share.
func (c *Ctx) Secret(v int64) tape.Reg {
	r := c.T.NewReg(tape.Secret, 1)
	c.emit(&tape.Instr{Op: tape.Lds, Out: r, Imm: v})

	return r
}

func (c *Ctx) sbinop(op tape.Op, a, b tape.Reg) tape.Reg {
	r := c.T.NewReg(tape.Secret, 1)
	c.emit(&tape.Instr{Op: op, Out: r, A: a, B: b})

	return r
}

func (c *Ctx) SecretAdd(a, b tape.Reg) tape.Reg { return c.sbinop(tape.Sadd, a, b) }
func (c *Ctx) SecretSub(a, b tape.Reg) tape.Reg { return c.sbinop(tape.Ssub, a, b) }

// SecretMul costs one multiplication triple and one round.
func (c *Ctx) SecretMul(a, b tape.Reg) tape.Reg { return c.sbinop(tape.Smul, a, b) }
func (c *Ctx) SecretLt(a, b tape.Reg) tape.Reg  { return c.sbinop(tape.Slt, a, b) }

// Reveal opens a share to all parties; the result is public.
func (c *Ctx) Reveal(a tape.Reg) Value {
	r := c.T.NewReg(tape.Int, 1)
	c.emit(&tape.Instr{Op: tape.Reveal, Out: r, A: a})

	return R(r)
}

// Arg reads the thread argument of the running tape.
func (c *Ctx) Arg() Value {
	r := c.T.NewReg(tape.Int, 1)
	c.emit(&tape.Instr{Op: tape.Ldarg, Out: r})

	return R(r)
}

// Load reads one memory cell of the kind's segment.
func (c *Ctx) Load(k tape.Kind, addr Value) tape.Reg {
	r := c.T.NewReg(k, 1)

	if a, ok := addr.Static(); ok {
		c.emit(&tape.Instr{Op: tape.Ldm, Out: r, Imm: a})
	} else {
		c.emit(&tape.Instr{Op: tape.Ldmi, Out: r, A: c.Reg(addr)})
	}

	return r
}

func (c *Ctx) Store(v tape.Reg, addr Value) {
	if a, ok := addr.Static(); ok {
		c.emit(&tape.Instr{Op: tape.Stm, A: v, Imm: a})
		return
	}

	c.emit(&tape.Instr{Op: tape.Stmi, A: v, B: c.Reg(addr)})
}

func b2i(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
