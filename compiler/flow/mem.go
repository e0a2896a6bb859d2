package flow

import (
	"github.com/weftlang/weft/compiler/tape"
)

type (
	// MemValue is one addressable cell.  Registers do not survive
	// across tapes or loop copies; memory does.
	MemValue struct {
		Kind tape.Kind
		Addr int64
	}

	// Array is a contiguous region of one kind.  Base is usually a
	// compile-time address; call formals view their argument through a
	// register instead.
	Array struct {
		Kind tape.Kind
		Len  int64
		Base Value
	}
)

func (c *Ctx) NewMemValue(k tape.Kind) *MemValue {
	return &MemValue{Kind: k, Addr: c.Prog.Malloc(1, k)}
}

// MemInt allocates a cell and initializes it from a public value.
func (c *Ctx) MemInt(v Value) *MemValue {
	m := c.NewMemValue(tape.Int)
	m.Write(c, c.Reg(v))

	return m
}

func (m *MemValue) Read(c *Ctx) tape.Reg {
	return c.Load(m.Kind, C(m.Addr))
}

func (m *MemValue) Write(c *Ctx, r tape.Reg) {
	if r.Kind != m.Kind {
		tape.Unsupportedf("mem", "cannot store %v register into %v cell", r.Kind, m.Kind)
	}

	c.Store(r, C(m.Addr))
}

func (m *MemValue) Free(c *Ctx) {
	c.Prog.Free(m.Addr, 1, m.Kind)
}

func (c *Ctx) NewArray(k tape.Kind, n int64) *Array {
	return &Array{Kind: k, Len: n, Base: C(c.Prog.Malloc(n, k))}
}

// ArrayAt views existing memory as an array; used for thread state
// rows and marshaled call arguments.
func ArrayAt(k tape.Kind, n int64, base Value) *Array {
	return &Array{Kind: k, Len: n, Base: base}
}

// Addr is the address of element i.
func (a *Array) Addr(c *Ctx, i Value) Value {
	return c.Add(a.Base, i)
}

func (a *Array) Get(c *Ctx, i Value) tape.Reg {
	return c.Load(a.Kind, a.Addr(c, i))
}

func (a *Array) Set(c *Ctx, i Value, r tape.Reg) {
	if r.Kind != a.Kind {
		tape.Unsupportedf("array", "cannot store %v register into %v array", r.Kind, a.Kind)
	}

	c.Store(r, a.Addr(c, i))
}

func (a *Array) Free(c *Ctx) {
	if b, ok := a.Base.Static(); ok {
		c.Prog.Free(b, a.Len, a.Kind)
	}
}

func (a *Array) FreeLater(c *Ctx) {
	if b, ok := a.Base.Static(); ok {
		c.Prog.FreeLater(b, a.Len, a.Kind)
	}
}

// Memorize stores registers into fresh cells, one per register; the
// counterpart Unmemorize loads them back at a call site.
func (c *Ctx) Memorize(rs []tape.Reg) []*MemValue {
	ms := make([]*MemValue, len(rs))

	for i, r := range rs {
		ms[i] = c.NewMemValue(r.Kind)
		ms[i].Write(c, r)
	}

	return ms
}

func (c *Ctx) Unmemorize(ms []*MemValue) []tape.Reg {
	rs := make([]tape.Reg, len(ms))

	for i, m := range ms {
		rs[i] = m.Read(c)
	}

	return rs
}

// WriteMem writes values into matching cells.
func (c *Ctx) WriteMem(dst []*MemValue, src []tape.Reg) {
	if len(dst) != len(src) {
		tape.Structuralf("mem", "writing %d values into %d cells", len(src), len(dst))
	}

	for i, m := range dst {
		m.Write(c, src[i])
	}
}
