package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlang/weft/compiler/tape"
)

func TestArithmetic(t *testing.T) {
	p := tape.NewProgram("test")
	tt := p.Main()

	a := ldi(tt, 7)
	b := ldi(tt, 3)

	for addr, op := range map[int64]tape.Op{
		0: tape.Add, 1: tape.Sub, 2: tape.Mul, 3: tape.Div,
		4: tape.Mod, 5: tape.Lt, 6: tape.Gt, 7: tape.Eq,
	} {
		r := tt.NewReg(tape.Int, 1)
		tt.Emit(&tape.Instr{Op: op, Out: r, A: a, B: b})
		tt.Emit(&tape.Instr{Op: tape.Stm, A: r, Imm: addr})
	}

	p.Finalize()

	m := New(p)
	require.NoError(t, m.Run())

	want := []int64{10, 4, 21, 2, 1, 0, 1, 0}
	for addr, v := range want {
		assert.Equal(t, v, m.Load(tape.Int, int64(addr)), "result %d", addr)
	}
}

func TestBranchEZ(t *testing.T) {
	p := tape.NewProgram("test")
	tt := p.Main()

	cond := ldi(tt, 0)
	tt.Active.SetExit(tape.Exit{Kind: tape.BranchEZ, Cond: cond, To: 2})

	tt.StartBlock(nil, "skipped", nil)
	tt.Emit(&tape.Instr{Op: tape.Stm, A: ldi(tt, 99), Imm: 0})

	tt.StartBlock(nil, "cont", nil)
	tt.Emit(&tape.Instr{Op: tape.Stm, A: ldi(tt, 1), Imm: 1})

	p.Finalize()

	m := New(p)
	require.NoError(t, m.Run())

	assert.Equal(t, int64(0), m.Load(tape.Int, 0))
	assert.Equal(t, int64(1), m.Load(tape.Int, 1))
}

func TestIndirectExit(t *testing.T) {
	p := tape.NewProgram("test")
	tt := p.Main()

	addr := ldi(tt, 2)
	tt.Active.SetExit(tape.Exit{Kind: tape.Indirect, Addr: addr})

	tt.StartBlock(nil, "skipped", nil)
	tt.Emit(&tape.Instr{Op: tape.Stm, A: ldi(tt, 99), Imm: 0})

	tt.StartBlock(nil, "land", nil)
	tt.Emit(&tape.Instr{Op: tape.Stm, A: ldi(tt, 5), Imm: 1})

	p.Finalize()

	m := New(p)
	require.NoError(t, m.Run())

	assert.Equal(t, int64(0), m.Load(tape.Int, 0))
	assert.Equal(t, int64(5), m.Load(tape.Int, 1))
}

func TestDivisionByZero(t *testing.T) {
	p := tape.NewProgram("test")
	tt := p.Main()

	r := tt.NewReg(tape.Int, 1)
	tt.Emit(&tape.Instr{Op: tape.Div, Out: r, A: ldi(tt, 1), B: ldi(tt, 0)})

	p.Finalize()

	err := New(p).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestStepLimit(t *testing.T) {
	p := tape.NewProgram("test")
	tt := p.Main()

	tt.Emit(&tape.Instr{Op: tape.Nop})
	tt.Active.SetExit(tape.Exit{Kind: tape.Jump, To: 0})

	p.Finalize()

	m := New(p)
	m.MaxSteps = 100

	err := m.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step limit")
}

func TestCallMarshaling(t *testing.T) {
	p := tape.NewProgram("test")

	callee := p.NewTape("double", nil)
	formal := callee.NewReg(tape.Int, 1)
	result := callee.NewReg(tape.Int, 1)
	callee.Emit(&tape.Instr{Op: tape.Mul, Out: result, A: formal, B: ldi(callee, 2)})

	tt := p.Main()

	arg := ldi(tt, 21)
	out := tt.NewReg(tape.Int, 1)

	tt.Emit(&tape.Instr{Op: tape.CallTape, Call: &tape.CallSpec{
		Tape: callee.Index,
		Args: []tape.CallArg{
			{Caller: arg, Callee: formal},
			{Result: true, Caller: out, Callee: result},
		},
	}})
	tt.Emit(&tape.Instr{Op: tape.Stm, A: out, Imm: 0})

	p.Finalize()

	m := New(p)
	require.NoError(t, m.Run())

	assert.Equal(t, int64(42), m.Load(tape.Int, 0))
}

func TestSpawnedTapeArg(t *testing.T) {
	p := tape.NewProgram("test")

	th := p.NewTape("thread", nil)
	a := th.NewReg(tape.Int, 1)
	th.Emit(&tape.Instr{Op: tape.Ldarg, Out: a})
	th.Emit(&tape.Instr{Op: tape.Stmi, A: a, B: a})

	hs := p.RunTapes([]tape.TapeRun{
		{Tape: th.Index, Arg: 3},
		{Tape: th.Index, Arg: 5},
	})
	for _, h := range hs {
		p.JoinTape(h)
	}

	p.Finalize()

	m := New(p)
	require.NoError(t, m.Run())

	assert.Equal(t, int64(3), m.Load(tape.Int, 3))
	assert.Equal(t, int64(5), m.Load(tape.Int, 5))
	assert.Equal(t, int64(0), m.Load(tape.Int, 4))
}

func TestUninitializedMemoryReadsZero(t *testing.T) {
	p := tape.NewProgram("test")
	tt := p.Main()

	r := tt.NewReg(tape.Int, 1)
	tt.Emit(&tape.Instr{Op: tape.Ldm, Out: r, Imm: 1000})
	tt.Emit(&tape.Instr{Op: tape.Stm, A: r, Imm: 0})

	p.Finalize()

	m := New(p)
	require.NoError(t, m.Run())

	assert.Equal(t, int64(0), m.Load(tape.Int, 0))
}

func ldi(t *tape.Tape, v int64) tape.Reg {
	r := t.NewReg(tape.Int, 1)
	t.Emit(&tape.Instr{Op: tape.Ldi, Out: r, Imm: v})

	return r
}
