// Package exec evaluates finalized programs instruction by
// instruction.  It models a single honest party: secret values are
// plain integers, communication is free.  It exists so compiled
// control flow can be checked against direct computation.
package exec

import (
	"tlog.app/go/errors"

	"github.com/weftlang/weft/compiler/tape"
)

type (
	// Machine holds the data memory shared by all tapes of one run.
	Machine struct {
		Prog *tape.Program

		// MaxSteps bounds the total instruction count so a miswired
		// loop fails instead of hanging the test.
		MaxSteps int

		mem   [3][]int64
		steps int
	}

	// frame is one tape activation: registers are private to it,
	// memory is not.
	frame struct {
		t    *tape.Tape
		regs [3]map[int32]int64
		arg  int64
	}
)

const DefaultMaxSteps = 10_000_000

func New(p *tape.Program) *Machine {
	return &Machine{
		Prog:     p,
		MaxSteps: DefaultMaxSteps,
	}
}

// Run executes the main tape with argument 0.
func (m *Machine) Run() error {
	_, err := m.runTape(m.Prog.Main(), 0)
	return err
}

// Load reads one memory cell after (or during) a run.
func (m *Machine) Load(k tape.Kind, addr int64) int64 {
	return m.load(k, addr)
}

// Store primes one memory cell before a run.
func (m *Machine) Store(k tape.Kind, addr, v int64) {
	m.store(k, addr, v)
}

func newFrame(t *tape.Tape, arg int64) *frame {
	f := &frame{t: t, arg: arg}

	for k := range f.regs {
		f.regs[k] = map[int32]int64{}
	}

	return f
}

func (f *frame) get(r tape.Reg) int64    { return f.regs[r.Kind][r.ID] }
func (f *frame) set(r tape.Reg, v int64) { f.regs[r.Kind][r.ID] = v }

func (m *Machine) load(k tape.Kind, addr int64) int64 {
	if addr < 0 || int(addr) >= len(m.mem[k]) {
		return 0
	}

	return m.mem[k][addr]
}

func (m *Machine) store(k tape.Kind, addr, v int64) {
	if addr < 0 {
		return
	}

	for int(addr) >= len(m.mem[k]) {
		m.mem[k] = append(m.mem[k], make([]int64, int(addr)+1-len(m.mem[k]))...)
	}

	m.mem[k][addr] = v
}

func (m *Machine) runTape(t *tape.Tape, arg int64) (*frame, error) {
	return m.runFrame(t, newFrame(t, arg))
}

func (m *Machine) exec(f *frame, i *tape.Instr) error {
	switch i.Op {
	case tape.Nop:
	case tape.Ldi:
		f.set(i.Out, i.Imm)
	case tape.Add:
		f.set(i.Out, f.get(i.A)+f.get(i.B))
	case tape.Sub:
		f.set(i.Out, f.get(i.A)-f.get(i.B))
	case tape.Mul:
		f.set(i.Out, f.get(i.A)*f.get(i.B))
	case tape.Div:
		d := f.get(i.B)
		if d == 0 {
			return errors.New("division by zero")
		}

		f.set(i.Out, f.get(i.A)/d)
	case tape.Mod:
		d := f.get(i.B)
		if d == 0 {
			return errors.New("division by zero")
		}

		f.set(i.Out, f.get(i.A)%d)
	case tape.Lt:
		f.set(i.Out, b2i(f.get(i.A) < f.get(i.B)))
	case tape.Gt:
		f.set(i.Out, b2i(f.get(i.A) > f.get(i.B)))
	case tape.Eq:
		f.set(i.Out, b2i(f.get(i.A) == f.get(i.B)))
	case tape.Ldm:
		f.set(i.Out, m.load(i.Out.Kind, i.Imm))
	case tape.Stm:
		m.store(i.A.Kind, i.Imm, f.get(i.A))
	case tape.Ldmi:
		f.set(i.Out, m.load(i.Out.Kind, f.get(i.A)))
	case tape.Stmi:
		m.store(i.A.Kind, f.get(i.B), f.get(i.A))
	case tape.Lds:
		f.set(i.Out, i.Imm)
	case tape.Sadd:
		f.set(i.Out, f.get(i.A)+f.get(i.B))
	case tape.Ssub:
		f.set(i.Out, f.get(i.A)-f.get(i.B))
	case tape.Smul:
		f.set(i.Out, f.get(i.A)*f.get(i.B))
	case tape.Slt:
		f.set(i.Out, b2i(f.get(i.A) < f.get(i.B)))
	case tape.Reveal:
		f.set(i.Out, f.get(i.A))
	case tape.Ldarg:
		f.set(i.Out, f.arg)
	case tape.Starg:
		f.arg = f.get(i.A)
	case tape.RunTape:
		// synchronous model: spawned tapes finish before the join
		for _, r := range i.Run {
			if r.Tape < 0 || r.Tape >= len(m.Prog.Tapes) {
				return errors.New("run_tape: no tape %d", r.Tape)
			}

			_, err := m.runTape(m.Prog.Tapes[r.Tape], r.Arg)
			if err != nil {
				return errors.Wrap(err, "spawned tape %d", r.Tape)
			}
		}
	case tape.JoinTape:
		// already joined by the synchronous run
	case tape.CallTape:
		return m.call(f, i.Call)
	default:
		return errors.New("unsupported op %v", i.Op)
	}

	return nil
}

func (m *Machine) call(f *frame, spec *tape.CallSpec) error {
	if spec == nil {
		return errors.New("call_tape without a spec")
	}

	if spec.Tape < 0 || spec.Tape >= len(m.Prog.Tapes) {
		return errors.New("call_tape: no tape %d", spec.Tape)
	}

	t := m.Prog.Tapes[spec.Tape]

	callee := newFrame(t, 0)

	for _, a := range spec.Args {
		if !a.Result {
			callee.set(a.Callee, f.get(a.Caller))
		}
	}

	done, err := m.runFrame(t, callee)
	if err != nil {
		return errors.Wrap(err, "call tape %v", t.Name)
	}

	for _, a := range spec.Args {
		if a.Result {
			f.set(a.Caller, done.get(a.Callee))
		}
	}

	return nil
}

// runFrame drives block dispatch until the frame's tape returns.
// Callers pre-populate the frame for marshaled calls.
func (m *Machine) runFrame(t *tape.Tape, f *frame) (*frame, error) {
	if !t.Finalized {
		return nil, errors.New("tape %v is not finalized", t.Name)
	}

	b := t.Blocks[0]

	for {
		for _, i := range b.Instrs {
			m.steps++
			if m.steps > m.MaxSteps {
				return f, errors.New("step limit reached in tape %v block %d", t.Name, b.Index)
			}

			err := m.exec(f, i)
			if err != nil {
				return f, errors.Wrap(err, "tape %v block %d", t.Name, b.Index)
			}
		}

		next := -1

		switch b.Exit.Kind {
		case tape.None:
			next = b.Index + 1
		case tape.Jump:
			next = b.Exit.To
		case tape.BranchNZ:
			if f.get(b.Exit.Cond) != 0 {
				next = b.Exit.To
			} else {
				next = b.Index + 1
			}
		case tape.BranchEZ:
			if f.get(b.Exit.Cond) == 0 {
				next = b.Exit.To
			} else {
				next = b.Index + 1
			}
		case tape.Indirect:
			next = int(f.get(b.Exit.Addr))
		case tape.Return:
			return f, nil
		default:
			return f, errors.New("tape %v block %d: bad exit %v", t.Name, b.Index, b.Exit.Kind)
		}

		if next < 0 || next >= len(t.Blocks) {
			return f, errors.New("tape %v block %d: exit into the void", t.Name, b.Index)
		}

		b = t.Blocks[next]
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
