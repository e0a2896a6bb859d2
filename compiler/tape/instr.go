package tape

type (
	// Kind is a register domain.  Int and Clear are public: every
	// party holds the same value, so it is safe to branch on them.
	// Secret registers hold shares and must never reach an exit
	// condition.
	Kind int8

	// Reg is a register handle.  Registers belong to the tape that
	// allocated them and are mutable at runtime, so an instruction may
	// write into an existing register.
	Reg struct {
		Kind Kind
		Size int32
		ID   int32
	}

	Op int8

	// Instr is one instruction node.  Instructions are kept by pointer
	// so the loop compiler can patch immediates after the fact.
	Instr struct {
		Op  Op
		Out Reg
		A   Reg
		B   Reg
		Imm int64

		Run  []TapeRun // RunTape
		Call *CallSpec // CallTape
	}

	// TapeRun schedules one spawned tape into a thread slot.
	TapeRun struct {
		Tape int
		Slot int
		Arg  int64
	}

	// CallSpec marshals an inter-tape call by register pairs.
	// For arguments the caller register is copied into the callee
	// formal; for results the callee register is copied out.
	CallSpec struct {
		Tape int
		Args []CallArg
	}

	CallArg struct {
		Result bool
		Caller Reg
		Callee Reg
	}
)

const (
	Int Kind = iota // public integer (register index domain)
	Clear
	Secret
)

const (
	Nop Op = iota

	Ldi // Out = Imm
	Add // Out = A + B
	Sub
	Mul
	Div
	Mod
	Lt // Out = A < B
	Gt
	Eq

	Ldm  // Out = mem[Imm]
	Stm  // mem[Imm] = A
	Ldmi // Out = mem[A]
	Stmi // mem[B] = A

	Lds    // Out = share(Imm)
	Sadd   // Out = A + B, share-local
	Ssub   // Out = A - B, share-local
	Smul   // Out = A * B, one triple and one round
	Slt    // Out = A < B over shares
	Reveal // Out = open(A), one round

	Ldarg // Out = thread argument
	Starg // thread argument = A

	RunTape
	JoinTape
	CallTape
)

var opNames = []string{
	Nop: "nop", Ldi: "ldi",
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	Lt: "lt", Gt: "gt", Eq: "eq",
	Ldm: "ldm", Stm: "stm", Ldmi: "ldmi", Stmi: "stmi",
	Lds: "lds", Sadd: "sadd", Ssub: "ssub", Smul: "smul", Slt: "slt", Reveal: "reveal",
	Ldarg: "ldarg", Starg: "starg",
	RunTape: "run_tape", JoinTape: "join_tape", CallTape: "call_tape",
}

func (k Kind) Public() bool { return k != Secret }

func (k Kind) String() string {
	switch k {
	case Int:
		return "ci"
	case Clear:
		return "c"
	case Secret:
		return "s"
	}

	return "?"
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}

	return "op?"
}

// Cost is the symbolic communication estimate of one instruction.
// Local operations are free.
func (i *Instr) Cost() Cost {
	switch i.Op {
	case Smul:
		return Cost{"triple": 1, "round": 1}
	case Slt:
		return Cost{"triple": 2, "round": 2}
	case Reveal:
		return Cost{"open": 1, "round": 1}
	}

	return nil
}

// SideEffects reports whether the instruction does more than write Out.
func (i *Instr) SideEffects() bool {
	switch i.Op {
	case Stm, Stmi, Starg, RunTape, JoinTape, CallTape:
		return true
	}

	return false
}

// Reads lists the registers the instruction reads.
func (i *Instr) Reads(f func(Reg)) {
	zero := Reg{}

	if i.A != zero {
		f(i.A)
	}

	if i.B != zero {
		f(i.B)
	}

	if i.Call != nil {
		for _, a := range i.Call.Args {
			if !a.Result {
				f(a.Caller)
			}
		}
	}
}
