package tape

type (
	ExitKind int8

	// Exit is the single block transition.  Targets are block handles
	// into the owning tape's arena, so rewiring never chases pointers.
	Exit struct {
		Kind ExitKind
		Cond Reg // BranchNZ, BranchEZ
		To   int // jump or branch target
		Addr Reg // Indirect
	}

	// BasicBlock is a straight-line instruction sequence with a single
	// entry and a write-once exit.
	BasicBlock struct {
		Index int
		Label string

		Instrs []*Instr
		Exit   Exit

		Req *ReqNode

		// Scope is the block that was active when this block's scope
		// opened; close must restore it in LIFO order.
		Scope *BasicBlock
	}
)

const (
	// None falls through to the next block in tape order.
	None ExitKind = iota
	Jump
	BranchNZ // taken when Cond != 0, falls through otherwise
	BranchEZ // taken when Cond == 0
	Indirect // target block handle read from Addr at runtime
	Return
)

func (b *BasicBlock) Push(i *Instr) *Instr {
	b.Instrs = append(b.Instrs, i)

	return i
}

func (b *BasicBlock) Len() int { return len(b.Instrs) }

// SetExit wires the transition.  A block exits exactly once; a second
// wiring is a structural bug in the construct compiler.
func (b *BasicBlock) SetExit(x Exit) {
	if b.Exit.Kind != None {
		Structuralf(b.Label, "block %d exit set twice", b.Index)
	}

	if x.Kind == BranchNZ || x.Kind == BranchEZ {
		if !x.Cond.Kind.Public() {
			Unsupportedf(b.Label, "cannot branch on a secret value, use oblivious selection instead")
		}
	}

	b.Exit = x
}

// ExitReads lists registers the exit consumes.
func (b *BasicBlock) ExitReads(f func(Reg)) {
	switch b.Exit.Kind {
	case BranchNZ, BranchEZ:
		f(b.Exit.Cond)
	case Indirect:
		f(b.Exit.Addr)
	}
}
