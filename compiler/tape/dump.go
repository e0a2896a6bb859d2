package tape

import "github.com/nikandfor/hacked/hfmt"

// Dump appends a readable disassembly of the tape, one block per
// paragraph.
func (t *Tape) Dump(b []byte) []byte {
	b = hfmt.Appendf(b, "tape %d %v (%d blocks)\n", t.Index, t.Name, len(t.Blocks))

	for _, blk := range t.Blocks {
		b = blk.dump(b)
	}

	return b
}

func (b *BasicBlock) dump(d []byte) []byte {
	d = hfmt.Appendf(d, "%4d %v:\n", b.Index, b.Label)

	for _, i := range b.Instrs {
		d = i.dump(d)
	}

	switch b.Exit.Kind {
	case None:
		d = hfmt.Appendf(d, "\t-> %d\n", b.Index+1)
	case Jump:
		d = hfmt.Appendf(d, "\tjmp %d\n", b.Exit.To)
	case BranchNZ:
		d = hfmt.Appendf(d, "\tjmpnz %v, %d\n", b.Exit.Cond, b.Exit.To)
	case BranchEZ:
		d = hfmt.Appendf(d, "\tjmpeqz %v, %d\n", b.Exit.Cond, b.Exit.To)
	case Indirect:
		d = hfmt.Appendf(d, "\tjmpi %v\n", b.Exit.Addr)
	case Return:
		d = hfmt.Appendf(d, "\tret\n")
	}

	return d
}

func (i *Instr) dump(d []byte) []byte {
	d = hfmt.Appendf(d, "\t%v", i.Op)

	zero := Reg{}

	if i.Out != zero {
		d = hfmt.Appendf(d, "\t%v", i.Out)
	}

	if i.A != zero {
		d = hfmt.Appendf(d, ", %v", i.A)
	}

	if i.B != zero {
		d = hfmt.Appendf(d, ", %v", i.B)
	}

	switch i.Op {
	case Ldi, Lds, Ldm, Stm, JoinTape:
		d = hfmt.Appendf(d, ", #%d", i.Imm)
	case RunTape:
		for _, r := range i.Run {
			d = hfmt.Appendf(d, " (tape %d slot %d arg %d)", r.Tape, r.Slot, r.Arg)
		}
	case CallTape:
		d = hfmt.Appendf(d, " tape %d, %d args", i.Call.Tape, len(i.Call.Args))
	}

	d = append(d, '\n')

	return d
}

func (r Reg) String() string {
	return string(hfmt.Appendf(nil, "%v%d", r.Kind, r.ID))
}
