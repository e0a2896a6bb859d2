// Package opt is the clear-register peephole pass.  It runs in place
// on one basic block right after the loop compiler unrolls a batch,
// and again on blocks produced by merging loop wrappers.
package opt

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/weftlang/weft/compiler/tape"
)

// Optimize folds public-integer constants, rewrites indirect memory
// access with a known address into direct access, and drops dead
// producers of registers the tape marked eliminable.
func Optimize(b *tape.BasicBlock, t *tape.Tape) {
	consts := map[tape.Reg]int64{}

	known := func(r tape.Reg) (int64, bool) {
		v, ok := consts[r]
		return v, ok
	}

	for _, i := range b.Instrs {
		switch i.Op {
		case tape.Ldi:
			consts[i.Out] = i.Imm
			continue

		case tape.Add, tape.Sub, tape.Mul, tape.Div, tape.Mod, tape.Lt, tape.Gt, tape.Eq:
			x, okx := known(i.A)
			y, oky := known(i.B)

			if okx && oky && foldable(i.Op, y) {
				i.Imm = fold(i.Op, x, y)
				i.Op = tape.Ldi
				i.A = tape.Reg{}
				i.B = tape.Reg{}

				consts[i.Out] = i.Imm

				continue
			}

		case tape.Ldmi:
			if a, ok := known(i.A); ok {
				i.Op = tape.Ldm
				i.Imm = a
				i.A = tape.Reg{}
			}

		case tape.Stmi:
			if a, ok := known(i.B); ok {
				i.Op = tape.Stm
				i.Imm = a
				i.B = tape.Reg{}
			}
		}

		// anything else writing Out invalidates its cached value
		if i.Out != (tape.Reg{}) {
			delete(consts, i.Out)
		}
	}

	eliminate(b, t)
}

// eliminate drops instructions whose only consumer was an exit
// condition of a merged-away block.  Any later read in the same block
// or in the exit keeps the producer.
func eliminate(b *tape.BasicBlock, t *tape.Tape) {
	if t.Eliminable == nil || t.Eliminable.Cardinality() == 0 {
		return
	}

	read := mapset.NewThreadUnsafeSet[tape.Reg]()
	b.ExitReads(func(r tape.Reg) { read.Add(r) })

	keep := make([]*tape.Instr, 0, len(b.Instrs))

	for j := len(b.Instrs) - 1; j >= 0; j-- {
		i := b.Instrs[j]

		dead := !i.SideEffects() &&
			i.Out != (tape.Reg{}) &&
			t.Eliminable.Contains(i.Out) &&
			!read.Contains(i.Out)

		if dead {
			continue
		}

		i.Reads(func(r tape.Reg) { read.Add(r) })

		keep = append(keep, i)
	}

	// the backward walk reversed the survivors
	for l, r := 0, len(keep)-1; l < r; l, r = l+1, r-1 {
		keep[l], keep[r] = keep[r], keep[l]
	}

	b.Instrs = keep
}

func foldable(op tape.Op, y int64) bool {
	return (op != tape.Div && op != tape.Mod) || y != 0
}

func fold(op tape.Op, x, y int64) int64 {
	switch op {
	case tape.Add:
		return x + y
	case tape.Sub:
		return x - y
	case tape.Mul:
		return x * y
	case tape.Div:
		return x / y
	case tape.Mod:
		return x % y
	case tape.Lt:
		return b2i(x < y)
	case tape.Gt:
		return b2i(x > y)
	case tape.Eq:
		return b2i(x == y)
	}

	return 0
}

func b2i(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
