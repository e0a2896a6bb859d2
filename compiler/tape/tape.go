package tape

import (
	mapset "github.com/deckarep/golang-set/v2"
	"tlog.app/go/loc"
)

type (
	// Tape is one compiled control-flow unit: an arena of basic blocks
	// plus the transient compilation context (active block, if-state
	// stack, break lists, scope stack).  The context is per tape, so
	// spawning a thread tape pushes a fresh context instead of
	// mutating process globals.
	Tape struct {
		Prog  *Program
		Index int
		Name  string

		Blocks []*BasicBlock
		Active *BasicBlock
		Root   *ReqNode

		// Singular tapes run exactly once (the root tape and
		// function tapes called from it).
		Singular   bool
		RanThreads bool
		Pool       *Pool

		ReturnValues []Reg

		// Subroutines maps an in-tape subroutine entry block to the
		// memory cell holding its return address.
		Subroutines map[*BasicBlock]int64

		// Eliminable collects registers that only fed exit conditions
		// of merged-away blocks; the peephole pass may drop their
		// producers.
		Eliminable mapset.Set[Reg]

		IfStates   []*IfState
		LoopBreaks [][]*BasicBlock

		scopes []scopeFrame

		regID [3]int32

		Finalized bool
	}

	// IfState tracks one open conditional between IfThen and EndIf.
	IfState struct {
		Static bool
		Taken  bool // Static only: compile-time condition value

		Cond  Reg
		Start *BasicBlock
		Child *ReqChild

		ExitBlock *BasicBlock // tail of the then arm, set by ElseThen
		ElseBlock *BasicBlock
		HasElse   bool
		ClosedIf  bool

		At loc.PC
	}

	scopeFrame struct {
		orig   *BasicBlock
		parent *ReqNode
		label  string
	}
)

func newTape(p *Program, index int, name string, pool *Pool) *Tape {
	t := &Tape{
		Prog:        p,
		Index:       index,
		Name:        name,
		Root:        &ReqNode{Label: name},
		Pool:        pool,
		Subroutines: map[*BasicBlock]int64{},
		Eliminable:  mapset.NewThreadUnsafeSet[Reg](),
	}

	t.StartBlock(nil, name+"-entry", t.Root)

	return t
}

func (t *Tape) NewReg(k Kind, size int32) Reg {
	t.regID[k]++

	return Reg{Kind: k, Size: size, ID: t.regID[k]}
}

// StartBlock appends a fresh block to the arena and makes it active.
// A nil req attaches the block to the active block's node.
func (t *Tape) StartBlock(scope *BasicBlock, label string, req *ReqNode) *BasicBlock {
	if req == nil {
		req = t.Active.Req
	}

	b := &BasicBlock{
		Index: len(t.Blocks),
		Label: label,
		Req:   req,
		Scope: scope,
	}

	req.AddBlock(b)

	t.Blocks = append(t.Blocks, b)
	t.Active = b

	return b
}

// BreakPoint cuts the current block so that scheduling-sensitive
// instructions sit at a block boundary.  Suppressed while a loop batch
// is being unrolled.
func (t *Tape) BreakPoint(label string) {
	if t.Prog.PreventBreaks {
		return
	}

	t.StartBlock(t.Active.Scope, label, t.Active.Req)
}

func (t *Tape) Emit(i *Instr) *Instr {
	return t.Active.Push(i)
}

// OpenScope starts a nested region: a new cost child under the active
// node and a new block under that child.  Must be paired with
// CloseScope in LIFO order.
func (t *Tape) OpenScope(agg Aggregator, label string) *ReqChild {
	orig := t.Active
	child := orig.Req.AddChild(agg, label)

	t.scopes = append(t.scopes, scopeFrame{orig: orig, parent: orig.Req, label: label})

	t.StartBlock(orig, label, child.Nodes[0])

	return child
}

// CloseScope ends the innermost region: allocates the continuation
// block under the parent node and restores the active-block level.
// The arguments must match the corresponding OpenScope.
func (t *Tape) CloseScope(orig *BasicBlock, parent *ReqNode, label string) {
	if len(t.scopes) == 0 {
		Structuralf(label, "scope close without open")
	}

	f := t.scopes[len(t.scopes)-1]
	t.scopes = t.scopes[:len(t.scopes)-1]

	if f.orig != orig || f.parent != parent {
		Structuralf(label, "scope close does not match open %v", f.label)
	}

	t.StartBlock(orig.Scope, label, parent)
}

func (t *Tape) ScopeDepth() int { return len(t.scopes) }

// Aggregate estimates the communication cost of the whole tape.
func (t *Tape) Aggregate() Cost {
	return t.Root.Aggregate()
}

// Finalize checks the structural invariants and wires the last block.
// A tape with an open scope, conditional, or break list never reaches
// the runtime layer.
func (t *Tape) Finalize() {
	if t.Finalized {
		return
	}

	if len(t.scopes) != 0 {
		Structuralf(t.Name, "unclosed scope %v", t.scopes[len(t.scopes)-1].label)
	}

	if len(t.IfStates) != 0 {
		Structuralf(t.Name, "unclosed if block")
	}

	if len(t.LoopBreaks) != 0 {
		Structuralf(t.Name, "unclosed loop")
	}

	last := t.Blocks[len(t.Blocks)-1]
	if last.Exit.Kind == None {
		last.Exit = Exit{Kind: Return}
	}

	for _, b := range t.Blocks {
		switch b.Exit.Kind {
		case Jump, BranchNZ, BranchEZ:
			if b.Exit.To < 0 || b.Exit.To >= len(t.Blocks) {
				Structuralf(b.Label, "block %d exit into the void", b.Index)
			}
		}
	}

	t.Finalized = true
}
