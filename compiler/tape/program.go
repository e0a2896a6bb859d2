package tape

type (
	// Program owns the tapes, the data memory and the thread slots of
	// one compilation.  Compilation is single threaded; Cur points at
	// the tape under construction.
	Program struct {
		Name string

		Tapes []*Tape
		Cur   *Tape

		// Budget bounds adaptive loop unrolling, in instructions per
		// batch.
		Budget int

		// PreventBreaks keeps break points from cutting blocks while a
		// batch is unrolled.
		PreventBreaks bool

		// NRunningThreads is the thread count of the multithread
		// section whose bodies are under compilation, zero outside
		// one.
		NRunningThreads int

		// ExportDir receives descriptors of exported instantiations
		// when set.
		ExportDir string

		// Memo caches compiled instantiations across the program:
		// call tapes, method tapes, exported entry points.
		Memo map[string]any

		Pool *Pool

		next     [3]int64
		free     map[memKey][]int64
		deferred []memChunk
	}

	// Handle names one spawned tape occupying one thread slot.
	Handle struct {
		Tape int
		Slot int
	}

	memKey struct {
		kind Kind
		size int64
	}

	memChunk struct {
		addr int64
		size int64
		kind Kind
	}
)

const DefaultBudget = 1000

func NewProgram(name string) *Program {
	p := &Program{
		Name:   name,
		Budget: DefaultBudget,
		Memo:   map[string]any{},
		Pool:   newPool(),
		free:   map[memKey][]int64{},
	}

	root := newTape(p, 0, "main", p.Pool)
	root.Singular = true

	p.Tapes = append(p.Tapes, root)
	p.Cur = root

	return p
}

func (p *Program) Main() *Tape { return p.Tapes[0] }

// NewTape registers a fresh tape without making it current; the caller
// switches with SetCurrent around compiling the body.
func (p *Program) NewTape(name string, pool *Pool) *Tape {
	if pool == nil {
		pool = newPool()
	}

	t := newTape(p, len(p.Tapes), name, pool)
	p.Tapes = append(p.Tapes, t)

	return t
}

func (p *Program) SetCurrent(t *Tape) (prev *Tape) {
	prev = p.Cur
	p.Cur = t

	return prev
}

// Malloc reserves size cells in the kind's data segment, reusing freed
// chunks of the same shape.
func (p *Program) Malloc(size int64, k Kind) int64 {
	key := memKey{kind: k, size: size}

	if l := p.free[key]; len(l) != 0 {
		addr := l[len(l)-1]
		p.free[key] = l[:len(l)-1]

		return addr
	}

	addr := p.next[k]
	p.next[k] += size

	return addr
}

func (p *Program) Free(addr, size int64, k Kind) {
	key := memKey{kind: k, size: size}
	p.free[key] = append(p.free[key], addr)
}

// FreeLater defers a free until after the current spawn/join round, so
// spawned tapes never observe reused memory.
func (p *Program) FreeLater(addr, size int64, k Kind) {
	p.deferred = append(p.deferred, memChunk{addr: addr, size: size, kind: k})
}

func (p *Program) FreeDeferred() {
	for _, c := range p.deferred {
		p.Free(c.addr, c.size, c.kind)
	}

	p.deferred = p.deferred[:0]
}

// MemSize is the high-water mark of the kind's data segment.
func (p *Program) MemSize(k Kind) int64 { return p.next[k] }

// RunTapes issues a single run request for all pairs and marks the
// current tape as having spawned threads.
func (p *Program) RunTapes(runs []TapeRun) []Handle {
	hs := make([]Handle, len(runs))

	for i := range runs {
		runs[i].Slot = p.Cur.Pool.Get()
		hs[i] = Handle{Tape: runs[i].Tape, Slot: runs[i].Slot}
	}

	p.Cur.Emit(&Instr{Op: RunTape, Run: runs})
	p.Cur.RanThreads = true

	return hs
}

// JoinTape resolves the compile-time bookkeeping for one handle and
// releases its slot.
func (p *Program) JoinTape(h Handle) {
	p.Cur.Emit(&Instr{Op: JoinTape, Imm: int64(h.Slot)})
	p.Cur.Pool.Put(h.Slot)
}

// Finalize finalizes every tape.  No partially compiled program is
// handed to the runtime layer: any structural leftover aborts here.
func (p *Program) Finalize() {
	for _, t := range p.Tapes {
		t.Finalize()
	}
}
