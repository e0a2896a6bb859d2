package flow

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/nikandfor/hacked/hfmt"

	"github.com/weftlang/weft/compiler/tape"
)

type (
	// ValueType describes one argument or result structurally.  Two
	// calls share a compiled instance iff their types compare equal,
	// storage identity plays no part.
	ValueType struct {
		Kind tape.Kind
		Size int32
		Len  int64 // container length, 0 for a scalar
	}

	// Subroutine compiles its body once per signature into the calling
	// tape and reuses it from every call site.  Scalar arguments and
	// results pass through memory cells, an array argument passes its
	// base through the tape argument register, and the return address
	// goes through a cell holding the continuation block handle.
	Subroutine struct {
		Name string
		Body func(c *Ctx, args []tape.Reg) []tape.Reg

		compiled map[string]*subInstance
	}

	subInstance struct {
		tape    *tape.Tape
		entry   *tape.BasicBlock
		ret     *MemValue
		formals []*MemValue
		results []*MemValue
		req     *tape.ReqNode
	}

	// Function compiles its body into a separate tape per signature
	// and invokes it with register marshaling.  Results are declared
	// up front so a recursive call can resolve to its own instance
	// before the body is done compiling.
	Function struct {
		Name    string
		Results []ValueType
		Body    func(c *Ctx, args []tape.Reg) []tape.Reg

		instances map[string]*fnInstance
	}

	fnInstance struct {
		tape    *tape.Tape
		formals []tape.Reg
		results []tape.Reg
	}

	// Cell is one slot viewed through a public address.  Top-level
	// cells hold a compile-time address; method formals view their
	// receiver through an address register instead.
	Cell struct {
		Kind tape.Kind
		Addr Value
	}

	// Object is a named bag of cells.  Methods compile into tapes
	// memoized per member shape, so same-shaped objects share them.
	Object struct {
		Name    string
		Members map[string]*Cell
	}
)

func Scalar(k tape.Kind) ValueType { return ValueType{Kind: k, Size: 1} }

func Container(k tape.Kind, n int64) ValueType { return ValueType{Kind: k, Size: 1, Len: n} }

func (t ValueType) tlogAppend(b []byte) []byte {
	if t.Len > 0 {
		return hfmt.Appendf(b, "[%d]%v", t.Len, t.Kind)
	}

	if t.Size > 1 {
		return hfmt.Appendf(b, "%vx%d", t.Kind, t.Size)
	}

	return hfmt.Appendf(b, "%v", t.Kind)
}

func signature(types []ValueType) string {
	b := []byte("(")

	for i, t := range types {
		if i != 0 {
			b = append(b, ',')
		}

		b = t.tlogAppend(b)
	}

	return string(append(b, ')'))
}

func typesOf(c *Ctx, args []any) []ValueType {
	ts := make([]ValueType, len(args))

	for i, a := range args {
		ts[i] = c.argType(a)
	}

	return ts
}

func (c *Ctx) argType(a any) ValueType {
	switch a := a.(type) {
	case tape.Reg:
		return ValueType{Kind: a.Kind, Size: a.Size}
	case Value:
		return Scalar(tape.Int)
	case *Array:
		return Container(a.Kind, a.Len)
	}

	tape.Unsupportedf("call", "unsupported argument type %T", a)
	return ValueType{}
}

// argReg materializes one call argument; containers pass their base
// address.
func (c *Ctx) argReg(a any) tape.Reg {
	switch a := a.(type) {
	case tape.Reg:
		return a
	case Value:
		return c.Reg(a)
	case *Array:
		return c.Reg(a.Base)
	}

	tape.Unsupportedf("call", "unsupported argument type %T", a)
	return tape.Reg{}
}

func NewSubroutine(name string, body func(c *Ctx, args []tape.Reg) []tape.Reg) *Subroutine {
	return &Subroutine{
		Name:     name,
		Body:     body,
		compiled: map[string]*subInstance{},
	}
}

func (s *Subroutine) Call(c *Ctx, args ...any) []tape.Reg {
	types := typesOf(c, args)
	sig := signature(types)

	inst, ok := s.compiled[sig]
	if !ok {
		inst = s.compile(c, types)
		s.compiled[sig] = inst
	}

	if inst.tape != c.T {
		tape.Structuralf(s.Name, "unknown subroutine: compiled into tape %v, called from %v", inst.tape.Name, c.T.Name)
	}

	for i, a := range args {
		if types[i].Len > 0 {
			c.emit(&tape.Instr{Op: tape.Starg, A: c.argReg(a)})
			continue
		}

		inst.formals[i].Write(c, c.argReg(a))
	}

	// resume handle, patched once the continuation block exists
	r := c.T.NewReg(tape.Int, 1)
	ldi := c.emit(&tape.Instr{Op: tape.Ldi, Out: r})
	inst.ret.Write(c, r)

	// the body runs once more per call site
	ch := c.Block().Req.AddChild(tape.SumCosts, s.Name)
	ch.Nodes[0] = inst.req

	c.Block().SetExit(tape.Exit{Kind: tape.Jump, To: inst.entry.Index})

	cont := c.T.StartBlock(c.Block().Scope, "call-ret", nil)
	ldi.Imm = int64(cont.Index)

	return c.Unmemorize(inst.results)
}

func (s *Subroutine) compile(c *Ctx, types []ValueType) *subInstance {
	caller := c.Block()

	inst := &subInstance{
		tape: c.T,
		ret:  c.NewMemValue(tape.Int),
		req:  &tape.ReqNode{Label: s.Name},
	}

	inst.formals = make([]*MemValue, len(types))

	containers := 0
	for i, t := range types {
		if t.Len > 0 {
			containers++
			continue
		}

		inst.formals[i] = c.NewMemValue(t.Kind)
	}

	if containers > 1 {
		tape.Unsupportedf(s.Name, "only one array argument can ride the tape argument")
	}

	inst.entry = c.T.StartBlock(nil, s.Name, inst.req)

	args := make([]tape.Reg, len(types))
	for i := range args {
		if types[i].Len > 0 {
			args[i] = c.Reg(c.Arg())
			continue
		}

		args[i] = inst.formals[i].Read(c)
	}

	inst.results = c.Memorize(s.Body(c, args))

	addr := inst.ret.Read(c)
	c.Block().SetExit(tape.Exit{Kind: tape.Indirect, Addr: addr})

	c.T.Subroutines[inst.entry] = int64(inst.entry.Index)

	c.T.Active = caller

	return inst
}

// formalKind is the register domain a formal of the given type
// occupies; containers degrade to their public base address.
func formalKind(t ValueType) tape.Kind {
	if t.Len > 0 {
		return tape.Int
	}

	return t.Kind
}

func NewFunction(name string, results []ValueType, body func(c *Ctx, args []tape.Reg) []tape.Reg) *Function {
	return &Function{
		Name:      name,
		Results:   results,
		Body:      body,
		instances: map[string]*fnInstance{},
	}
}

func (f *Function) Call(c *Ctx, args ...any) []tape.Reg {
	types := typesOf(c, args)
	sig := signature(types)

	inst, ok := f.instances[sig]
	if !ok {
		inst = f.instantiate(c, sig, types)
	}

	if inst.tape.RanThreads && inst.tape.Pool != c.T.Pool {
		tape.Configf(f.Name, "tape %v spawned threads under another pool, cannot call it from %v", inst.tape.Name, c.T.Name)
	}

	spec := &tape.CallSpec{Tape: inst.tape.Index}

	for i, a := range args {
		spec.Args = append(spec.Args, tape.CallArg{Caller: c.argReg(a), Callee: inst.formals[i]})
	}

	out := make([]tape.Reg, len(inst.results))
	for i, r := range inst.results {
		out[i] = c.T.NewReg(r.Kind, r.Size)
		spec.Args = append(spec.Args, tape.CallArg{Result: true, Caller: out[i], Callee: r})
	}

	c.T.BreakPoint("call")
	c.emit(&tape.Instr{Op: tape.CallTape, Call: spec})
	c.T.BreakPoint("call-ret")

	return out
}

func (f *Function) instantiate(c *Ctx, sig string, types []ValueType) *fnInstance {
	t := c.Prog.NewTape(f.Name+sig, c.T.Pool)

	inst := &fnInstance{tape: t}

	// registered before the body compiles so recursion resolves here
	f.instances[sig] = inst

	inst.formals = make([]tape.Reg, len(types))
	for i, tp := range types {
		inst.formals[i] = t.NewReg(formalKind(tp), tp.Size)
	}

	inst.results = make([]tape.Reg, len(f.Results))
	for i, tp := range f.Results {
		inst.results[i] = t.NewReg(tp.Kind, tp.Size)
	}

	prev := c.Prog.SetCurrent(t)
	cc := &Ctx{Prog: c.Prog, T: t}

	rs := f.Body(cc, inst.formals)
	if len(rs) != len(inst.results) {
		tape.Structuralf(f.Name, "body returned %d values, %d declared", len(rs), len(inst.results))
	}

	for i, r := range rs {
		if r.Kind != inst.results[i].Kind {
			tape.Unsupportedf(f.Name, "result %d is %v, declared %v", i, r.Kind, inst.results[i].Kind)
		}

		cc.movReg(inst.results[i], r)
	}

	t.ReturnValues = inst.results

	c.Prog.SetCurrent(prev)

	return inst
}

// Export instantiates the function for the given argument types under
// its stable name so the tape can be invoked from outside the program.
func (f *Function) Export(c *Ctx, types ...ValueType) *tape.Tape {
	sig := signature(types)

	nameKey := "export-name:" + f.Name

	if prev, ok := c.Prog.Memo[nameKey]; ok && prev != any(f) {
		tape.Configf(f.Name, "export name already taken by another function")
	}

	c.Prog.Memo[nameKey] = f

	key := "export:" + f.Name + sig

	if prev, ok := c.Prog.Memo[key]; ok {
		return prev.(*fnInstance).tape
	}

	inst, ok := f.instances[sig]
	if !ok {
		inst = f.instantiate(c, sig, types)
	}

	c.Prog.Memo[key] = inst

	if d := c.Prog.ExportDir; d != "" {
		desc := hfmt.Appendf(nil, "%s%s -> tape %d\nresults %s\n", f.Name, sig, inst.tape.Index, signature(f.Results))

		file := filepath.Join(d, exportFile(f.Name, types))

		if _, err := os.Stat(file); err == nil {
			tape.Configf(f.Name, "export descriptor %v already exists", filepath.Base(file))
		}

		err := os.WriteFile(file, desc, 0o644)
		if err != nil {
			tape.Configf(f.Name, "write export descriptor: %v", err)
		}
	}

	return inst.tape
}

// exportFile names the descriptor per instantiation, so exporting the
// same function for two argument lists keeps both descriptors.
func exportFile(name string, types []ValueType) string {
	b := []byte(name)

	for _, t := range types {
		b = append(b, '-')
		b = t.tlogAppend(b)
	}

	return string(append(b, ".export"...))
}

func (c *Ctx) NewObject(name string) *Object {
	return &Object{Name: name, Members: map[string]*Cell{}}
}

// Member returns the named cell, allocating it on first use.
func (o *Object) Member(c *Ctx, name string, k tape.Kind) *Cell {
	if m, ok := o.Members[name]; ok {
		if m.Kind != k {
			tape.Unsupportedf(o.Name, "member %v is %v, requested %v", name, m.Kind, k)
		}

		return m
	}

	m := &Cell{Kind: k, Addr: C(c.Prog.Malloc(1, k))}
	o.Members[name] = m

	return m
}

func (l *Cell) Read(c *Ctx) tape.Reg {
	return c.Load(l.Kind, l.Addr)
}

func (l *Cell) Write(c *Ctx, r tape.Reg) {
	if r.Kind != l.Kind {
		tape.Unsupportedf("cell", "cannot store %v register into %v cell", r.Kind, l.Kind)
	}

	c.Store(r, l.Addr)
}

func (o *Object) memberNames() []string {
	names := make([]string, 0, len(o.Members))

	for n := range o.Members {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

func (o *Object) shape() string {
	var b []byte

	for _, n := range o.memberNames() {
		b = hfmt.Appendf(b, "%s:%v;", n, o.Members[n].Kind)
	}

	return string(b)
}

// MethodTape invokes the method through a call tape memoized per
// receiver shape.  The member set is fixed for the duration of the
// call: the body may rewrite cells but not grow or shrink the object.
func (o *Object) MethodTape(c *Ctx, method string, body func(c *Ctx, o *Object, args []tape.Reg) []tape.Reg, args ...any) []tape.Reg {
	types := typesOf(c, args)
	names := o.memberNames()

	key := "method:" + method + ":" + o.shape() + signature(types)

	inst, ok := c.Prog.Memo[key].(*fnInstance)
	if !ok {
		inst = o.compileMethod(c, method, body, names, types)
		c.Prog.Memo[key] = inst
	}

	spec := &tape.CallSpec{Tape: inst.tape.Index}

	// member addresses first, arguments after, matching the formals
	for i, n := range names {
		spec.Args = append(spec.Args, tape.CallArg{Caller: c.Reg(o.Members[n].Addr), Callee: inst.formals[i]})
	}

	for i, a := range args {
		spec.Args = append(spec.Args, tape.CallArg{Caller: c.argReg(a), Callee: inst.formals[len(names)+i]})
	}

	out := make([]tape.Reg, len(inst.results))
	for i, r := range inst.results {
		out[i] = c.T.NewReg(r.Kind, r.Size)
		spec.Args = append(spec.Args, tape.CallArg{Result: true, Caller: out[i], Callee: r})
	}

	c.T.BreakPoint("call")
	c.emit(&tape.Instr{Op: tape.CallTape, Call: spec})
	c.T.BreakPoint("call-ret")

	return out
}

func (o *Object) compileMethod(c *Ctx, method string, body func(c *Ctx, o *Object, args []tape.Reg) []tape.Reg, names []string, types []ValueType) *fnInstance {
	t := c.Prog.NewTape(o.Name+"."+method, c.T.Pool)

	inst := &fnInstance{tape: t}

	inst.formals = make([]tape.Reg, 0, len(names)+len(types))

	recv := &Object{Name: o.Name, Members: map[string]*Cell{}}

	for _, n := range names {
		r := t.NewReg(tape.Int, 1)
		inst.formals = append(inst.formals, r)
		recv.Members[n] = &Cell{Kind: o.Members[n].Kind, Addr: R(r)}
	}

	argRegs := make([]tape.Reg, len(types))
	for i, tp := range types {
		argRegs[i] = t.NewReg(formalKind(tp), tp.Size)
		inst.formals = append(inst.formals, argRegs[i])
	}

	prev := c.Prog.SetCurrent(t)
	cc := &Ctx{Prog: c.Prog, T: t}

	rs := body(cc, recv, argRegs)

	if len(recv.Members) != len(names) {
		tape.Structuralf(method, "method changed the member set of %v", o.Name)
	}

	for _, n := range names {
		if _, ok := recv.Members[n]; !ok {
			tape.Structuralf(method, "method changed the member set of %v", o.Name)
		}
	}

	inst.results = rs
	t.ReturnValues = rs

	c.Prog.SetCurrent(prev)

	return inst
}

func (c *Ctx) movReg(dst, src tape.Reg) {
	if dst == src {
		return
	}

	if dst.Kind == tape.Secret {
		c.emit(&tape.Instr{Op: tape.Sadd, Out: dst, A: src, B: c.Secret(0)})
		return
	}

	c.emit(&tape.Instr{Op: tape.Add, Out: dst, A: src, B: c.Int(0)})
}
