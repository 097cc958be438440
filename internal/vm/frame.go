package vm

import (
	"xvm/internal/asm"
)

// VarState is the assignment state of a register.
type VarState uint8

const (
	Unassigned VarState = iota
	Assigned
	// AssignedOnce marks a final register that can no longer change.
	AssignedOnce
)

// VarInfo is the metadata of one register.
type VarInfo struct {
	Type    *Type
	Name    string
	Final   bool
	Dynamic bool // may hold an unresolved future
	State   VarState
}

type guardKind uint8

const (
	guardCatch guardKind = iota
	guardAll
)

type catchClause struct {
	typ     *Type
	reg     int // register index
	handler int // absolute pc
}

// guard is one entry of the guard stack. scope is the scope depth the
// guard opened; it never exceeds the frame's current depth.
type guard struct {
	kind    guardKind
	scope   int
	clauses []catchClause
	finally int // pc of the FINALLY op
	stack   int // operand stack height at entry
}

type exitKind uint8

const (
	exitNormal exitKind = iota
	exitFault
	exitReturn
)

// pendingExit is how a finally body was entered; FINALLY_END completes it.
// scope is the depth of the finally body's own scope.
type pendingExit struct {
	kind   exitKind
	scope  int
	fault  *ExceptionHandle
	values []Handle
}

// Frame is one activation of a method body.
type Frame struct {
	fiber  *Fiber
	Method *Method
	This   Handle
	chain  *CallChain
	depth  int
	pc     int

	regs    []Handle
	vars    []VarInfo
	nextVar int
	stack   []Handle
	scopes  []int // register high-water mark at each scope entry
	guards  []guard
	pending []pendingExit

	// Local is the frame-local scratch slot (the local operand).
	Local Handle

	rets    []int    // targets in the caller
	results []Handle // set when the frame returns
	cont    Continuation

	resume    Continuation
	blockedOn *FutureHandle
	fault     *ExceptionHandle
}

func newFrame(fb *Fiber, m *Method, this Handle, chain *CallChain, depth int) *Frame {
	n := m.Body.MaxVars
	return &Frame{
		fiber:  fb,
		Method: m,
		This:   this,
		chain:  chain,
		depth:  depth,
		regs:   make([]Handle, n),
		vars:   make([]VarInfo, n),
	}
}

// Fiber returns the fiber running the frame.
func (f *Frame) Fiber() *Fiber { return f.fiber }

// Service returns the service the frame runs in.
func (f *Frame) Service() *ServiceContext { return f.fiber.svc }

// Runtime returns the owning runtime.
func (f *Frame) Runtime() *Runtime { return f.fiber.svc.rt }

// Registry returns the linked type registry.
func (f *Frame) Registry() *Registry { return f.fiber.svc.rt.reg }

// PC returns the pc of the current op.
func (f *Frame) PC() int { return f.pc }

// Depth returns the chain depth the frame's body was dispatched at.
func (f *Frame) Depth() int { return f.depth }

// ScopeDepth returns the number of open scopes.
func (f *Frame) ScopeDepth() int { return len(f.scopes) }

// GuardScopes returns the owning scope of every active guard, outermost
// first.
func (f *Frame) GuardScopes() []int {
	out := make([]int, len(f.guards))
	for i, g := range f.guards {
		out[i] = g.scope
	}
	return out
}

// Vars returns a copy of the register metadata.
func (f *Frame) Vars() []VarInfo { return append([]VarInfo(nil), f.vars...) }

// Register returns the raw content of register n.
func (f *Frame) Register(n int) Handle {
	if n < 0 || n >= len(f.regs) {
		return nil
	}
	return f.regs[n]
}

// Then composes k after the outcome of a nested step that returned code.
// RNext runs k right away; R_CALL and R_BLOCK defer it until the child
// frame returns or the awaited future resolves. Any other code already
// decided the frame's fate and k is dropped.
func Then(f *Frame, code int, k Continuation) int {
	switch code {
	case RNext:
		return k(f)
	case RCall:
		child := f.fiber.top()
		prev := child.cont
		child.cont = func(caller *Frame) int {
			if prev == nil {
				return k(caller)
			}
			return Then(caller, prev(caller), k)
		}
		return RCall
	case RBlock:
		prev := f.resume
		f.resume = func(f *Frame) int {
			if prev == nil {
				return k(f)
			}
			return Then(f, prev(f), k)
		}
		return RBlock
	}
	return code
}

// Call pushes a frame running m against target and yields to it. When the
// child returns, its results are assigned to rets of f.
func (f *Frame) Call(m *Method, target Handle, chain *CallChain, depth int, args []Handle, rets []int) int {
	fb := f.fiber
	if len(fb.frames) >= fb.maxDepth {
		return f.Raise(f.Registry().StackOverflow, "call depth exceeds %d", fb.maxDepth)
	}
	if len(args) != m.Body.Params {
		return f.Raise(f.Registry().IllegalArgument, "%s takes %d arguments, got %d", m, m.Body.Params, len(args))
	}
	child := newFrame(fb, m, target, chain, depth)
	child.bindParams(args)
	child.rets = rets
	fb.push(child)
	return RCall
}

func (f *Frame) bindParams(args []Handle) {
	for i, a := range args {
		f.regs[i] = a
		f.vars[i] = VarInfo{State: Assigned}
	}
	f.nextVar = len(args)
}

// complete hands the results of f to caller and runs f's continuation.
func (f *Frame) complete(caller *Frame) int {
	if code := caller.assignResults(f.rets, f.results); code != RNext {
		return code
	}
	if f.cont != nil {
		return f.cont(caller)
	}
	return RNext
}

func (f *Frame) assignResults(rets []int, results []Handle) int {
	for i, r := range rets {
		if i >= len(results) {
			if r == asm.ArgIgnore {
				continue
			}
			return f.Raise(f.Registry().IllegalState, "expected %d results, got %d", len(rets), len(results))
		}
		if code := f.AssignValue(r, results[i]); code != RNext {
			return code
		}
	}
	return RNext
}

// AssignResults writes vals to rets in order. Natives use it for their
// results.
func (f *Frame) AssignResults(rets []int, vals ...Handle) int {
	return f.assignResults(rets, vals)
}

// declare sets the metadata of register n, resetting its content.
func (f *Frame) declare(n int, info VarInfo) {
	f.regs[n] = nil
	f.vars[n] = info
	if n+1 > f.nextVar {
		f.nextVar = n + 1
	}
}

// AssignValue writes v to the result target ret.
func (f *Frame) AssignValue(ret int, v Handle) int {
	switch {
	case asm.IsReg(ret):
		return f.assignRegister(asm.RegisterIndex(ret), v)
	case ret == asm.ArgIgnore:
		return RNext
	case ret == asm.ArgStack:
		f.stack = append(f.stack, v)
		return RNext
	case ret == asm.ArgLocal:
		f.Local = v
		return RNext
	}
	return f.Raise(f.Registry().IllegalArgument, "cannot assign to %s", asm.FormatArg(ret))
}

func (f *Frame) assignRegister(n int, v Handle) int {
	if n >= len(f.regs) {
		return f.Raise(f.Registry().IllegalState, "register r%d out of range", n)
	}
	info := &f.vars[n]
	if info.State == AssignedOnce {
		return f.Raise(f.Registry().IllegalState, "final variable %s is already assigned", varName(info, n))
	}
	if _, isFuture := v.(*FutureHandle); !isFuture || !info.Dynamic {
		if info.Type != nil && !IsNull(v) && !v.Type().IsA(info.Type) {
			return f.Raise(f.Registry().TypeMismatch, "%s of type %s cannot hold %s", varName(info, n), info.Type, v.Type())
		}
	}
	f.regs[n] = v
	if info.Final {
		info.State = AssignedOnce
	} else {
		info.State = Assigned
	}
	if n+1 > f.nextVar {
		f.nextVar = n + 1
	}
	return RNext
}

func varName(info *VarInfo, n int) string {
	if info.Name != "" {
		return info.Name
	}
	return asm.FormatArg(asm.Reg(n))
}

// GetArgument reads one operand. A dynamic register holding an unready
// future yields R_REPEAT and records the future in blockedOn. Deferred
// property reads are returned as they are; the resolver handles them.
// An operand stack read peeks; GetArguments pops once all are ready.
func (f *Frame) GetArgument(arg int) (Handle, int) {
	return f.argument(arg, 0)
}

func (f *Frame) argument(arg, stackOffset int) (Handle, int) {
	reg := f.Registry()
	switch {
	case asm.IsReg(arg):
		n := asm.RegisterIndex(arg)
		if n >= len(f.regs) || f.regs[n] == nil {
			return nil, f.Raise(reg.IllegalState, "register r%d read before assignment", n)
		}
		v := f.regs[n]
		if fut, ok := v.(*FutureHandle); ok {
			if !fut.Done() {
				f.blockedOn = fut
				return nil, RRepeat
			}
			if ex := fut.Fault(); ex != nil {
				return nil, f.RaiseException(ex)
			}
			return fut.Value(), RNext
		}
		return v, RNext
	case asm.IsConst(arg):
		h, ok := reg.Constant(f.Method.Pool, arg, f.This)
		if !ok {
			return nil, f.Raise(reg.IllegalArgument, "constant #%d is not a value", arg)
		}
		return h, RNext
	}
	switch arg {
	case asm.ArgThis:
		if f.This == nil {
			return nil, f.Raise(reg.IllegalState, "%s has no target", f.Method)
		}
		return f.This, RNext
	case asm.ArgStack:
		idx := len(f.stack) - 1 - stackOffset
		if idx < 0 {
			return nil, f.Raise(reg.IllegalState, "operand stack underflow")
		}
		return f.stack[idx], RNext
	case asm.ArgLocal:
		if f.Local == nil {
			return nil, f.Raise(reg.IllegalState, "local slot is empty")
		}
		return f.Local, RNext
	case asm.ArgService:
		return f.Service().Handle(), RNext
	}
	return nil, f.Raise(reg.IllegalArgument, "operand %s cannot be read", asm.FormatArg(arg))
}

// GetArguments reads every operand. It has no side effects unless all of
// them are ready: stack operands are popped only on success, so a repeated
// op sees the same stack. The last stack operand is the top.
func (f *Frame) GetArguments(args []int) ([]Handle, int) {
	pops := 0
	for _, a := range args {
		if a == asm.ArgStack {
			pops++
		}
	}
	out := make([]Handle, len(args))
	seen := 0
	for i, a := range args {
		offset := 0
		if a == asm.ArgStack {
			seen++
			offset = pops - seen
		}
		v, code := f.argument(a, offset)
		if code != RNext {
			return nil, code
		}
		out[i] = v
	}
	if pops > 0 {
		f.stack = f.stack[:len(f.stack)-pops]
	}
	return out, RNext
}

// EnterScope opens a lexical scope.
func (f *Frame) EnterScope() {
	f.scopes = append(f.scopes, f.nextVar)
}

// ExitScope closes the innermost scope, invalidating the registers it
// allocated.
func (f *Frame) ExitScope() {
	if len(f.scopes) == 0 {
		return
	}
	f.unwindTo(len(f.scopes) - 1)
}

// unwindTo closes scopes until depth remain. Guards and pending finally
// exits owned by the closed scopes go with them.
func (f *Frame) unwindTo(depth int) {
	if depth < 0 {
		depth = 0
	}
	for len(f.scopes) > depth {
		mark := f.scopes[len(f.scopes)-1]
		f.scopes = f.scopes[:len(f.scopes)-1]
		for i := mark; i < len(f.regs) && i < f.nextVar; i++ {
			f.regs[i] = nil
			f.vars[i] = VarInfo{}
		}
		f.nextVar = mark
	}
	for len(f.guards) > 0 && f.guards[len(f.guards)-1].scope > depth {
		f.guards = f.guards[:len(f.guards)-1]
	}
	for len(f.pending) > 0 && f.pending[len(f.pending)-1].scope > depth {
		f.pending = f.pending[:len(f.pending)-1]
	}
}

// PushGuard opens a scope owned by g and registers g.
func (f *Frame) PushGuard(g guard) {
	f.EnterScope()
	g.scope = len(f.scopes)
	g.stack = len(f.stack)
	f.guards = append(f.guards, g)
}

// PopGuard removes the innermost guard unfired and closes its scope.
func (f *Frame) PopGuard() (guard, bool) {
	if len(f.guards) == 0 {
		return guard{}, false
	}
	g := f.guards[len(f.guards)-1]
	f.guards = f.guards[:len(f.guards)-1]
	f.unwindTo(g.scope - 1)
	return g, true
}

// RaiseException looks for a guard for ex, innermost first. A matching
// catch clause gets ex bound to its register; a finally guard fires for
// any fault and parks it until FINALLY_END. With no guard left the fault
// escapes the frame.
func (f *Frame) RaiseException(ex *ExceptionHandle) int {
	for len(f.guards) > 0 {
		g := f.guards[len(f.guards)-1]
		f.guards = f.guards[:len(f.guards)-1]
		switch g.kind {
		case guardCatch:
			for _, c := range g.clauses {
				if !ex.Type().IsA(c.typ) {
					continue
				}
				f.enterHandler(g)
				f.declare(c.reg, VarInfo{Type: c.typ})
				f.regs[c.reg] = ex
				f.vars[c.reg].State = Assigned
				return c.handler
			}
		case guardAll:
			f.enterHandler(g)
			f.pending = append(f.pending, pendingExit{kind: exitFault, scope: len(f.scopes), fault: ex})
			return g.finally + 1
		}
	}
	f.unwindTo(0)
	f.fault = ex
	return RException
}

func (f *Frame) enterHandler(g guard) {
	f.unwindTo(g.scope - 1)
	if g.stack < len(f.stack) {
		f.stack = f.stack[:g.stack]
	}
	f.EnterScope()
}

// doReturn completes the frame with values, unless a finally guard is
// active: then the return is parked and the finally body runs first.
func (f *Frame) doReturn(values []Handle) int {
	for len(f.guards) > 0 {
		g := f.guards[len(f.guards)-1]
		f.guards = f.guards[:len(f.guards)-1]
		if g.kind != guardAll {
			continue
		}
		f.enterHandler(g)
		f.pending = append(f.pending, pendingExit{kind: exitReturn, scope: len(f.scopes), values: values})
		return g.finally + 1
	}
	f.unwindTo(0)
	f.results = values
	return RReturn
}

// finallyEnd completes the exit that entered the current finally body.
func (f *Frame) finallyEnd() int {
	if len(f.pending) == 0 {
		return f.Raise(f.Registry().IllegalState, "FINALLY_END without a finally exit")
	}
	p := f.pending[len(f.pending)-1]
	f.pending = f.pending[:len(f.pending)-1]
	f.unwindTo(p.scope - 1)
	switch p.kind {
	case exitFault:
		return f.RaiseException(p.fault)
	case exitReturn:
		return f.doReturn(p.values)
	}
	return RNext
}

// finallyNormal runs when the guarded body reaches FINALLY by falling
// through.
func (f *Frame) finallyNormal() int {
	if len(f.guards) == 0 || f.guards[len(f.guards)-1].kind != guardAll {
		return f.Raise(f.Registry().IllegalState, "FINALLY outside a GUARD_ALL block")
	}
	g := f.guards[len(f.guards)-1]
	f.guards = f.guards[:len(f.guards)-1]
	f.enterHandler(g)
	f.pending = append(f.pending, pendingExit{kind: exitNormal, scope: len(f.scopes)})
	return RNext
}
