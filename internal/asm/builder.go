package asm

import (
	"errors"
	"fmt"

	"xvm/internal/diag"
)

// ModuleBuilder assembles a Module. Ops reference labels symbolically;
// Build resolves every label once into a relative displacement, validates
// the bodies and freezes the constant pool.
type ModuleBuilder struct {
	mod     *Module
	methods []*MethodBuilder
	errs    []error
}

// NewModuleBuilder starts a module named name.
func NewModuleBuilder(name string) *ModuleBuilder {
	return &ModuleBuilder{mod: &Module{Name: name, Pool: NewPool()}}
}

// Pool returns the module constant pool.
func (mb *ModuleBuilder) Pool() *Pool { return mb.mod.Pool }

// Function starts a module-level function.
func (mb *ModuleBuilder) Function(name string, params, returns int) *MethodBuilder {
	if mb.mod.Function(name) != nil {
		mb.errs = append(mb.errs, &BuildError{Code: diag.LnkDuplicateFunction, Method: name, PC: -1, Msg: "function declared twice"})
	}
	b := mb.newMethod(name, params, returns)
	mb.mod.Functions = append(mb.mod.Functions, b.body)
	return b
}

// Class starts a type declaration.
func (mb *ModuleBuilder) Class(name string, kind ClassKind) *ClassBuilder {
	if mb.mod.Class(name) != nil {
		mb.errs = append(mb.errs, &BuildError{Code: diag.LnkDuplicateType, Method: name, PC: -1, Msg: "type declared twice"})
	}
	decl := &ClassDecl{Name: name, Kind: kind}
	mb.mod.Classes = append(mb.mod.Classes, decl)
	return &ClassBuilder{mb: mb, decl: decl}
}

func (mb *ModuleBuilder) newMethod(name string, params, returns int) *MethodBuilder {
	b := &MethodBuilder{
		mb:     mb,
		body:   &MethodBody{Name: name, Params: params, Returns: returns},
		labels: make(map[string]int),
	}
	mb.methods = append(mb.methods, b)
	return b
}

// Build links and validates every body. The returned error joins all
// *BuildError values found.
func (mb *ModuleBuilder) Build() (*Module, error) {
	errs := append([]error(nil), mb.errs...)
	for _, b := range mb.methods {
		for _, e := range b.link() {
			errs = append(errs, e)
		}
	}
	mb.mod.Pool.Freeze()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return mb.mod, nil
}

// ClassBuilder declares the members of one type.
type ClassBuilder struct {
	mb   *ModuleBuilder
	decl *ClassDecl
}

// Decl returns the declaration under construction.
func (cb *ClassBuilder) Decl() *ClassDecl { return cb.decl }

func (cb *ClassBuilder) Extends(super string) *ClassBuilder {
	cb.decl.Super = super
	return cb
}

func (cb *ClassBuilder) Incorporates(mixins ...string) *ClassBuilder {
	cb.decl.Mixins = append(cb.decl.Mixins, mixins...)
	return cb
}

func (cb *ClassBuilder) Implements(ifaces ...string) *ClassBuilder {
	cb.decl.Implements = append(cb.decl.Implements, ifaces...)
	return cb
}

// Prop declares a stored property; init is a pool index or NoConst.
func (cb *ClassBuilder) Prop(name string, init int) *ClassBuilder {
	cb.decl.Props = append(cb.decl.Props, PropDecl{Name: name, Init: init})
	return cb
}

// PropGetter declares a property computed by the named method.
func (cb *ClassBuilder) PropGetter(name, getter string) *ClassBuilder {
	cb.decl.Props = append(cb.decl.Props, PropDecl{Name: name, Init: NoConst, Getter: getter})
	return cb
}

// Abstract declares methods without a body.
func (cb *ClassBuilder) Abstract(names ...string) *ClassBuilder {
	cb.decl.Abstract = append(cb.decl.Abstract, names...)
	return cb
}

// Method starts a method body.
func (cb *ClassBuilder) Method(name string, params, returns int) *MethodBuilder {
	if cb.decl.Method(name) != nil {
		cb.mb.errs = append(cb.mb.errs, &BuildError{Code: diag.AsmDuplicateMember, Method: cb.decl.Name + "." + name, PC: -1, Msg: "method declared twice"})
	}
	b := cb.mb.newMethod(name, params, returns)
	cb.decl.Methods = append(cb.decl.Methods, b.body)
	return b
}

// CatchSpec is one GUARD clause in builder form.
type CatchSpec struct {
	Type  string
	Reg   int // encoded register
	Label string
}

// MethodBuilder emits the ops of one body.
type MethodBuilder struct {
	mb     *ModuleBuilder
	body   *MethodBody
	labels map[string]int
	line   int
	errs   []*BuildError
}

// Body returns the body under construction.
func (b *MethodBuilder) Body() *MethodBody { return b.body }

// PC returns the index the next op will get.
func (b *MethodBuilder) PC() int { return len(b.body.Ops) }

// At sets the source line recorded on subsequent ops.
func (b *MethodBuilder) At(line int) *MethodBuilder {
	b.line = line
	return b
}

// SetFile records the source file name of the body.
func (b *MethodBuilder) SetFile(name string) { b.body.File = name }

// Label binds name to the next emitted op.
func (b *MethodBuilder) Label(name string) {
	if _, dup := b.labels[name]; dup {
		b.errs = append(b.errs, buildErr(diag.AsmDuplicateLabel, b.body, -1, "label %q bound twice", name))
		return
	}
	b.labels[name] = len(b.body.Ops)
}

// Emit appends op and returns its pc.
func (b *MethodBuilder) Emit(op Op) int {
	if op.Line == 0 {
		op.Line = b.line
	}
	b.body.Ops = append(b.body.Ops, op)
	return len(b.body.Ops) - 1
}

// Constant helpers.

func (b *MethodBuilder) Int(v int64) int { return b.mb.mod.Pool.Int(v) }
func (b *MethodBuilder) Str(s string) int { return b.mb.mod.Pool.Str(s) }
func (b *MethodBuilder) Bool(v bool) int { return b.mb.mod.Pool.Bool(v) }
func (b *MethodBuilder) Null() int { return b.mb.mod.Pool.Null() }
func (b *MethodBuilder) Prop(name string) int { return b.mb.mod.Pool.Prop(name) }
func (b *MethodBuilder) Func(name string) int { return b.mb.mod.Pool.Func(name) }

func (b *MethodBuilder) typ(name string) int { return b.mb.mod.Pool.Type(name) }
func (b *MethodBuilder) name(name string) int { return b.mb.mod.Pool.Name(name) }

func (b *MethodBuilder) Nop() { b.Emit(Op{Code: OpNop}) }

// Var declares register reg with a type and name.
func (b *MethodBuilder) Var(typ, name string, reg int) {
	b.Emit(Op{Code: OpVar, Const: b.typ(typ), Name: b.name(name), Rets: []int{reg}})
}

// VarI declares reg and assigns init.
func (b *MethodBuilder) VarI(typ, name string, init, reg int) {
	b.Emit(Op{Code: OpVarI, Const: b.typ(typ), Name: b.name(name), Args: []int{init}, Rets: []int{reg}})
}

// VarF declares a final register: it can be assigned exactly once.
func (b *MethodBuilder) VarF(typ, name string, init, reg int) {
	b.Emit(Op{Code: OpVarF, Const: b.typ(typ), Name: b.name(name), Args: []int{init}, Rets: []int{reg}})
}

// VarD declares a dynamic register that may hold a pending future.
func (b *MethodBuilder) VarD(typ, name string, reg int) {
	b.Emit(Op{Code: OpVarD, Const: b.typ(typ), Name: b.name(name), Rets: []int{reg}})
}

func (b *MethodBuilder) Mov(a, ret int) { b.Emit(Op{Code: OpMov, Args: []int{a}, Rets: []int{ret}}) }

func (b *MethodBuilder) Unary(code Opcode, a, ret int) {
	b.Emit(Op{Code: code, Args: []int{a}, Rets: []int{ret}})
}

func (b *MethodBuilder) Binary(code Opcode, x, y, ret int) {
	b.Emit(Op{Code: code, Args: []int{x, y}, Rets: []int{ret}})
}

func (b *MethodBuilder) IsType(a int, typ string, ret int) {
	b.Emit(Op{Code: OpIsType, Args: []int{a}, Const: b.typ(typ), Rets: []int{ret}})
}

func (b *MethodBuilder) Jmp(label string) { b.Emit(Op{Code: OpJmp, Label: label}) }

// JmpIf emits a one-operand conditional jump (JMP_TRUE, JMP_NULL, ...).
func (b *MethodBuilder) JmpIf(code Opcode, a int, label string) {
	b.Emit(Op{Code: code, Args: []int{a}, Label: label})
}

// JmpCmp emits a comparing jump (JMP_EQ, JMP_LT, ...).
func (b *MethodBuilder) JmpCmp(code Opcode, x, y int, label string) {
	b.Emit(Op{Code: code, Args: []int{x, y}, Label: label})
}

func (b *MethodBuilder) Enter() { b.Emit(Op{Code: OpEnter}) }
func (b *MethodBuilder) Exit() { b.Emit(Op{Code: OpExit}) }

// Guard opens a guarded block with catch clauses.
func (b *MethodBuilder) Guard(catches ...CatchSpec) {
	op := Op{Code: OpGuard}
	for _, c := range catches {
		op.Catches = append(op.Catches, Catch{Type: b.typ(c.Type), Reg: c.Reg, Label: c.Label})
	}
	b.Emit(op)
}

func (b *MethodBuilder) GuardEnd(label string) { b.Emit(Op{Code: OpGuardEnd, Label: label}) }
func (b *MethodBuilder) CatchEnd(label string) { b.Emit(Op{Code: OpCatchEnd, Label: label}) }

// GuardAll opens a block whose finally body starts at label.
func (b *MethodBuilder) GuardAll(label string) { b.Emit(Op{Code: OpGuardAll, Label: label}) }
func (b *MethodBuilder) Finally() { b.Emit(Op{Code: OpFinally}) }
func (b *MethodBuilder) FinallyEnd() { b.Emit(Op{Code: OpFinallyEnd}) }

func (b *MethodBuilder) Throw(a int) { b.Emit(Op{Code: OpThrow, Args: []int{a}}) }

func (b *MethodBuilder) Return(args ...int) { b.Emit(Op{Code: OpReturn, Args: args}) }

// Call invokes the function operand fn (a function constant, a register
// holding a function, or ArgSuper).
func (b *MethodBuilder) Call(fn int, args []int, rets ...int) {
	b.Emit(Op{Code: OpCall, Args: append([]int{fn}, args...), Rets: rets})
}

// Invoke calls method on target through its call chain.
func (b *MethodBuilder) Invoke(target int, method string, args []int, rets ...int) {
	b.Emit(Op{Code: OpInvoke, Args: append([]int{target}, args...), Const: b.name(method), Rets: rets})
}

// Super calls the next body in the current call chain.
func (b *MethodBuilder) Super(args []int, rets ...int) {
	b.Emit(Op{Code: OpSuper, Args: args, Rets: rets})
}

func (b *MethodBuilder) New(typ string, args []int, ret int) {
	b.Emit(Op{Code: OpNew, Const: b.typ(typ), Args: args, Rets: []int{ret}})
}

func (b *MethodBuilder) NewService(typ string, args []int, ret int) {
	b.Emit(Op{Code: OpNewService, Const: b.typ(typ), Args: args, Rets: []int{ret}})
}

func (b *MethodBuilder) PGet(target int, prop string, ret int) {
	b.Emit(Op{Code: OpPGet, Args: []int{target}, Const: b.Prop(prop), Rets: []int{ret}})
}

func (b *MethodBuilder) PSet(target int, prop string, value int) {
	b.Emit(Op{Code: OpPSet, Args: []int{target, value}, Const: b.Prop(prop)})
}

// PRef stores a deferred read of target.prop into ret.
func (b *MethodBuilder) PRef(target int, prop string, ret int) {
	b.Emit(Op{Code: OpPRef, Args: []int{target}, Const: b.Prop(prop), Rets: []int{ret}})
}

func (b *MethodBuilder) Inject(name string, ret int) {
	b.Emit(Op{Code: OpInject, Const: b.name(name), Rets: []int{ret}})
}

func (b *MethodBuilder) Freeze(a, ret int) { b.Emit(Op{Code: OpFreeze, Args: []int{a}, Rets: []int{ret}}) }

// Assert raises an Assertion fault when a is false.
func (b *MethodBuilder) Assert(a int, msg string) {
	op := Op{Code: OpAssert, Args: []int{a}}
	if msg != "" {
		op.Args = append(op.Args, b.Str(msg))
	}
	b.Emit(op)
}

// link resolves labels into displacements, sizes the register file and
// validates the body.
func (b *MethodBuilder) link() []*BuildError {
	errs := b.errs
	body := b.body
	resolve := func(pc int, label string) (int, bool) {
		target, ok := b.labels[label]
		if !ok {
			errs = append(errs, buildErr(diag.AsmUnboundLabel, body, pc, "label %q is never bound", label))
			return 0, false
		}
		return target - pc, true
	}
	for pc := range body.Ops {
		op := &body.Ops[pc]
		if op.Code.HasJump() && op.Label != "" {
			if rel, ok := resolve(pc, op.Label); ok {
				op.Rel = rel
			}
		}
		for i := range op.Catches {
			c := &op.Catches[i]
			if c.Label == "" {
				continue
			}
			if rel, ok := resolve(pc, c.Label); ok {
				c.Rel = rel
			}
		}
	}
	body.MaxVars = registerCount(body)
	errs = append(errs, Validate(body, b.mb.mod.Pool)...)
	return errs
}

func registerCount(body *MethodBody) int {
	n := body.Params
	note := func(arg int) {
		if IsReg(arg) {
			if idx := RegisterIndex(arg) + 1; idx > n {
				n = idx
			}
		}
	}
	for i := range body.Ops {
		op := &body.Ops[i]
		for _, a := range op.Args {
			note(a)
		}
		for _, r := range op.Rets {
			note(r)
		}
		for _, c := range op.Catches {
			note(c.Reg)
		}
	}
	return n
}

// MustBuild is Build for tests and generated code; it panics on error.
func (mb *ModuleBuilder) MustBuild() *Module {
	m, err := mb.Build()
	if err != nil {
		panic(fmt.Sprintf("asm: %v", err))
	}
	return m
}
