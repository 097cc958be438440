package vm

import (
	"xvm/internal/asm"
)

// computeFunc is the half of an op that runs once every operand is
// concrete.
type computeFunc func(f *Frame, vals []Handle) int

// Deferred reports whether h still needs resolution before an op may
// compute with it.
func Deferred(h Handle) bool {
	_, ok := h.(*PropertyRef)
	return ok
}

// Probe reads an operand without consuming it: a stack operand is peeked
// and nothing in the frame changes except blockedOn.
func (f *Frame) Probe(arg int) (Handle, int) {
	return f.argument(arg, 0)
}

// resolveArgs is the resolve-only half shared by every op. It reads args,
// resolves each deferred property read into the local slot and then runs
// compute exactly once. Until all operands are ready it only reads, so an
// op that gets R_REPEAT back may simply be executed again.
func resolveArgs(f *Frame, args []int, compute computeFunc) int {
	vals, code := f.GetArguments(args)
	if code != RNext {
		return code
	}
	return resolveFrom(f, vals, 0, compute)
}

func resolveFrom(f *Frame, vals []Handle, from int, compute computeFunc) int {
	for i := from; i < len(vals); i++ {
		ref, ok := vals[i].(*PropertyRef)
		if !ok {
			continue
		}
		code := templateOf(ref.Target).GetProperty(f, ref.Target, ref.Prop, asm.ArgLocal)
		return Then(f, code, func(f *Frame) int {
			vals[i] = f.Local
			return resolveFrom(f, vals, i+1, compute)
		})
	}
	return compute(f, vals)
}

// execute runs one op. The returned control code tells the fiber loop
// how to go on.
func execute(f *Frame, op *asm.Op) int {
	switch op.Code {
	case asm.OpNop:
		return RNext

	case asm.OpVar, asm.OpVarD:
		f.declare(asm.RegisterIndex(op.Rets[0]), f.varInfo(op))
		return RNext
	case asm.OpVarI, asm.OpVarF:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			f.declare(asm.RegisterIndex(op.Rets[0]), f.varInfo(op))
			return f.AssignValue(op.Rets[0], vals[0])
		})
	case asm.OpMov:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return f.AssignValue(op.Rets[0], vals[0])
		})

	case asm.OpAdd, asm.OpSub, asm.OpMul, asm.OpDiv, asm.OpMod:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return templateOf(vals[0]).Invoke(f, vals[0], arithMethod(op.Code), vals[1:], op.Rets)
		})
	case asm.OpNeg, asm.OpNot:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return templateOf(vals[0]).Invoke(f, vals[0], arithMethod(op.Code), nil, op.Rets)
		})

	case asm.OpIsEq, asm.OpIsNeq, asm.OpIsLt, asm.OpIsLte, asm.OpIsGt, asm.OpIsGte,
		asm.OpIsNull, asm.OpIsType:
		return execTest(f, op)

	case asm.OpJmp:
		return op.Target(f.pc)
	case asm.OpJmpTrue, asm.OpJmpFalse, asm.OpJmpNull, asm.OpJmpNotNull, asm.OpJmpZero,
		asm.OpJmpEq, asm.OpJmpNeq, asm.OpJmpLt, asm.OpJmpLte, asm.OpJmpGt, asm.OpJmpGte:
		return execJump(f, op)

	case asm.OpEnter:
		f.EnterScope()
		return RNext
	case asm.OpExit:
		f.ExitScope()
		return RNext
	case asm.OpGuard, asm.OpGuardEnd, asm.OpCatchEnd, asm.OpGuardAll,
		asm.OpFinally, asm.OpFinallyEnd, asm.OpThrow:
		return execGuard(f, op)

	case asm.OpReturn:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return f.doReturn(vals)
		})
	case asm.OpCall, asm.OpInvoke, asm.OpSuper, asm.OpNew, asm.OpNewService:
		return execCall(f, op)
	case asm.OpPGet, asm.OpPSet, asm.OpPRef:
		return execProp(f, op)

	case asm.OpInject:
		name := f.Method.Pool.At(op.Const).Str
		h, ok := f.Runtime().injected(name)
		if !ok {
			return f.Raise(f.Registry().IllegalState, "nothing is injected as %q", name)
		}
		return f.AssignValue(op.Rets[0], h)
	case asm.OpFreeze:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			if code := f.freeze(vals[0]); code != RNext {
				return code
			}
			return f.AssignValue(op.Rets[0], vals[0])
		})
	case asm.OpAssert:
		return resolveArgs(f, op.Args[:1], func(f *Frame, vals []Handle) int {
			b, ok := vals[0].(BoolHandle)
			if !ok {
				return f.Raise(f.Registry().TypeMismatch, "ASSERT needs a Boolean, got %s", vals[0].Type())
			}
			if b.Value {
				return RNext
			}
			msg := "assertion failed"
			if len(op.Args) > 1 {
				msg = f.Method.Pool.At(op.Args[1]).Str
			}
			return f.Raise(f.Registry().Assertion, "%s", msg)
		})
	}
	return f.Raise(f.Registry().IllegalState, "unsupported opcode %s", op.Code)
}

func (f *Frame) varInfo(op *asm.Op) VarInfo {
	info := VarInfo{
		Type:    f.typeConst(op.Const),
		Final:   op.Code == asm.OpVarF,
		Dynamic: op.Code == asm.OpVarD,
	}
	if pool := f.Method.Pool; pool.Valid(op.Name) {
		info.Name = pool.At(op.Name).Str
	}
	return info
}

// typeConst returns the type named by a pool entry, or nil.
func (f *Frame) typeConst(idx int) *Type {
	pool := f.Method.Pool
	if !pool.Valid(idx) {
		return nil
	}
	c := pool.At(idx)
	if c.Kind != asm.ConstType {
		return nil
	}
	return f.Registry().Lookup(c.Str)
}

func arithMethod(code asm.Opcode) string {
	switch code {
	case asm.OpAdd:
		return "add"
	case asm.OpSub:
		return "sub"
	case asm.OpMul:
		return "mul"
	case asm.OpDiv:
		return "div"
	case asm.OpMod:
		return "mod"
	case asm.OpNeg:
		return "neg"
	case asm.OpNot:
		return "not"
	}
	return ""
}
