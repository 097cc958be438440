package vm

import "xvm/internal/asm"

// equality leaves a Boolean in the frame's local slot. Values of
// different types are never equal.
func equality(f *Frame, a, b Handle) int {
	if a.Type() != b.Type() {
		f.Local = f.Registry().MakeBool(false)
		return RNext
	}
	return templateOf(a).CompareForEquality(f, a, b, asm.ArgLocal)
}

// order leaves Int -1, 0 or 1 in the frame's local slot.
func order(f *Frame, a, b Handle) int {
	if a.Type() != b.Type() {
		return f.Raise(f.Registry().TypeMismatch, "cannot order %s against %s", a.Type(), b.Type())
	}
	return templateOf(a).CompareForOrder(f, a, b, asm.ArgLocal)
}

// ordering returns the sign left in the local slot by order.
func ordering(f *Frame) (int64, bool) {
	v, ok := f.Local.(IntHandle)
	if !ok {
		return 0, false
	}
	switch {
	case v.Value < 0:
		return -1, true
	case v.Value > 0:
		return 1, true
	}
	return 0, true
}

// holds reports whether sign satisfies the comparison opcode.
func holds(code asm.Opcode, sign int64) bool {
	switch code {
	case asm.OpIsLt, asm.OpJmpLt:
		return sign < 0
	case asm.OpIsLte, asm.OpJmpLte:
		return sign <= 0
	case asm.OpIsGt, asm.OpJmpGt:
		return sign > 0
	case asm.OpIsGte, asm.OpJmpGte:
		return sign >= 0
	}
	return false
}

// execTest runs the IS_* ops.
func execTest(f *Frame, op *asm.Op) int {
	reg := f.Registry()
	ret := op.Rets[0]
	switch op.Code {
	case asm.OpIsNull:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return f.AssignValue(ret, reg.MakeBool(IsNull(vals[0])))
		})
	case asm.OpIsType:
		t := f.typeConst(op.Const)
		if t == nil {
			return f.Raise(reg.IllegalArgument, "IS_TYPE names an unknown type")
		}
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return f.AssignValue(ret, reg.MakeBool(vals[0].Type().IsA(t)))
		})
	case asm.OpIsEq, asm.OpIsNeq:
		negate := op.Code == asm.OpIsNeq
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return Then(f, equality(f, vals[0], vals[1]), func(f *Frame) int {
				return f.AssignValue(ret, reg.MakeBool(isTrue(f.Local) != negate))
			})
		})
	}
	return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
		return Then(f, order(f, vals[0], vals[1]), func(f *Frame) int {
			sign, ok := ordering(f)
			if !ok {
				return f.Raise(reg.TypeMismatch, "%s compare did not produce an Int", vals[0].Type())
			}
			return f.AssignValue(ret, reg.MakeBool(holds(op.Code, sign)))
		})
	})
}

// execJump runs the conditional jumps. A jump that is not taken falls
// through to the next op.
func execJump(f *Frame, op *asm.Op) int {
	reg := f.Registry()
	target := op.Target(f.pc)
	branch := func(taken bool) int {
		if taken {
			return target
		}
		return RNext
	}
	switch op.Code {
	case asm.OpJmpTrue, asm.OpJmpFalse:
		want := op.Code == asm.OpJmpTrue
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			b, ok := vals[0].(BoolHandle)
			if !ok {
				return f.Raise(reg.TypeMismatch, "%s needs a Boolean, got %s", op.Code, vals[0].Type())
			}
			return branch(b.Value == want)
		})
	case asm.OpJmpNull, asm.OpJmpNotNull:
		want := op.Code == asm.OpJmpNull
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return branch(IsNull(vals[0]) == want)
		})
	case asm.OpJmpZero:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			n, ok := vals[0].(IntHandle)
			if !ok {
				return f.Raise(reg.TypeMismatch, "JMP_ZERO needs an Int, got %s", vals[0].Type())
			}
			return branch(n.Value == 0)
		})
	case asm.OpJmpEq, asm.OpJmpNeq:
		want := op.Code == asm.OpJmpEq
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return Then(f, equality(f, vals[0], vals[1]), func(f *Frame) int {
				return branch(isTrue(f.Local) == want)
			})
		})
	}
	return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
		return Then(f, order(f, vals[0], vals[1]), func(f *Frame) int {
			sign, ok := ordering(f)
			if !ok {
				return f.Raise(reg.TypeMismatch, "%s compare did not produce an Int", vals[0].Type())
			}
			return branch(holds(op.Code, sign))
		})
	})
}
