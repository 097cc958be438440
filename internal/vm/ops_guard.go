package vm

import "xvm/internal/asm"

// execGuard runs the ops that open, close and fire guards.
func execGuard(f *Frame, op *asm.Op) int {
	reg := f.Registry()
	switch op.Code {
	case asm.OpGuard:
		g := guard{kind: guardCatch}
		for _, c := range op.Catches {
			t := f.typeConst(c.Type)
			if t == nil {
				return f.Raise(reg.IllegalArgument, "GUARD catches an unknown type")
			}
			g.clauses = append(g.clauses, catchClause{
				typ:     t,
				reg:     asm.RegisterIndex(c.Reg),
				handler: f.pc + c.Rel,
			})
		}
		f.PushGuard(g)
		return RNext
	case asm.OpGuardEnd:
		// guarded body completed without a fault
		f.PopGuard()
		return op.Target(f.pc)
	case asm.OpCatchEnd:
		f.ExitScope()
		return op.Target(f.pc)
	case asm.OpGuardAll:
		f.PushGuard(guard{kind: guardAll, finally: op.Target(f.pc)})
		return RNext
	case asm.OpFinally:
		return f.finallyNormal()
	case asm.OpFinallyEnd:
		return f.finallyEnd()
	case asm.OpThrow:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			switch v := vals[0].(type) {
			case *ExceptionHandle:
				if v.owner == f.Service() {
					if code := f.freeze(v); code != RNext {
						return code
					}
					if len(v.Backtrace) == 0 {
						v.Backtrace = f.backtrace()
					}
				}
				return f.RaiseException(v)
			case StringHandle:
				return f.Raise(reg.Exception, "%s", v.Value)
			}
			return f.Raise(reg.TypeMismatch, "cannot throw %s", vals[0].Type())
		})
	}
	return f.Raise(reg.IllegalState, "unsupported opcode %s", op.Code)
}
