package vm

import (
	"xvm/internal/asm"
)

// execCall runs CALL, INVOKE, SUPER, NEW and NEW_SERVICE.
func execCall(f *Frame, op *asm.Op) int {
	reg := f.Registry()
	switch op.Code {
	case asm.OpCall:
		if op.Args[0] == asm.ArgSuper {
			return resolveArgs(f, op.Args[1:], func(f *Frame, vals []Handle) int {
				return f.callSuper(vals, op.Rets)
			})
		}
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			fn, ok := vals[0].(*FunctionHandle)
			if !ok {
				return f.Raise(reg.TypeMismatch, "cannot call %s", vals[0].Type())
			}
			return callFunction(f, fn.Method, vals[1:], op.Rets)
		})
	case asm.OpSuper:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return f.callSuper(vals, op.Rets)
		})
	case asm.OpInvoke:
		name := f.Method.Pool.At(op.Const).Str
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			target := vals[0]
			return templateOf(target).Invoke(f, target, name, vals[1:], op.Rets)
		})
	case asm.OpNew, asm.OpNewService:
		t := f.typeConst(op.Const)
		if t == nil {
			return f.Raise(reg.IllegalArgument, "%s names an unknown type", op.Code)
		}
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			if op.Code == asm.OpNewService || t.Kind == asm.KindService {
				return f.newService(t, vals, op.Rets[0])
			}
			return t.Template.Construct(f, t, vals, op.Rets[0])
		})
	}
	return f.Raise(reg.IllegalState, "unsupported opcode %s", op.Code)
}

// callSuper continues the frame's call chain one level down.
func (f *Frame) callSuper(args []Handle, rets []int) int {
	if f.chain == nil {
		return f.Raise(f.Registry().Unsupported, "%s has no super body", f.Method)
	}
	return f.chain.Invoke(f, f.This, args, rets, f.depth+1)
}

// execProp runs P_GET, P_SET and P_REF.
func execProp(f *Frame, op *asm.Op) int {
	prop := f.Method.Pool.At(op.Const).Str
	switch op.Code {
	case asm.OpPGet:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return templateOf(vals[0]).GetProperty(f, vals[0], prop, op.Rets[0])
		})
	case asm.OpPSet:
		return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
			return templateOf(vals[0]).SetProperty(f, vals[0], prop, vals[1])
		})
	}
	return resolveArgs(f, op.Args, func(f *Frame, vals []Handle) int {
		ref := &PropertyRef{typ: f.Registry().Object, Target: vals[0], Prop: prop}
		return f.AssignValue(op.Rets[0], ref)
	})
}

// freeze makes h and everything reachable from it immutable. Only values
// of the current service can be frozen; nothing changes when one of them
// belongs elsewhere.
func (f *Frame) freeze(h Handle) int {
	var objs []*ObjectHandle
	seen := make(map[*ObjectHandle]bool)
	var walk func(h Handle) int
	walk = func(h Handle) int {
		switch h.(type) {
		case *FutureHandle, *PropertyRef:
			return f.Raise(f.Registry().IllegalArgument, "cannot freeze %s", h.Type())
		}
		obj := asObject(h)
		if obj == nil || !obj.mutable || seen[obj] {
			return RNext
		}
		if obj.owner != f.Service() {
			return f.Raise(f.Registry().IllegalState, "%s belongs to another service", obj.typ)
		}
		seen[obj] = true
		objs = append(objs, obj)
		for _, fv := range obj.Fields {
			if fv == nil {
				continue
			}
			if code := walk(fv); code != RNext {
				return code
			}
		}
		return RNext
	}
	if code := walk(h); code != RNext {
		return code
	}
	for _, obj := range objs {
		obj.mutable = false
	}
	return RNext
}
