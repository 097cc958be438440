package native

import "xvm/internal/vm"

// BooleanTemplate orders false before true.
type BooleanTemplate struct {
	vm.BaseTemplate
}

func (BooleanTemplate) CompareForOrder(f *vm.Frame, a, b vm.Handle, ret int) int {
	x, y := a.(vm.BoolHandle).Value, b.(vm.BoolHandle).Value
	c := 0
	switch {
	case !x && y:
		c = -1
	case x && !y:
		c = 1
	}
	return f.AssignValue(ret, sign(f.Registry(), c))
}

func (BooleanTemplate) CompareForEquality(f *vm.Frame, a, b vm.Handle, ret int) int {
	return f.AssignValue(ret, f.Registry().MakeBool(a.(vm.BoolHandle).Value == b.(vm.BoolHandle).Value))
}

func installBoolean(reg *vm.Registry) {
	reg.Boolean.Template = BooleanTemplate{}
	reg.DefineNative(reg.Boolean, "not", func(f *vm.Frame, target vm.Handle, _ []vm.Handle, rets []int) int {
		return f.AssignResults(rets, f.Registry().MakeBool(!target.(vm.BoolHandle).Value))
	})
	logic := func(name string, op func(x, y bool) bool) {
		reg.DefineNative(reg.Boolean, name, func(f *vm.Frame, target vm.Handle, args []vm.Handle, rets []int) int {
			if code, ok := arity(f, "Boolean."+name, args, 1); !ok {
				return code
			}
			y, ok := args[0].(vm.BoolHandle)
			if !ok {
				return f.Raise(f.Registry().TypeMismatch, "Boolean.%s needs a Boolean, got %s", name, args[0].Type())
			}
			return f.AssignResults(rets, f.Registry().MakeBool(op(target.(vm.BoolHandle).Value, y.Value)))
		})
	}
	logic("and", func(x, y bool) bool { return x && y })
	logic("or", func(x, y bool) bool { return x || y })
	logic("xor", func(x, y bool) bool { return x != y })
	reg.DefineNative(reg.Boolean, "toString", func(f *vm.Frame, target vm.Handle, _ []vm.Handle, rets []int) int {
		return f.AssignResults(rets, f.Registry().MakeString(vm.Display(target)))
	})
}
