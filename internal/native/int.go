package native

import (
	"math"

	"xvm/internal/vm"
)

// IntTemplate orders and compares 64-bit integers by value.
type IntTemplate struct {
	vm.BaseTemplate
}

func (IntTemplate) CompareForOrder(f *vm.Frame, a, b vm.Handle, ret int) int {
	x, y := a.(vm.IntHandle).Value, b.(vm.IntHandle).Value
	c := 0
	switch {
	case x < y:
		c = -1
	case x > y:
		c = 1
	}
	return f.AssignValue(ret, sign(f.Registry(), c))
}

func (IntTemplate) CompareForEquality(f *vm.Frame, a, b vm.Handle, ret int) int {
	return f.AssignValue(ret, f.Registry().MakeBool(a.(vm.IntHandle).Value == b.(vm.IntHandle).Value))
}

type intOp func(f *vm.Frame, x, y int64) (int64, int)

func installInt(reg *vm.Registry) {
	reg.Int.Template = IntTemplate{}
	binary := func(name string, op intOp) {
		reg.DefineNative(reg.Int, name, func(f *vm.Frame, target vm.Handle, args []vm.Handle, rets []int) int {
			if code, ok := arity(f, "Int."+name, args, 1); !ok {
				return code
			}
			y, ok := args[0].(vm.IntHandle)
			if !ok {
				return f.Raise(f.Registry().TypeMismatch, "Int.%s needs an Int, got %s", name, args[0].Type())
			}
			v, code := op(f, target.(vm.IntHandle).Value, y.Value)
			if code != vm.RNext {
				return code
			}
			return f.AssignResults(rets, f.Registry().MakeInt(v))
		})
	}
	binary("add", func(f *vm.Frame, x, y int64) (int64, int) {
		s := x + y
		if (s > x) != (y > 0) {
			return 0, overflow(f, "add")
		}
		return s, vm.RNext
	})
	binary("sub", func(f *vm.Frame, x, y int64) (int64, int) {
		d := x - y
		if (d < x) != (y > 0) {
			return 0, overflow(f, "sub")
		}
		return d, vm.RNext
	})
	binary("mul", func(f *vm.Frame, x, y int64) (int64, int) {
		if x == 0 || y == 0 {
			return 0, vm.RNext
		}
		p := x * y
		if p/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return 0, overflow(f, "mul")
		}
		return p, vm.RNext
	})
	binary("div", func(f *vm.Frame, x, y int64) (int64, int) {
		if y == 0 {
			return 0, f.Raise(f.Registry().DivisionByZero, "%d / 0", x)
		}
		if x == math.MinInt64 && y == -1 {
			return 0, overflow(f, "div")
		}
		return x / y, vm.RNext
	})
	binary("mod", func(f *vm.Frame, x, y int64) (int64, int) {
		if y == 0 {
			return 0, f.Raise(f.Registry().DivisionByZero, "%d %% 0", x)
		}
		if y == -1 {
			return 0, vm.RNext
		}
		return x % y, vm.RNext
	})

	reg.DefineNative(reg.Int, "neg", func(f *vm.Frame, target vm.Handle, args []vm.Handle, rets []int) int {
		x := target.(vm.IntHandle).Value
		if x == math.MinInt64 {
			return overflow(f, "neg")
		}
		return f.AssignResults(rets, f.Registry().MakeInt(-x))
	})
	reg.DefineNative(reg.Int, "abs", func(f *vm.Frame, target vm.Handle, args []vm.Handle, rets []int) int {
		x := target.(vm.IntHandle).Value
		if x == math.MinInt64 {
			return overflow(f, "abs")
		}
		if x < 0 {
			x = -x
		}
		return f.AssignResults(rets, f.Registry().MakeInt(x))
	})
	reg.DefineNative(reg.Int, "toString", func(f *vm.Frame, target vm.Handle, _ []vm.Handle, rets []int) int {
		return f.AssignResults(rets, f.Registry().MakeString(vm.Display(target)))
	})
}

func overflow(f *vm.Frame, op string) int {
	return f.Raise(f.Registry().IllegalState, "Int.%s overflows", op)
}
