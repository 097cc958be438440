// Package native supplies the templates and Go method bodies of the value
// types every program relies on: Int, Boolean, String, Null and the
// injected Console.
package native

import (
	"fmt"

	"xvm/internal/vm"
)

// ConsoleInjection is the name programs INJECT the console under.
const ConsoleInjection = "console"

// Install attaches the native templates and bodies to reg. It must run
// before Link.
func Install(reg *vm.Registry) error {
	if reg.Linked() {
		return fmt.Errorf("native: registry is already linked")
	}
	reg.NullType.Template = NullTemplate{}
	installInt(reg)
	installBoolean(reg)
	installString(reg)
	return installConsole(reg)
}

// NewRegistry returns a registry with every native type installed.
func NewRegistry() *vm.Registry {
	reg := vm.NewRegistry()
	if err := Install(reg); err != nil {
		panic(err)
	}
	return reg
}

// NullTemplate serves the Null value: equality only.
type NullTemplate struct {
	vm.BaseTemplate
}

func (NullTemplate) Invoke(f *vm.Frame, target vm.Handle, method string, args []vm.Handle, rets []int) int {
	if method == "toString" && len(args) == 0 {
		return f.AssignResults(rets, f.Registry().MakeString("null"))
	}
	return f.Raise(f.Registry().Unsupported, "cannot invoke %s on null", method)
}

func (NullTemplate) GetProperty(f *vm.Frame, _ vm.Handle, prop string, _ int) int {
	return f.Raise(f.Registry().Unsupported, "cannot read %s of null", prop)
}

// sign maps a three-way comparison onto the Int the op protocol expects.
func sign(reg *vm.Registry, c int) vm.Handle {
	switch {
	case c < 0:
		return reg.MakeInt(-1)
	case c > 0:
		return reg.MakeInt(1)
	}
	return reg.MakeInt(0)
}

// arity checks the argument count of a native body; on a mismatch it
// raises and returns the control code.
func arity(f *vm.Frame, name string, args []vm.Handle, want int) (int, bool) {
	if len(args) != want {
		return f.Raise(f.Registry().IllegalArgument, "%s takes %d arguments, got %d", name, want, len(args)), false
	}
	return vm.RNext, true
}
