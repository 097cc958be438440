package native

import (
	"fmt"
	"strings"

	"xvm/internal/asm"
	"xvm/internal/vm"
)

func installConsole(reg *vm.Registry) error {
	t, err := reg.Declare("Console", asm.KindConst, reg.Object)
	if err != nil {
		return err
	}
	t.Template = vm.ClassTemplate{}
	write := func(newline bool) vm.NativeMethod {
		return func(f *vm.Frame, _ vm.Handle, args []vm.Handle, rets []int) int {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = vm.Display(a)
			}
			line := strings.Join(parts, " ")
			if newline {
				line += "\n"
			}
			if _, err := fmt.Fprint(f.Runtime().Out(), line); err != nil {
				return f.Raise(f.Registry().IllegalState, "console: %v", err)
			}
			return f.AssignResults(rets)
		}
	}
	reg.DefineNative(t, "println", write(true))
	reg.DefineNative(t, "print", write(false))
	reg.DeclareInjection(ConsoleInjection, t.Name)
	return nil
}
