package native

import (
	"strings"
	"unicode/utf8"

	"fortio.org/safecast"
	"golang.org/x/text/unicode/norm"

	"xvm/internal/vm"
)

// StringTemplate compares strings after NFC normalisation, so canonically
// equivalent spellings are equal.
type StringTemplate struct {
	vm.BaseTemplate
}

func (StringTemplate) CompareForOrder(f *vm.Frame, a, b vm.Handle, ret int) int {
	c := strings.Compare(nfc(a), nfc(b))
	return f.AssignValue(ret, sign(f.Registry(), c))
}

func (StringTemplate) CompareForEquality(f *vm.Frame, a, b vm.Handle, ret int) int {
	return f.AssignValue(ret, f.Registry().MakeBool(nfc(a) == nfc(b)))
}

func nfc(h vm.Handle) string {
	return norm.NFC.String(h.(vm.StringHandle).Value)
}

func installString(reg *vm.Registry) {
	reg.String.Template = StringTemplate{}

	// add concatenates the display form of any value
	reg.DefineNative(reg.String, "add", func(f *vm.Frame, target vm.Handle, args []vm.Handle, rets []int) int {
		if code, ok := arity(f, "String.add", args, 1); !ok {
			return code
		}
		s := target.(vm.StringHandle).Value + vm.Display(args[0])
		return f.AssignResults(rets, f.Registry().MakeString(s))
	})
	reg.DefineNative(reg.String, "size", func(f *vm.Frame, target vm.Handle, _ []vm.Handle, rets []int) int {
		n, err := safecast.Conv[int64](utf8.RuneCountInString(nfc(target)))
		if err != nil {
			return f.Raise(f.Registry().IllegalState, "string size out of range")
		}
		return f.AssignResults(rets, f.Registry().MakeInt(n))
	})
	reg.DefineNative(reg.String, "contains", func(f *vm.Frame, target vm.Handle, args []vm.Handle, rets []int) int {
		if code, ok := arity(f, "String.contains", args, 1); !ok {
			return code
		}
		sub, ok := args[0].(vm.StringHandle)
		if !ok {
			return f.Raise(f.Registry().TypeMismatch, "String.contains needs a String, got %s", args[0].Type())
		}
		return f.AssignResults(rets, f.Registry().MakeBool(strings.Contains(nfc(target), norm.NFC.String(sub.Value))))
	})
	reg.DefineNative(reg.String, "toString", func(f *vm.Frame, target vm.Handle, _ []vm.Handle, rets []int) int {
		return f.AssignResults(rets, target)
	})
}
