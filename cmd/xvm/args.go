package main

import (
	"strconv"

	"xvm/internal/vm"
)

// programArgs turns command-line words into entry arguments: integers
// become Int, true/false Boolean, null Null, anything else String.
func programArgs(reg *vm.Registry, words []string) []vm.Handle {
	out := make([]vm.Handle, len(words))
	for i, w := range words {
		out[i] = programArg(reg, w)
	}
	return out
}

func programArg(reg *vm.Registry, w string) vm.Handle {
	if n, err := strconv.ParseInt(w, 10, 64); err == nil {
		return reg.MakeInt(n)
	}
	switch w {
	case "true":
		return reg.MakeBool(true)
	case "false":
		return reg.MakeBool(false)
	case "null":
		return reg.Null()
	}
	return reg.MakeString(w)
}
