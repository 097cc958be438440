package asm

import "fmt"

// Pseudo-register operands.
const (
	ArgThis    = -1 // the frame's target object
	ArgSuper   = -2 // the next body in the frame's call chain
	ArgStack   = -3 // pop (as operand) or push (as result) the operand stack
	ArgIgnore  = -4 // discard the result
	ArgService = -5 // the current service
	ArgLocal   = -6 // frame-local scratch slot
)

// RegBase is the encoding of register 0; register n is RegBase-n.
const RegBase = -16

// NoConst marks an absent constant reference.
const NoConst = -1

// Reg encodes register n as an operand.
func Reg(n int) int {
	return RegBase - n
}

// IsReg reports whether arg names a frame register.
func IsReg(arg int) bool {
	return arg <= RegBase
}

// RegisterIndex decodes a register operand.
func RegisterIndex(arg int) int {
	return RegBase - arg
}

// IsConst reports whether arg is a constant-pool index.
func IsConst(arg int) bool {
	return arg >= 0
}

// IsPseudo reports whether arg is one of the reserved pseudo-registers.
func IsPseudo(arg int) bool {
	return arg < 0 && arg > RegBase
}

// IsWritable reports whether arg may receive a result.
func IsWritable(arg int) bool {
	return IsReg(arg) || arg == ArgIgnore || arg == ArgStack || arg == ArgLocal
}

// FormatArg renders an operand without pool access.
func FormatArg(arg int) string {
	switch {
	case IsReg(arg):
		return fmt.Sprintf("r%d", RegisterIndex(arg))
	case arg >= 0:
		return fmt.Sprintf("#%d", arg)
	}
	switch arg {
	case ArgThis:
		return "this"
	case ArgSuper:
		return "super"
	case ArgStack:
		return "stack"
	case ArgIgnore:
		return "_"
	case ArgService:
		return "service"
	case ArgLocal:
		return "local"
	}
	return fmt.Sprintf("?%d", arg)
}
