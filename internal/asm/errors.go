package asm

import (
	"fmt"

	"xvm/internal/diag"
)

// BuildError is a build-time fault found while linking or validating a
// method body. Such faults never reach the runtime.
type BuildError struct {
	Code   diag.Code
	Method string
	PC     int
	Line   int
	Msg    string
}

func (e *BuildError) Error() string {
	if e.PC < 0 {
		return fmt.Sprintf("%s: %s: %s", e.Code.ID(), e.Method, e.Msg)
	}
	return fmt.Sprintf("%s: %s@%d: %s", e.Code.ID(), e.Method, e.PC, e.Msg)
}

func buildErr(code diag.Code, body *MethodBody, pc int, format string, args ...any) *BuildError {
	line := 0
	if pc >= 0 {
		line = body.Line(pc)
	}
	return &BuildError{
		Code:   code,
		Method: body.Name,
		PC:     pc,
		Line:   line,
		Msg:    fmt.Sprintf(format, args...),
	}
}
