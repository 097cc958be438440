package vm

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// BacktraceFrame is one frame of a fault backtrace.
type BacktraceFrame struct {
	Method  string
	PC      int
	Line    int
	File    string
	Service string
}

func (b BacktraceFrame) String() string {
	loc := fmt.Sprintf("@%d", b.PC)
	switch {
	case b.File != "" && b.Line > 0:
		loc = fmt.Sprintf("%s:%d", b.File, b.Line)
	case b.Line > 0:
		loc = fmt.Sprintf("line %d", b.Line)
	}
	return fmt.Sprintf("%s at %s [%s]", b.Method, loc, b.Service)
}

// ExceptionHandle is a fault value. Faults raised by the VM are immutable
// from birth; assembled exception types are frozen after construction.
type ExceptionHandle struct {
	*ObjectHandle
	Backtrace []BacktraceFrame // top frame first
}

// Message returns the message property, or "".
func (e *ExceptionHandle) Message() string {
	if s, ok := e.Field("message").(StringHandle); ok {
		return s.Value
	}
	return ""
}

// Cause returns the wrapped fault, or nil.
func (e *ExceptionHandle) Cause() *ExceptionHandle {
	c, _ := e.Field("cause").(*ExceptionHandle)
	return c
}

func (e *ExceptionHandle) String() string {
	if msg := e.Message(); msg != "" {
		return e.typ.Name + ": " + msg
	}
	return e.typ.Name
}

// Raise creates a fault of type t and raises it on f.
func (f *Frame) Raise(t *Type, format string, args ...any) int {
	ex := f.Service().heap.NewException(t, fmt.Sprintf(format, args...), nil)
	ex.Backtrace = f.backtrace()
	return f.RaiseException(ex)
}

// backtrace captures the frames of the fiber running f, innermost first.
func (f *Frame) backtrace() []BacktraceFrame {
	fb := f.fiber
	if fb == nil {
		return nil
	}
	svc := fb.svc.Name
	out := make([]BacktraceFrame, 0, len(fb.frames))
	for i := len(fb.frames) - 1; i >= 0; i-- {
		fr := fb.frames[i]
		out = append(out, BacktraceFrame{
			Method:  fr.Method.String(),
			PC:      fr.pc,
			Line:    fr.Method.Body.Line(fr.pc),
			File:    fr.Method.Body.File,
			Service: svc,
		})
	}
	return out
}

// HostError is returned by Runtime.Start when the entry faulted or could
// never complete.
type HostError struct {
	Service string
	Fault   *ExceptionHandle
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return fmt.Sprintf("uncaught %s in service %s", e.Fault, e.Service)
}

// Format renders the fault with its cause chain and backtrace.
func (e *HostError) Format() string {
	return e.FormatWithColor(false)
}

// FormatWithColor is Format with optional terminal colours.
func (e *HostError) FormatWithColor(enabled bool) string {
	head := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)
	if !enabled {
		head.DisableColor()
		dim.DisableColor()
	} else {
		head.EnableColor()
		dim.EnableColor()
	}

	var sb strings.Builder
	sb.WriteString(head.Sprintf("fault %s", e.Fault))
	sb.WriteString(fmt.Sprintf(" (service %s)\n", e.Service))
	for c := e.Fault.Cause(); c != nil; c = c.Cause() {
		sb.WriteString(fmt.Sprintf("caused by %s\n", c))
	}
	if len(e.Fault.Backtrace) > 0 {
		sb.WriteString(dim.Sprint("backtrace:") + "\n")
		for i, fr := range e.Fault.Backtrace {
			sb.WriteString(fmt.Sprintf("  %d: %s\n", i, fr))
		}
	}
	return sb.String()
}
