package vm

import (
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"xvm/internal/asm"
)

// Tracer outputs an op-level execution trace for debugging. Every service
// worker writes to the same tracer, so lines are serialised.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTracer creates a new tracer that writes to w.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// TraceOp traces an op before it runs.
// Format: [svc=<name> fiber=<id> depth=<n>] <method>@<pc> <op>
func (t *Tracer) TraceOp(f *Frame, op *asm.Op) {
	if t == nil || t.w == nil {
		return
	}
	fb := f.fiber
	line := fmt.Sprintf("[svc=%s fiber=%d depth=%d] %s@%d %s\n",
		fb.svc.Name, fb.ID, len(fb.frames)-1, f.Method, f.pc, asm.FormatOp(op, f.pc, f.Method.Pool))
	t.write(line)
}

// TraceWrite traces the value an op left in a register.
func (t *Tracer) TraceWrite(f *Frame, ret int) {
	if t == nil || t.w == nil || !asm.IsReg(ret) {
		return
	}
	n := asm.RegisterIndex(ret)
	v := f.Register(n)
	if v == nil {
		return
	}
	t.write(fmt.Sprintf("    write %s = %s\n", varName(&f.vars[n], n), truncateRunes(Display(v), 32)))
}

func (t *Tracer) write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	io.WriteString(t.w, s) //nolint:errcheck
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || s == "" {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	out := make([]rune, 0, limit)
	for _, r := range s {
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return string(out) + "…"
}
