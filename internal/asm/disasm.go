package asm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const mnemonicWidth = 12

// Disassemble writes a listing of every class and function of mod.
func Disassemble(w io.Writer, mod *Module) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "module %s\n", mod.Name)
	for _, c := range mod.Classes {
		fmt.Fprintf(bw, "\n%s %s", c.Kind, c.Name)
		if c.Super != "" {
			fmt.Fprintf(bw, " extends %s", c.Super)
		}
		if len(c.Mixins) > 0 {
			fmt.Fprintf(bw, " incorporates %s", strings.Join(c.Mixins, ", "))
		}
		if len(c.Implements) > 0 {
			fmt.Fprintf(bw, " implements %s", strings.Join(c.Implements, ", "))
		}
		bw.WriteByte('\n')
		for _, p := range c.Props {
			fmt.Fprintf(bw, "  prop %s", p.Name)
			if mod.Pool.Valid(p.Init) {
				fmt.Fprintf(bw, " = %s", mod.Pool.At(p.Init))
			}
			if p.Getter != "" {
				fmt.Fprintf(bw, " get %s", p.Getter)
			}
			bw.WriteByte('\n')
		}
		if len(c.Abstract) > 0 {
			fmt.Fprintf(bw, "  abstract %s\n", strings.Join(c.Abstract, " "))
		}
		for _, m := range c.Methods {
			writeBody(bw, "  method", m, mod.Pool)
		}
		bw.WriteString("end\n")
	}
	for _, fn := range mod.Functions {
		bw.WriteByte('\n')
		writeBody(bw, "function", fn, mod.Pool)
	}
	return bw.Flush()
}

func writeBody(w *bufio.Writer, head string, body *MethodBody, pool *Pool) {
	indent := strings.Repeat(" ", len(head)-len(strings.TrimLeft(head, " ")))
	fmt.Fprintf(w, "%s %s %d %d  ; vars=%d\n", head, body.Name, body.Params, body.Returns, body.MaxVars)
	targets := make(map[int]bool)
	for pc := range body.Ops {
		op := &body.Ops[pc]
		if op.Code.HasJump() {
			targets[op.Target(pc)] = true
		}
		for _, c := range op.Catches {
			targets[pc+c.Rel] = true
		}
	}
	for pc := range body.Ops {
		mark := "  "
		if targets[pc] {
			mark = "@ "
		}
		fmt.Fprintf(w, "%s%s%4d  %s\n", indent, mark, pc, FormatOp(&body.Ops[pc], pc, pool))
	}
	if targets[len(body.Ops)] {
		fmt.Fprintf(w, "%s@ %4d  <end>\n", indent, len(body.Ops))
	}
	fmt.Fprintf(w, "%send\n", indent)
}

// FormatOp renders op at pc with operands decoded against pool.
func FormatOp(op *Op, pc int, pool *Pool) string {
	var sb strings.Builder
	name := op.Code.String()
	sb.WriteString(runewidth.FillRight(name, mnemonicWidth))

	var parts []string
	arg := func(a int) string {
		if IsConst(a) && pool != nil && pool.Valid(a) {
			return pool.At(a).String()
		}
		return FormatArg(a)
	}
	konst := func(k int) string {
		if pool != nil && pool.Valid(k) {
			return pool.At(k).String()
		}
		return fmt.Sprintf("#%d", k)
	}

	switch op.Code.Layout() {
	case LayoutVar, LayoutVarInit:
		parts = append(parts, konst(op.Const), konst(op.Name))
	case LayoutNew, LayoutInject:
		parts = append(parts, konst(op.Const))
	case LayoutGuard:
		for _, c := range op.Catches {
			parts = append(parts, fmt.Sprintf("%s %s @%d", konst(c.Type), FormatArg(c.Reg), pc+c.Rel))
		}
	}
	for i, a := range op.Args {
		parts = append(parts, arg(a))
		if i == 0 {
			switch op.Code.Layout() {
			case LayoutInvoke, LayoutPropGet, LayoutPropSet:
				parts = append(parts, konst(op.Const))
			}
		}
	}
	if op.Code.Layout() == LayoutTypeTest {
		parts = append(parts, konst(op.Const))
	}
	if op.Code.HasJump() {
		parts = append(parts, fmt.Sprintf("@%d", op.Target(pc)))
	}
	sb.WriteString(strings.Join(parts, ", "))
	if len(op.Rets) > 0 {
		rets := make([]string, len(op.Rets))
		for i, r := range op.Rets {
			rets[i] = FormatArg(r)
		}
		sb.WriteString(" -> ")
		sb.WriteString(strings.Join(rets, ", "))
	}
	return strings.TrimRight(sb.String(), " ")
}
