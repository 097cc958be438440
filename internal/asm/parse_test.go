package asm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"xvm/internal/diag"
)

const sample = `module demo

; a counter with a computed label
class Counter implements Named
  prop count = 0
  prop label get describe
  method inc 0 1
    ADD .count, 1 -> r0
    P_SET this, .count, r0
    RETURN r0
  end
  method describe 0 1
    RETURN "counter"
  end
end

interface Named
  abstract label
end

function run 1 1
    VAR_I Int :n, r0 -> r1
loop:
    JMP_ZERO r1, @done
    SUB r1, 1 -> r1
    JMP @loop
done:
    GUARD IllegalState r2 @caught
    THROW "boom"  # never reached
    GUARD_END @out
caught:
    CATCH_END @out
out:
    NEW Counter -> r3
    INVOKE r3, :inc -> r4
    RETURN r4
end
`

func TestParseSample(t *testing.T) {
	mod, err := ParseString("demo.xasm", sample)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if mod.Name != "demo" {
		t.Fatalf("want module demo, got %q", mod.Name)
	}
	counter := mod.Class("Counter")
	if counter == nil || len(counter.Props) != 2 || counter.Props[1].Getter != "describe" {
		t.Fatalf("unexpected Counter declaration: %+v", counter)
	}
	if len(counter.Implements) != 1 || counter.Implements[0] != "Named" {
		t.Fatalf("want implements Named, got %v", counter.Implements)
	}
	if init := counter.Props[0].Init; mod.Pool.At(init).Int != 0 || mod.Pool.At(init).Kind != ConstInt {
		t.Fatalf("count must start at int 0")
	}
	run := mod.Function("run")
	if run == nil || run.Params != 1 || run.MaxVars != 5 {
		t.Fatalf("unexpected run body: %+v", run)
	}
	if run.Ops[1].Code != OpJmpZero || run.Ops[1].Target(1) != 4 {
		t.Fatalf("JMP_ZERO must target pc 4, got %d", run.Ops[1].Target(1))
	}
	if run.Ops[3].Rel != -2 {
		t.Fatalf("backward JMP: want -2, got %d", run.Ops[3].Rel)
	}
	if run.Ops[1].Line != 24 {
		t.Fatalf("want line 24 on JMP_ZERO, got %d", run.Ops[1].Line)
	}
	g := run.Ops[4]
	if g.Code != OpGuard || g.Catches[0].Rel != 3 || RegisterIndex(g.Catches[0].Reg) != 2 {
		t.Fatalf("unexpected guard %+v", g)
	}
}

func TestParseDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want diag.Code
	}{
		{"unknown opcode", "function f 0 0\n  FROB r0\nend\n", diag.AsmUnknownOpcode},
		{"unterminated", "function f 0 0\n  RETURN\n", diag.AsmUnterminated},
		{"unbound label", "function f 0 0\n  JMP @nowhere\nend\n", diag.AsmUnboundLabel},
		{"bad operand", "function f 0 0\n  MOV ?, r0\nend\n", diag.AsmBadOperand},
		{"stray end", "end\n", diag.AsmUnexpectedEnd},
		{"unknown block", "widget W\nend\n", diag.AsmUnknownBlock},
		{"bad string", "function f 0 0\n  RETURN \"open\nend\n", diag.AsmSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString("main.xasm", tt.src)
			var be *diag.BagError
			if !errors.As(err, &be) {
				t.Fatalf("want *diag.BagError, got %v", err)
			}
			found := false
			for _, d := range be.Items {
				if d.Code == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("want %s, got %v", tt.want.ID(), be.Items)
			}
		})
	}
}

func TestBuildErrorNotesEnclosingBody(t *testing.T) {
	src := "class Box\n  method get 0 1\n    RETURN 1\n  end\nend\n\nfunction f 0 0\n  JMP @nowhere\nend\n"
	_, err := ParseString("main.xasm", src)
	var be *diag.BagError
	if !errors.As(err, &be) {
		t.Fatalf("want *diag.BagError, got %v", err)
	}
	var d diag.Diagnostic
	for _, item := range be.Items {
		if item.Code == diag.AsmUnboundLabel {
			d = item
		}
	}
	if d.Code != diag.AsmUnboundLabel {
		t.Fatalf("want %s, got %v", diag.AsmUnboundLabel.ID(), be.Items)
	}
	if len(d.Notes) != 1 || d.Notes[0].Msg != "in function f" {
		t.Fatalf("want note pointing at function f, got %+v", d.Notes)
	}
}

func TestDisassembleListing(t *testing.T) {
	mod, err := ParseString("demo.xasm", sample)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	var buf bytes.Buffer
	if err := Disassemble(&buf, mod); err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"class Counter implements Named",
		"prop label get describe",
		"JMP_ZERO    r1, @4",
		"GUARD       IllegalState r2 @7",
		"INVOKE      r3, :inc -> r4",
		"P_SET       this, .count, r0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("listing lacks %q:\n%s", want, out)
		}
	}
}
