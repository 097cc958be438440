package asm

import (
	"errors"
	"strings"
	"testing"

	"xvm/internal/diag"
)

func buildErrors(t *testing.T, err error) []*BuildError {
	t.Helper()
	if err == nil {
		t.Fatalf("want build error, got nil")
	}
	var out []*BuildError
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("want joined error, got %T", err)
	}
	for _, e := range joined.Unwrap() {
		var be *BuildError
		if !errors.As(e, &be) {
			t.Fatalf("want *BuildError, got %T", e)
		}
		out = append(out, be)
	}
	return out
}

func TestRegisterEncoding(t *testing.T) {
	for n := 0; n < 40; n++ {
		arg := Reg(n)
		if !IsReg(arg) || IsConst(arg) || IsPseudo(arg) {
			t.Fatalf("r%d encoded as %d is not a register", n, arg)
		}
		if got := RegisterIndex(arg); got != n {
			t.Fatalf("want r%d, got r%d", n, got)
		}
	}
	for _, a := range []int{ArgThis, ArgSuper, ArgStack, ArgIgnore, ArgService, ArgLocal} {
		if !IsPseudo(a) || IsReg(a) {
			t.Fatalf("%d must be a pseudo-register", a)
		}
	}
}

func TestLinkResolvesRelativeDisplacement(t *testing.T) {
	mb := NewModuleBuilder("m")
	fn := mb.Function("loop", 1, 1)
	fn.Label("top")
	fn.JmpIf(OpJmpZero, Reg(0), "done")
	fn.Binary(OpSub, Reg(0), fn.Int(1), Reg(0))
	fn.Jmp("top")
	fn.Label("done")
	fn.Return(Reg(0))

	mod, err := mb.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ops := mod.Function("loop").Ops
	if ops[0].Rel != 3 {
		t.Fatalf("forward jump: want +3, got %+d", ops[0].Rel)
	}
	if ops[2].Rel != -2 {
		t.Fatalf("backward jump: want -2, got %+d", ops[2].Rel)
	}
	if mod.Function("loop").MaxVars != 1 {
		t.Fatalf("want 1 register, got %d", mod.Function("loop").MaxVars)
	}
	if !mod.Pool.Frozen() {
		t.Fatalf("pool must be frozen after build")
	}
}

func TestBuildFaults(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *MethodBuilder)
		want  diag.Code
	}{
		{"unbound label", func(b *MethodBuilder) { b.Jmp("nowhere") }, diag.AsmUnboundLabel},
		{"bad arity", func(b *MethodBuilder) { b.Emit(Op{Code: OpAdd, Args: []int{Reg(0)}, Rets: []int{Reg(1)}}) }, diag.AsmArity},
		{"malformed operand", func(b *MethodBuilder) { b.Emit(Op{Code: OpMov, Args: []int{-9}, Rets: []int{Reg(0)}}) }, diag.AsmMalformedArg},
		{"constant out of range", func(b *MethodBuilder) { b.Emit(Op{Code: OpThrow, Args: []int{999}}) }, diag.AsmMalformedArg},
		{"write to constant", func(b *MethodBuilder) { b.Emit(Op{Code: OpMov, Args: []int{Reg(0)}, Rets: []int{b.Int(3)}}) }, diag.AsmBadReturnTarget},
		{"wrong constant kind", func(b *MethodBuilder) {
			b.Emit(Op{Code: OpPGet, Args: []int{ArgThis}, Const: b.Int(1), Rets: []int{Reg(0)}})
		}, diag.AsmConstKind},
		{"unknown opcode", func(b *MethodBuilder) { b.Emit(Op{Code: Opcode(250)}) }, diag.AsmUnknownOpcode},
		{"jump out of range", func(b *MethodBuilder) { b.Emit(Op{Code: OpJmp, Rel: 10}) }, diag.AsmJumpOutOfRange},
		{"duplicate label", func(b *MethodBuilder) { b.Label("x"); b.Nop(); b.Label("x"); b.Nop() }, diag.AsmDuplicateLabel},
		{"super outside call", func(b *MethodBuilder) { b.Emit(Op{Code: OpMov, Args: []int{ArgSuper}, Rets: []int{Reg(0)}}) }, diag.AsmMalformedArg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := NewModuleBuilder("m")
			tt.build(mb.Function("f", 1, 0))
			_, err := mb.Build()
			errs := buildErrors(t, err)
			for _, e := range errs {
				if e.Code == tt.want {
					return
				}
			}
			t.Fatalf("want %s among %v", tt.want.ID(), errs)
		})
	}
}

func TestGuardClausesResolve(t *testing.T) {
	mb := NewModuleBuilder("m")
	fn := mb.Function("f", 0, 1)
	fn.Guard(CatchSpec{Type: "IllegalState", Reg: Reg(0), Label: "handler"})
	fn.Throw(fn.Str("x"))
	fn.GuardEnd("out")
	fn.Label("handler")
	fn.CatchEnd("out")
	fn.Label("out")
	fn.Return(fn.Int(1))

	mod, err := mb.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g := mod.Function("f").Ops[0]
	if len(g.Catches) != 1 || g.Catches[0].Rel != 3 {
		t.Fatalf("want catch handler at +3, got %+v", g.Catches)
	}
	if mod.Pool.At(g.Catches[0].Type).Str != "IllegalState" {
		t.Fatalf("catch type not recorded")
	}
}

func TestDuplicateDeclarations(t *testing.T) {
	mb := NewModuleBuilder("m")
	mb.Function("f", 0, 0).Return()
	mb.Function("f", 0, 0).Return()
	c := mb.Class("Point", KindClass)
	c.Method("x", 0, 1).Return(ArgThis)
	c.Method("x", 0, 1).Return(ArgThis)
	errs := buildErrors(t, func() error { _, err := mb.Build(); return err }())
	var codes []string
	for _, e := range errs {
		codes = append(codes, e.Code.ID())
	}
	joined := strings.Join(codes, ",")
	if !strings.Contains(joined, diag.LnkDuplicateFunction.ID()) || !strings.Contains(joined, diag.AsmDuplicateMember.ID()) {
		t.Fatalf("want duplicate function and member faults, got %s", joined)
	}
}

func TestPoolInternsAndFreezes(t *testing.T) {
	p := NewPool()
	a := p.Int(7)
	b := p.Int(7)
	if a != b {
		t.Fatalf("want interned index, got %d and %d", a, b)
	}
	if p.Str("7") == a {
		t.Fatalf("string and int constants must not collide")
	}
	p.Freeze()
	if got := p.Int(7); got != a {
		t.Fatalf("lookup of existing constant after freeze: want %d, got %d", a, got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("adding to a frozen pool must panic")
		}
	}()
	p.Int(8)
}
