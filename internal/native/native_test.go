package native_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"xvm/internal/asm"
	"xvm/internal/native"
	"xvm/internal/vm"
)

// run assembles a zero-argument main with one result and runs it.
func run(t *testing.T, body func(fn *asm.MethodBuilder)) (vm.Handle, string, error) {
	t.Helper()
	mb := asm.NewModuleBuilder("native")
	body(mb.Function("main", 0, 1))
	mod, err := mb.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	reg := native.NewRegistry()
	if err := reg.Load(mod); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := reg.Link(); err != nil {
		t.Fatalf("link: %v", err)
	}
	var out bytes.Buffer
	rt, err := vm.NewRuntime(reg, vm.Config{Out: &out})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := rt.Start(ctx, "main")
	if err != nil {
		return nil, out.String(), err
	}
	if len(got) != 1 {
		t.Fatalf("want 1 result, got %d", len(got))
	}
	return got[0], out.String(), nil
}

func faultType(err error) string {
	var he *vm.HostError
	if errors.As(err, &he) {
		return he.Fault.Type().Name
	}
	return ""
}

func TestIntOperations(t *testing.T) {
	tests := []struct {
		name  string
		code  asm.Opcode
		x, y  int64
		want  string
		fault string
	}{
		{name: "add", code: asm.OpAdd, x: 40, y: 2, want: "42"},
		{name: "sub negative", code: asm.OpSub, x: 2, y: 40, want: "-38"},
		{name: "mul", code: asm.OpMul, x: -6, y: 7, want: "-42"},
		{name: "div truncates", code: asm.OpDiv, x: -7, y: 2, want: "-3"},
		{name: "mod sign follows dividend", code: asm.OpMod, x: -7, y: 2, want: "-1"},
		{name: "div by zero", code: asm.OpDiv, x: 1, y: 0, fault: "DivisionByZero"},
		{name: "mod by zero", code: asm.OpMod, x: 1, y: 0, fault: "DivisionByZero"},
		{name: "add overflow", code: asm.OpAdd, x: 1<<63 - 1, y: 1, fault: "IllegalState"},
		{name: "sub overflow", code: asm.OpSub, x: -1 << 63, y: 1, fault: "IllegalState"},
		{name: "mul overflow", code: asm.OpMul, x: 1 << 62, y: 4, fault: "IllegalState"},
		{name: "div overflow", code: asm.OpDiv, x: -1 << 63, y: -1, fault: "IllegalState"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := run(t, func(fn *asm.MethodBuilder) {
				fn.Binary(tt.code, fn.Int(tt.x), fn.Int(tt.y), asm.Reg(0))
				fn.Return(asm.Reg(0))
			})
			if tt.fault != "" {
				if faultType(err) != tt.fault {
					t.Fatalf("want %s, got %v", tt.fault, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if vm.Display(got) != tt.want {
				t.Fatalf("want %s, got %s", tt.want, vm.Display(got))
			}
		})
	}
}

func TestIntUnary(t *testing.T) {
	got, _, err := run(t, func(fn *asm.MethodBuilder) {
		fn.Unary(asm.OpNeg, fn.Int(5), asm.Reg(0))
		fn.Invoke(asm.Reg(0), "abs", nil, asm.Reg(1))
		fn.Invoke(asm.Reg(1), "toString", nil, asm.Reg(2))
		fn.Return(asm.Reg(2))
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s, ok := got.(vm.StringHandle); !ok || s.Value != "5" {
		t.Fatalf("want String 5, got %s", vm.Display(got))
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		name string
		code asm.Opcode
		x, y func(fn *asm.MethodBuilder) int
		want bool
	}{
		{"int less", asm.OpIsLt, intConst(1), intConst(2), true},
		{"int greater equal", asm.OpIsGte, intConst(2), intConst(2), true},
		{"bool order", asm.OpIsLt, boolConst(false), boolConst(true), true},
		{"string order", asm.OpIsLt, strConst("apple"), strConst("banana"), true},
		{"string normalised equality", asm.OpIsEq, strConst("\u00e9"), strConst("e\u0301"), true},
		{"different types unequal", asm.OpIsEq, intConst(1), strConst("1"), false},
		{"null equals null", asm.OpIsEq, nullConst, nullConst, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := run(t, func(fn *asm.MethodBuilder) {
				fn.Binary(tt.code, tt.x(fn), tt.y(fn), asm.Reg(0))
				fn.Return(asm.Reg(0))
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			b, ok := got.(vm.BoolHandle)
			if !ok || b.Value != tt.want {
				t.Fatalf("want %v, got %s", tt.want, vm.Display(got))
			}
		})
	}
}

func TestOrderAcrossTypesFaults(t *testing.T) {
	_, _, err := run(t, func(fn *asm.MethodBuilder) {
		fn.Binary(asm.OpIsLt, fn.Int(1), fn.Str("2"), asm.Reg(0))
		fn.Return(asm.Reg(0))
	})
	if faultType(err) != "TypeMismatch" {
		t.Fatalf("want TypeMismatch, got %v", err)
	}
}

func TestBooleanOperations(t *testing.T) {
	tests := []struct {
		method string
		x, y   bool
		want   bool
	}{
		{"and", true, false, false},
		{"or", true, false, true},
		{"xor", true, true, false},
		{"xor", true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, _, err := run(t, func(fn *asm.MethodBuilder) {
				fn.Mov(fn.Bool(tt.x), asm.Reg(0))
				fn.Invoke(asm.Reg(0), tt.method, []int{fn.Bool(tt.y)}, asm.Reg(1))
				fn.Return(asm.Reg(1))
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if b := got.(vm.BoolHandle); b.Value != tt.want {
				t.Fatalf("want %v, got %v", tt.want, b.Value)
			}
		})
	}
}

func TestStringOperations(t *testing.T) {
	got, _, err := run(t, func(fn *asm.MethodBuilder) {
		fn.Binary(asm.OpAdd, fn.Str("cafe"), fn.Str("\u0301"), asm.Reg(0))
		fn.Invoke(asm.Reg(0), "size", nil, asm.Reg(1))
		fn.Return(asm.Reg(1))
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := got.(vm.IntHandle).Value; n != 4 {
		t.Fatalf("want 4 characters after composition, got %d", n)
	}

	got, _, err = run(t, func(fn *asm.MethodBuilder) {
		fn.Mov(fn.Str("hello world"), asm.Reg(0))
		fn.Invoke(asm.Reg(0), "contains", []int{fn.Str("o w")}, asm.Reg(1))
		fn.Return(asm.Reg(1))
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !got.(vm.BoolHandle).Value {
		t.Fatalf("want contains to be true")
	}
}

func TestNullRejectsCalls(t *testing.T) {
	_, _, err := run(t, func(fn *asm.MethodBuilder) {
		fn.Mov(fn.Null(), asm.Reg(0))
		fn.Invoke(asm.Reg(0), "size", nil, asm.Reg(1))
		fn.Return(asm.Reg(1))
	})
	if faultType(err) != "Unsupported" {
		t.Fatalf("want Unsupported, got %v", err)
	}
}

func TestConsolePrint(t *testing.T) {
	_, out, err := run(t, func(fn *asm.MethodBuilder) {
		fn.Inject(native.ConsoleInjection, asm.Reg(0))
		fn.Invoke(asm.Reg(0), "print", []int{fn.Str("a"), fn.Int(1)})
		fn.Invoke(asm.Reg(0), "println", []int{fn.Bool(true), fn.Null()})
		fn.Return(fn.Int(0))
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "a 1true null\n" {
		t.Fatalf("want %q, got %q", "a 1true null\n", out)
	}
}

func TestArityMismatch(t *testing.T) {
	_, _, err := run(t, func(fn *asm.MethodBuilder) {
		fn.Mov(fn.Int(1), asm.Reg(0))
		fn.Invoke(asm.Reg(0), "add", nil, asm.Reg(1))
		fn.Return(asm.Reg(1))
	})
	if faultType(err) != "IllegalArgument" {
		t.Fatalf("want IllegalArgument, got %v", err)
	}
}

func intConst(v int64) func(*asm.MethodBuilder) int {
	return func(fn *asm.MethodBuilder) int { return fn.Int(v) }
}

func boolConst(v bool) func(*asm.MethodBuilder) int {
	return func(fn *asm.MethodBuilder) int { return fn.Bool(v) }
}

func strConst(s string) func(*asm.MethodBuilder) int {
	return func(fn *asm.MethodBuilder) int { return fn.Str(s) }
}

func nullConst(fn *asm.MethodBuilder) int { return fn.Null() }
