package vm_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"xvm/internal/asm"
	"xvm/internal/diag"
	"xvm/internal/native"
	"xvm/internal/trace"
	"xvm/internal/vm"
)

type program struct {
	reg *vm.Registry
	rt  *vm.Runtime
	out *bytes.Buffer
}

func load(t *testing.T, mb *asm.ModuleBuilder, cfg vm.Config) *program {
	t.Helper()
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
	out := &bytes.Buffer{}
	cfg.Out = out
	rt, err := vm.NewRuntime(reg, cfg)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	return &program{reg: reg, rt: rt, out: out}
}

func (p *program) start(entry string, args ...vm.Handle) ([]vm.Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.rt.Start(ctx, entry, args...)
}

func wantInt(t *testing.T, got []vm.Handle, want int64) {
	t.Helper()
	if len(got) != 1 {
		t.Fatalf("want 1 result, got %d", len(got))
	}
	n, ok := got[0].(vm.IntHandle)
	if !ok {
		t.Fatalf("want Int result, got %s", vm.Display(got[0]))
	}
	if n.Value != want {
		t.Fatalf("want %d, got %d", want, n.Value)
	}
}

func wantFault(t *testing.T, err error, typ string) *vm.HostError {
	t.Helper()
	var he *vm.HostError
	if !errors.As(err, &he) {
		t.Fatalf("want *vm.HostError, got %v", err)
	}
	if he.Fault.Type().Name != typ {
		t.Fatalf("want %s fault, got %s", typ, he.Fault)
	}
	return he
}

// say prints s through the injected console held in register console.
func say(b *asm.MethodBuilder, console int, s string) {
	b.Invoke(console, "println", []int{b.Str(s)})
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		code asm.Opcode
		x, y int64
		want int64
	}{
		{"add", asm.OpAdd, 2, 3, 5},
		{"sub", asm.OpSub, 2, 3, -1},
		{"mul", asm.OpMul, 6, 7, 42},
		{"div", asm.OpDiv, 7, 2, 3},
		{"mod", asm.OpMod, 7, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := asm.NewModuleBuilder("arith")
			fn := mb.Function("main", 2, 1)
			fn.Binary(tt.code, asm.Reg(0), asm.Reg(1), asm.Reg(2))
			fn.Return(asm.Reg(2))
			p := load(t, mb, vm.Config{})
			got, err := p.start("main", p.reg.MakeInt(tt.x), p.reg.MakeInt(tt.y))
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			wantInt(t, got, tt.want)
		})
	}
}

func TestLoopWithConditionalJumps(t *testing.T) {
	mb := asm.NewModuleBuilder("loop")
	fn := mb.Function("sum", 1, 1)
	fn.VarI("Int", "acc", fn.Int(0), asm.Reg(1))
	fn.Label("top")
	fn.JmpIf(asm.OpJmpZero, asm.Reg(0), "done")
	fn.Binary(asm.OpAdd, asm.Reg(1), asm.Reg(0), asm.Reg(1))
	fn.Binary(asm.OpSub, asm.Reg(0), fn.Int(1), asm.Reg(0))
	fn.Jmp("top")
	fn.Label("done")
	fn.Return(asm.Reg(1))

	p := load(t, mb, vm.Config{})
	got, err := p.start("sum", p.reg.MakeInt(10))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 55)
}

func TestGuardCatchesMatchingFault(t *testing.T) {
	tests := []struct {
		name  string
		catch string
		want  int64
		fault string
	}{
		{"exact type", "DivisionByZero", 7, ""},
		{"base type", "Exception", 7, ""},
		{"unrelated type", "IllegalArgument", 0, "DivisionByZero"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := asm.NewModuleBuilder("guard")
			fn := mb.Function("main", 0, 1)
			fn.Guard(asm.CatchSpec{Type: tt.catch, Reg: asm.Reg(1), Label: "handler"})
			fn.Binary(asm.OpDiv, fn.Int(1), fn.Int(0), asm.Reg(0))
			fn.GuardEnd("done")
			fn.Label("handler")
			fn.Return(fn.Int(7))
			fn.Label("done")
			fn.Return(fn.Int(0))

			p := load(t, mb, vm.Config{})
			got, err := p.start("main")
			if tt.fault != "" {
				wantFault(t, err, tt.fault)
				return
			}
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			wantInt(t, got, tt.want)
		})
	}
}

func TestGuardBypassedWithoutFault(t *testing.T) {
	mb := asm.NewModuleBuilder("guard")
	fn := mb.Function("main", 0, 1)
	fn.Guard(asm.CatchSpec{Type: "Exception", Reg: asm.Reg(1), Label: "handler"})
	fn.Binary(asm.OpAdd, fn.Int(1), fn.Int(1), asm.Reg(0))
	fn.GuardEnd("done")
	fn.Label("handler")
	fn.Return(fn.Int(-1))
	fn.Label("done")
	fn.Return(fn.Int(2))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 2)
}

func TestCaughtFaultIsBound(t *testing.T) {
	mb := asm.NewModuleBuilder("guard")
	fn := mb.Function("main", 0, 1)
	fn.Guard(asm.CatchSpec{Type: "Exception", Reg: asm.Reg(0), Label: "handler"})
	fn.Throw(fn.Str("boom"))
	fn.GuardEnd("done")
	fn.Label("handler")
	fn.PGet(asm.Reg(0), "message", asm.Reg(1))
	fn.Return(asm.Reg(1))
	fn.Label("done")
	fn.Return(fn.Null())

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(got) != 1 || vm.Display(got[0]) != "boom" {
		t.Fatalf("want message boom, got %v", got)
	}
}

func TestFinallyRunsOncePerExitPath(t *testing.T) {
	tests := []struct {
		name  string
		body  func(fn *asm.MethodBuilder)
		want  int64
		fault string
	}{
		{
			name: "normal",
			body: func(fn *asm.MethodBuilder) {
				fn.Binary(asm.OpAdd, fn.Int(1), fn.Int(1), asm.Reg(1))
			},
			want: 2,
		},
		{
			name: "early return",
			body: func(fn *asm.MethodBuilder) {
				fn.Return(fn.Int(1))
			},
			want: 1,
		},
		{
			name: "fault",
			body: func(fn *asm.MethodBuilder) {
				fn.Throw(fn.Str("boom"))
			},
			fault: "Exception",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := asm.NewModuleBuilder("finally")
			fn := mb.Function("main", 0, 1)
			fn.Inject(native.ConsoleInjection, asm.Reg(0))
			fn.GuardAll("fin")
			tt.body(fn)
			fn.Label("fin")
			fn.Finally()
			say(fn, asm.Reg(0), "finally")
			fn.FinallyEnd()
			fn.Return(fn.Int(2))

			p := load(t, mb, vm.Config{})
			got, err := p.start("main")
			if tt.fault != "" {
				wantFault(t, err, tt.fault)
			} else {
				if err != nil {
					t.Fatalf("start: %v", err)
				}
				wantInt(t, got, tt.want)
			}
			if n := strings.Count(p.out.String(), "finally"); n != 1 {
				t.Fatalf("want finally once, got %d times: %q", n, p.out.String())
			}
		})
	}
}

func TestFinallyRethrowsIntoOuterGuard(t *testing.T) {
	mb := asm.NewModuleBuilder("finally")
	fn := mb.Function("main", 0, 1)
	fn.Inject(native.ConsoleInjection, asm.Reg(0))
	fn.Guard(asm.CatchSpec{Type: "Exception", Reg: asm.Reg(1), Label: "caught"})
	fn.GuardAll("fin")
	fn.Throw(fn.Str("boom"))
	fn.Label("fin")
	fn.Finally()
	say(fn, asm.Reg(0), "finally")
	fn.FinallyEnd()
	fn.GuardEnd("done")
	fn.Label("caught")
	say(fn, asm.Reg(0), "caught")
	fn.Return(fn.Int(3))
	fn.Label("done")
	fn.Return(fn.Int(0))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 3)
	if p.out.String() != "finally\ncaught\n" {
		t.Fatalf("want finally then caught, got %q", p.out.String())
	}
}

func TestFinallyAroundFaultingCall(t *testing.T) {
	mb := asm.NewModuleBuilder("finally")
	inner := mb.Function("inner", 0, 0)
	inner.Throw(inner.Str("inner"))

	fn := mb.Function("main", 0, 1)
	fn.Inject(native.ConsoleInjection, asm.Reg(0))
	fn.GuardAll("fin")
	fn.Call(fn.Func("inner"), nil)
	fn.Label("fin")
	fn.Finally()
	say(fn, asm.Reg(0), "finally")
	fn.FinallyEnd()
	fn.Return(fn.Int(2))

	p := load(t, mb, vm.Config{})
	_, err := p.start("main")
	he := wantFault(t, err, "Exception")
	if he.Fault.Message() != "inner" {
		t.Fatalf("want message inner, got %q", he.Fault.Message())
	}
	if n := strings.Count(p.out.String(), "finally"); n != 1 {
		t.Fatalf("want finally once, got %d times: %q", n, p.out.String())
	}
}

func TestFaultReachesCallerUnchanged(t *testing.T) {
	mb := asm.NewModuleBuilder("unwind")
	leaf := mb.Function("leaf", 0, 0)
	leaf.Throw(leaf.Str("deep"))
	mid := mb.Function("mid", 0, 0)
	mid.Call(mid.Func("leaf"), nil)
	mid.Return()

	fn := mb.Function("main", 0, 1)
	fn.Guard(asm.CatchSpec{Type: "Exception", Reg: asm.Reg(0), Label: "caught"})
	fn.Call(fn.Func("mid"), nil)
	fn.GuardEnd("done")
	fn.Label("caught")
	fn.Return(asm.Reg(0))
	fn.Label("done")
	fn.Return(fn.Null())

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ex, ok := got[0].(*vm.ExceptionHandle)
	if !ok {
		t.Fatalf("want caught exception, got %s", vm.Display(got[0]))
	}
	if ex.Type().Name != "Exception" || ex.Message() != "deep" {
		t.Fatalf("want Exception deep, got %s", ex)
	}
	if len(ex.Backtrace) == 0 || ex.Backtrace[0].Method != "leaf" {
		t.Fatalf("want backtrace from leaf, got %v", ex.Backtrace)
	}
}

func TestDeferredOperandResolvesOnce(t *testing.T) {
	mb := asm.NewModuleBuilder("deferred")
	box := mb.Class("Box", asm.KindClass)
	box.PropGetter("value", "computeValue")
	get := box.Method("computeValue", 0, 1)
	get.Inject(native.ConsoleInjection, asm.Reg(0))
	say(get, asm.Reg(0), "get")
	get.Return(get.Int(41))

	fn := mb.Function("main", 0, 1)
	fn.New("Box", nil, asm.Reg(0))
	fn.PRef(asm.Reg(0), "value", asm.Reg(1))
	fn.Binary(asm.OpAdd, asm.Reg(1), fn.Int(1), asm.Reg(2))
	fn.Return(asm.Reg(2))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 42)
	if n := strings.Count(p.out.String(), "get"); n != 1 {
		t.Fatalf("want getter to run once, got %d", n)
	}
}

func TestPropertyConstantReadsThis(t *testing.T) {
	mb := asm.NewModuleBuilder("props")
	pt := mb.Class("Point", asm.KindClass)
	pt.Prop("x", mb.Pool().Int(0))
	pt.Prop("y", mb.Pool().Int(0))
	sum := pt.Method("sum", 0, 1)
	sum.Binary(asm.OpAdd, sum.Prop("x"), sum.Prop("y"), asm.Reg(0))
	sum.Return(asm.Reg(0))

	fn := mb.Function("main", 0, 1)
	fn.New("Point", []int{fn.Int(3), fn.Int(4)}, asm.Reg(0))
	fn.PSet(asm.Reg(0), "y", fn.Int(9))
	fn.Invoke(asm.Reg(0), "sum", nil, asm.Reg(1))
	fn.Return(asm.Reg(1))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 12)
}

func TestRepeatedOpKeepsOperandStack(t *testing.T) {
	mb := asm.NewModuleBuilder("repeat")
	svc := mb.Class("Adder", asm.KindService)
	slow := svc.Method("slow", 0, 1)
	slow.Return(slow.Int(10))

	fn := mb.Function("main", 0, 1)
	fn.NewService("Adder", nil, asm.Reg(0))
	fn.VarD("Int", "pending", asm.Reg(1))
	fn.Invoke(asm.Reg(0), "slow", nil, asm.Reg(1))
	fn.Mov(fn.Int(5), asm.ArgStack)
	fn.Binary(asm.OpAdd, asm.ArgStack, asm.Reg(1), asm.Reg(2))
	fn.Return(asm.Reg(2))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 15)
}

func TestSuperWalksMixinThenSuperclass(t *testing.T) {
	mb := asm.NewModuleBuilder("super")
	describe := func(cb *asm.ClassBuilder, label string, super bool) {
		m := cb.Method("describe", 0, 0)
		m.Inject(native.ConsoleInjection, asm.Reg(0))
		say(m, asm.Reg(0), label)
		if super {
			m.Super(nil)
		}
		m.Return()
	}
	describe(mb.Class("Base", asm.KindClass), "Base", false)
	describe(mb.Class("Loud", asm.KindMixin), "Loud", true)
	describe(mb.Class("Derived", asm.KindClass).Extends("Base").Incorporates("Loud"), "Derived", true)

	fn := mb.Function("main", 0, 0)
	fn.New("Derived", nil, asm.Reg(0))
	fn.Invoke(asm.Reg(0), "describe", nil)
	fn.Return()

	p := load(t, mb, vm.Config{})
	if _, err := p.start("main"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.out.String(); got != "Derived\nLoud\nBase\n" {
		t.Fatalf("want Derived, Loud, Base, got %q", got)
	}
}

func TestSuperPastChainEndFaults(t *testing.T) {
	mb := asm.NewModuleBuilder("super")
	m := mb.Class("Only", asm.KindClass).Method("run", 0, 0)
	m.Super(nil)
	m.Return()

	fn := mb.Function("main", 0, 0)
	fn.New("Only", nil, asm.Reg(0))
	fn.Invoke(asm.Reg(0), "run", nil)
	fn.Return()

	p := load(t, mb, vm.Config{})
	_, err := p.start("main")
	wantFault(t, err, "Unsupported")
}

func TestLinkRejectsAmbiguousDefaults(t *testing.T) {
	mb := asm.NewModuleBuilder("ambiguous")
	for _, name := range []string{"Left", "Right"} {
		m := mb.Class(name, asm.KindInterface).Method("greet", 0, 0)
		m.Return()
	}
	mb.Class("Both", asm.KindClass).Implements("Left", "Right")
	mod, err := mb.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	reg := native.NewRegistry()
	if err := reg.Load(mod); err != nil {
		t.Fatalf("load: %v", err)
	}
	err = reg.Link()
	var le *vm.LinkError
	if !errors.As(err, &le) {
		t.Fatalf("want *vm.LinkError, got %v", err)
	}
	if le.Code != diag.LnkAmbiguousDispatch {
		t.Fatalf("want %s, got %s", diag.LnkAmbiguousDispatch.ID(), le.Code.ID())
	}
}

func TestStackOverflow(t *testing.T) {
	mb := asm.NewModuleBuilder("overflow")
	fn := mb.Function("rec", 0, 0)
	fn.Call(fn.Func("rec"), nil)
	fn.Return()

	p := load(t, mb, vm.Config{MaxDepth: 64})
	_, err := p.start("rec")
	he := wantFault(t, err, "StackOverflow")
	if len(he.Fault.Backtrace) != 64 {
		t.Fatalf("want 64 backtrace frames, got %d", len(he.Fault.Backtrace))
	}
}

func TestUncaughtFaultReachesHost(t *testing.T) {
	mb := asm.NewModuleBuilder("fault")
	fn := mb.Function("main", 0, 0)
	fn.At(3)
	fn.Assert(fn.Bool(false), "never")
	fn.Return()

	p := load(t, mb, vm.Config{})
	_, err := p.start("main")
	he := wantFault(t, err, "Assertion")
	if he.Fault.Message() != "never" {
		t.Fatalf("want message never, got %q", he.Fault.Message())
	}
	if !strings.Contains(he.Format(), "main at line 3") {
		t.Fatalf("want backtrace with line, got %q", he.Format())
	}
}

func TestSiblingServiceFaultIsIsolated(t *testing.T) {
	mb := asm.NewModuleBuilder("isolation")
	crash := mb.Class("Crasher", asm.KindService).Method("crash", 0, 0)
	crash.Throw(crash.Str("down"))
	ok := mb.Class("Worker", asm.KindService).Method("work", 0, 1)
	ok.Return(ok.Int(5))

	fn := mb.Function("main", 0, 1)
	fn.NewService("Crasher", nil, asm.Reg(0))
	fn.NewService("Worker", nil, asm.Reg(1))
	fn.Invoke(asm.Reg(0), "crash", nil)
	fn.Invoke(asm.Reg(1), "work", nil, asm.Reg(2))
	fn.Return(asm.Reg(2))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 5)
	for _, s := range p.rt.Services() {
		faults := len(s.Faults())
		switch s.Name {
		case "Crasher":
			if faults != 1 {
				t.Fatalf("want 1 fault in Crasher, got %d", faults)
			}
		default:
			if faults != 0 {
				t.Fatalf("want no faults in %s, got %d", s.Name, faults)
			}
		}
	}
}

func TestFailedConstructTerminatesService(t *testing.T) {
	mb := asm.NewModuleBuilder("terminate")
	bad := mb.Class("Bad", asm.KindService)
	ctor := bad.Method("construct", 0, 0)
	ctor.Throw(ctor.Str("no"))
	m := bad.Method("m", 0, 1)
	m.Return(m.Int(1))

	fn := mb.Function("main", 0, 1)
	fn.NewService("Bad", nil, asm.Reg(0))
	fn.Invoke(asm.Reg(0), "m", nil, asm.Reg(1))
	fn.Return(asm.Reg(1))

	p := load(t, mb, vm.Config{})
	_, err := p.start("main")
	wantFault(t, err, "ServiceTerminated")
}

func TestMutableArgumentIsCopied(t *testing.T) {
	mb := asm.NewModuleBuilder("copy")
	mb.Class("Cell", asm.KindClass).Prop("v", mb.Pool().Int(0))
	bump := mb.Class("Bumper", asm.KindService).Method("bump", 1, 0)
	bump.PSet(asm.Reg(0), "v", bump.Int(99))
	bump.Return()

	fn := mb.Function("main", 0, 1)
	fn.New("Cell", []int{fn.Int(1)}, asm.Reg(0))
	fn.NewService("Bumper", nil, asm.Reg(1))
	fn.Invoke(asm.Reg(1), "bump", []int{asm.Reg(0)})
	fn.PGet(asm.Reg(0), "v", asm.Reg(2))
	fn.Return(asm.Reg(2))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 1)
}

func TestThrownExceptionFreezesWhatItHolds(t *testing.T) {
	tests := []struct {
		name  string
		use   func(fn *asm.MethodBuilder, box int)
		want  int64
		fault string
	}{
		{
			name: "read",
			use: func(fn *asm.MethodBuilder, box int) {
				fn.PGet(box, "v", asm.Reg(4))
				fn.Return(asm.Reg(4))
			},
			want: 1,
		},
		{
			name: "write",
			use: func(fn *asm.MethodBuilder, box int) {
				fn.PSet(box, "v", fn.Int(2))
				fn.Return(fn.Int(0))
			},
			fault: "ReadOnly",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := asm.NewModuleBuilder("oops")
			mb.Class("Cell", asm.KindClass).Prop("v", mb.Pool().Int(0))
			mb.Class("Oops", asm.KindConst).Extends("Exception").Prop("box", asm.NoConst)
			fail := mb.Class("Thrower", asm.KindService).Method("fail", 0, 1)
			fail.New("Cell", []int{fail.Int(1)}, asm.Reg(0))
			fail.New("Oops", []int{fail.Str("oops"), fail.Null(), asm.Reg(0)}, asm.Reg(1))
			fail.Throw(asm.Reg(1))

			fn := mb.Function("main", 0, 1)
			fn.NewService("Thrower", nil, asm.Reg(0))
			fn.Guard(asm.CatchSpec{Type: "Oops", Reg: asm.Reg(1), Label: "caught"})
			fn.Invoke(asm.Reg(0), "fail", nil, asm.Reg(2))
			fn.GuardEnd("done")
			fn.Label("caught")
			fn.PGet(asm.Reg(1), "box", asm.Reg(3))
			tt.use(fn, asm.Reg(3))
			fn.Label("done")
			fn.Return(fn.Int(-1))

			p := load(t, mb, vm.Config{})
			got, err := p.start("main")
			if tt.fault != "" {
				wantFault(t, err, tt.fault)
				return
			}
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			wantInt(t, got, tt.want)
		})
	}
}

func orderModule() *asm.ModuleBuilder {
	mb := asm.NewModuleBuilder("order")
	nap := mb.Class("Sleeper", asm.KindService).Method("nap", 0, 1)
	nap.Return(nap.Int(1))
	slow := mb.Class("Slow", asm.KindService)
	first := slow.Method("first", 0, 1)
	first.NewService("Sleeper", nil, asm.Reg(0))
	first.Invoke(asm.Reg(0), "nap", nil, asm.Reg(1))
	first.Return(asm.Reg(1))
	echo := slow.Method("echo", 1, 1)
	echo.Return(asm.Reg(0))

	fn := mb.Function("main", 0, 1)
	fn.NewService("Slow", nil, asm.Reg(0))
	fn.VarD("Int", "a", asm.Reg(1))
	fn.VarD("Int", "b", asm.Reg(2))
	fn.Invoke(asm.Reg(0), "first", nil, asm.Reg(1))
	fn.Invoke(asm.Reg(0), "echo", []int{fn.Int(2)}, asm.Reg(2))
	fn.Invoke(asm.Reg(0), "echo", []int{fn.Int(3)}, asm.Reg(3))
	fn.Binary(asm.OpAdd, asm.Reg(1), asm.Reg(2), asm.Reg(4))
	fn.Binary(asm.OpAdd, asm.Reg(4), asm.Reg(3), asm.Reg(4))
	fn.Return(asm.Reg(4))
	return mb
}

func TestRepliesKeepSendOrder(t *testing.T) {
	for _, seed := range []uint64{0, 7, 42} {
		ring := trace.NewRingTracer(512, trace.LevelService)
		p := load(t, orderModule(), vm.Config{Tracer: ring, FuzzSeed: seed})
		got, err := p.start("main")
		if err != nil {
			t.Fatalf("seed %d: start: %v", seed, err)
		}
		wantInt(t, got, 6)

		var seqs []uint64
		for _, ev := range ring.Snapshot() {
			if ev.Name != "response:main" {
				continue
			}
			var id, seq uint64
			if _, err := fmt.Sscanf(ev.Detail, "#%d seq=%d", &id, &seq); err != nil {
				t.Fatalf("seed %d: bad response detail %q: %v", seed, ev.Detail, err)
			}
			seqs = append(seqs, seq)
		}
		// construct, first, echo, echo
		if len(seqs) != 4 {
			t.Fatalf("seed %d: want 4 responses to main, got %v", seed, seqs)
		}
		for i, seq := range seqs {
			if seq != uint64(i) {
				t.Fatalf("seed %d: want responses in send order, got %v", seed, seqs)
			}
		}
	}
}

func TestRequestsWaitForConstruct(t *testing.T) {
	mb := asm.NewModuleBuilder("ctor")
	nap := mb.Class("Sleeper", asm.KindService).Method("nap", 0, 1)
	nap.Return(nap.Int(1))
	lazy := mb.Class("Lazy", asm.KindService).Prop("ready", mb.Pool().Int(0))
	ctor := lazy.Method("construct", 0, 0)
	ctor.NewService("Sleeper", nil, asm.Reg(0))
	ctor.Invoke(asm.Reg(0), "nap", nil, asm.Reg(1))
	ctor.PSet(asm.ArgThis, "ready", asm.Reg(1))
	ctor.Return()
	get := lazy.Method("get", 0, 1)
	get.PGet(asm.ArgThis, "ready", asm.Reg(0))
	get.Return(asm.Reg(0))

	fn := mb.Function("main", 0, 1)
	fn.NewService("Lazy", nil, asm.Reg(0))
	fn.Invoke(asm.Reg(0), "get", nil, asm.Reg(1))
	fn.Return(asm.Reg(1))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	wantInt(t, got, 1)
}

func TestServiceResultsReturnToHost(t *testing.T) {
	mb := asm.NewModuleBuilder("results")
	mb.Class("Pair", asm.KindConst).Prop("a", asm.NoConst).Prop("b", asm.NoConst)
	fn := mb.Function("main", 0, 1)
	fn.New("Pair", []int{fn.Int(1), fn.Str("two")}, asm.Reg(0))
	fn.Return(asm.Reg(0))

	p := load(t, mb, vm.Config{})
	got, err := p.start("main")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(got) != 1 || vm.Display(got[0]) != "Pair{a=1, b=two}" {
		t.Fatalf("want Pair{a=1, b=two}, got %v", got)
	}
	if got[0].Mutable() {
		t.Fatalf("want const instance frozen")
	}
}

func TestConsoleOutput(t *testing.T) {
	mb := asm.NewModuleBuilder("hello")
	fn := mb.Function("main", 0, 0)
	fn.Inject(native.ConsoleInjection, asm.Reg(0))
	fn.Binary(asm.OpAdd, fn.Str("answer="), fn.Int(42), asm.Reg(1))
	fn.Invoke(asm.Reg(0), "println", []int{asm.Reg(1)})
	fn.Return()

	p := load(t, mb, vm.Config{})
	if _, err := p.start("main"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := p.out.String(); got != "answer=42\n" {
		t.Fatalf("want answer=42, got %q", got)
	}
}

func TestOpTraceWritesEveryOp(t *testing.T) {
	mb := asm.NewModuleBuilder("trace")
	fn := mb.Function("main", 0, 1)
	fn.Binary(asm.OpAdd, fn.Int(1), fn.Int(2), asm.Reg(0))
	fn.Return(asm.Reg(0))

	var trace bytes.Buffer
	p := load(t, mb, vm.Config{OpTrace: &trace})
	if _, err := p.start("main"); err != nil {
		t.Fatalf("start: %v", err)
	}
	out := trace.String()
	for _, want := range []string{"[svc=main", "ADD", "write r0 = 3", "RETURN"} {
		if !strings.Contains(out, want) {
			t.Fatalf("want %q in trace, got:\n%s", want, out)
		}
	}
}

func TestStartRejectsWrongArgumentCount(t *testing.T) {
	mb := asm.NewModuleBuilder("args")
	fn := mb.Function("main", 1, 0)
	fn.Return()

	p := load(t, mb, vm.Config{})
	if _, err := p.start("main"); err == nil {
		t.Fatalf("want argument count error, got nil")
	}
	if _, err := p.start("missing"); err == nil {
		t.Fatalf("want unknown entry error, got nil")
	}
}
