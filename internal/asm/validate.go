package asm

import (
	"strconv"

	"xvm/internal/diag"
)

// Validate checks that every op of body is well formed against pool:
// operand counts match the opcode layout, operands decode to registers,
// pseudo-registers or pool entries of the right kind, and every jump lands
// inside the body. Labels must already be resolved.
func Validate(body *MethodBody, pool *Pool) []*BuildError {
	v := validator{body: body, pool: pool}
	for pc := range body.Ops {
		v.op(pc, &body.Ops[pc])
	}
	return v.errs
}

type validator struct {
	body *MethodBody
	pool *Pool
	errs []*BuildError
}

func (v *validator) fail(code diag.Code, pc int, format string, args ...any) {
	v.errs = append(v.errs, buildErr(code, v.body, pc, format, args...))
}

func (v *validator) op(pc int, op *Op) {
	if !op.Code.Valid() {
		v.fail(diag.AsmUnknownOpcode, pc, "unknown opcode %d", op.Code)
		return
	}
	minArgs, maxArgs, minRets, maxRets := arity(op.Code.Layout())
	if len(op.Args) < minArgs || (maxArgs >= 0 && len(op.Args) > maxArgs) {
		v.fail(diag.AsmArity, pc, "%s takes %s, got %d", op.Code, countText(minArgs, maxArgs, "operand"), len(op.Args))
	}
	if len(op.Rets) < minRets || (maxRets >= 0 && len(op.Rets) > maxRets) {
		v.fail(diag.AsmArity, pc, "%s produces %s, got %d", op.Code, countText(minRets, maxRets, "result"), len(op.Rets))
	}
	for i, a := range op.Args {
		allowSuper := i == 0 && op.Code == OpCall
		if !v.argOK(a, allowSuper) {
			v.fail(diag.AsmMalformedArg, pc, "%s operand %d: malformed encoding %d", op.Code, i, a)
		}
	}
	for i, r := range op.Rets {
		if !v.retOK(r) {
			v.fail(diag.AsmBadReturnTarget, pc, "%s result %d: cannot write to %s", op.Code, i, FormatArg(r))
		}
	}

	switch op.Code.Layout() {
	case LayoutTypeTest, LayoutNew:
		v.constKind(pc, op, op.Const, ConstType)
	case LayoutVar, LayoutVarInit:
		v.constKind(pc, op, op.Const, ConstType)
		v.constKind(pc, op, op.Name, ConstName)
		if len(op.Rets) == 1 && !IsReg(op.Rets[0]) {
			v.fail(diag.AsmBadReturnTarget, pc, "%s must declare a register", op.Code)
		}
	case LayoutInvoke, LayoutInject:
		v.constKind(pc, op, op.Const, ConstName)
	case LayoutPropGet, LayoutPropSet:
		v.constKind(pc, op, op.Const, ConstProperty)
	case LayoutAssert:
		if len(op.Args) == 2 && (!IsConst(op.Args[1]) || !v.pool.Valid(op.Args[1]) || v.pool.At(op.Args[1]).Kind != ConstString) {
			v.fail(diag.AsmConstKind, pc, "ASSERT message must be a string constant")
		}
	case LayoutGuard:
		if len(op.Catches) == 0 {
			v.fail(diag.AsmArity, pc, "GUARD needs at least one catch clause")
		}
		for _, c := range op.Catches {
			v.constKind(pc, op, c.Type, ConstType)
			if !IsReg(c.Reg) || RegisterIndex(c.Reg) >= v.body.MaxVars {
				v.fail(diag.AsmBadReturnTarget, pc, "catch clause must bind a register, got %s", FormatArg(c.Reg))
			}
			v.target(pc, pc+c.Rel)
		}
	}
	if op.Code.HasJump() {
		v.target(pc, op.Target(pc))
	}
}

func (v *validator) argOK(a int, allowSuper bool) bool {
	switch {
	case IsReg(a):
		return RegisterIndex(a) < v.body.MaxVars
	case IsConst(a):
		return v.pool.Valid(a)
	}
	switch a {
	case ArgThis, ArgStack, ArgLocal, ArgService:
		return true
	case ArgSuper:
		return allowSuper
	}
	return false
}

func (v *validator) retOK(r int) bool {
	if !IsWritable(r) {
		return false
	}
	return !IsReg(r) || RegisterIndex(r) < v.body.MaxVars
}

func (v *validator) constKind(pc int, op *Op, idx int, want ConstKind) {
	if !v.pool.Valid(idx) {
		v.fail(diag.AsmMalformedArg, pc, "%s: constant index %d out of range", op.Code, idx)
		return
	}
	if got := v.pool.At(idx).Kind; got != want {
		v.fail(diag.AsmConstKind, pc, "%s: want %s constant, got %s", op.Code, want, got)
	}
}

func (v *validator) target(pc, abs int) {
	if abs < 0 || abs > len(v.body.Ops) {
		v.fail(diag.AsmJumpOutOfRange, pc, "jump target %d outside [0, %d]", abs, len(v.body.Ops))
	}
}

// arity returns operand and result bounds of a layout; -1 means unbounded.
func arity(l Layout) (minArgs, maxArgs, minRets, maxRets int) {
	switch l {
	case LayoutNone, LayoutJump:
		return 0, 0, 0, 0
	case LayoutCond, LayoutThrow:
		return 1, 1, 0, 0
	case LayoutCond2:
		return 2, 2, 0, 0
	case LayoutUnary, LayoutTypeTest, LayoutPropGet:
		return 1, 1, 1, 1
	case LayoutBinary:
		return 2, 2, 1, 1
	case LayoutVar, LayoutInject:
		return 0, 0, 1, 1
	case LayoutVarInit:
		return 1, 1, 1, 1
	case LayoutGuard:
		return 0, 0, 0, 0
	case LayoutReturn:
		return 0, -1, 0, 0
	case LayoutCall, LayoutInvoke:
		return 1, -1, 0, -1
	case LayoutSuper:
		return 0, -1, 0, -1
	case LayoutNew:
		return 0, -1, 1, 1
	case LayoutPropSet:
		return 2, 2, 0, 0
	case LayoutAssert:
		return 1, 2, 0, 0
	}
	return 0, -1, 0, -1
}

func countText(lo, hi int, noun string) string {
	switch {
	case hi < 0:
		return "at least " + strconv.Itoa(lo) + " " + noun + "s"
	case lo == hi && lo == 1:
		return "1 " + noun
	case lo == hi:
		return strconv.Itoa(lo) + " " + noun + "s"
	default:
		return strconv.Itoa(lo) + ".." + strconv.Itoa(hi) + " " + noun + "s"
	}
}
