package asm

import "strings"

// Opcode identifies an op.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpVar
	OpVarI
	OpVarF
	OpVarD
	OpMov
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpNot
	OpIsEq
	OpIsNeq
	OpIsLt
	OpIsLte
	OpIsGt
	OpIsGte
	OpIsNull
	OpIsType
	OpJmp
	OpJmpTrue
	OpJmpFalse
	OpJmpNull
	OpJmpNotNull
	OpJmpZero
	OpJmpEq
	OpJmpNeq
	OpJmpLt
	OpJmpLte
	OpJmpGt
	OpJmpGte
	OpEnter
	OpExit
	OpGuard
	OpGuardEnd
	OpCatchEnd
	OpGuardAll
	OpFinally
	OpFinallyEnd
	OpThrow
	OpReturn
	OpCall
	OpInvoke
	OpSuper
	OpNew
	OpNewService
	OpPGet
	OpPSet
	OpPRef
	OpInject
	OpFreeze
	OpAssert

	opcodeCount
)

// Layout is the operand shape of an opcode. Every opcode has exactly one.
type Layout uint8

const (
	LayoutNone     Layout = iota // no operands
	LayoutJump                   // @label
	LayoutCond                   // a, @label
	LayoutCond2                  // a, b, @label
	LayoutUnary                  // a -> r
	LayoutBinary                 // a, b -> r
	LayoutTypeTest               // a, Type -> r
	LayoutVar                    // Type :name -> r
	LayoutVarInit                // Type :name, a -> r
	LayoutGuard                  // Type rN @handler, ...
	LayoutReturn                 // a, b, ...
	LayoutCall                   // fn, args... -> rets...
	LayoutInvoke                 // target, :method, args... -> rets...
	LayoutSuper                  // args... -> rets...
	LayoutNew                    // Type, args... -> r
	LayoutPropGet                // target, .prop -> r
	LayoutPropSet                // target, .prop, a
	LayoutInject                 // :name -> r
	LayoutThrow                  // a
	LayoutAssert                 // a [, "message"]
)

type opInfo struct {
	name   string
	layout Layout
}

var opTable = [opcodeCount]opInfo{
	OpNop:        {"NOP", LayoutNone},
	OpVar:        {"VAR", LayoutVar},
	OpVarI:       {"VAR_I", LayoutVarInit},
	OpVarF:       {"VAR_F", LayoutVarInit},
	OpVarD:       {"VAR_D", LayoutVar},
	OpMov:        {"MOV", LayoutUnary},
	OpAdd:        {"ADD", LayoutBinary},
	OpSub:        {"SUB", LayoutBinary},
	OpMul:        {"MUL", LayoutBinary},
	OpDiv:        {"DIV", LayoutBinary},
	OpMod:        {"MOD", LayoutBinary},
	OpNeg:        {"NEG", LayoutUnary},
	OpNot:        {"NOT", LayoutUnary},
	OpIsEq:       {"IS_EQ", LayoutBinary},
	OpIsNeq:      {"IS_NEQ", LayoutBinary},
	OpIsLt:       {"IS_LT", LayoutBinary},
	OpIsLte:      {"IS_LTE", LayoutBinary},
	OpIsGt:       {"IS_GT", LayoutBinary},
	OpIsGte:      {"IS_GTE", LayoutBinary},
	OpIsNull:     {"IS_NULL", LayoutUnary},
	OpIsType:     {"IS_TYPE", LayoutTypeTest},
	OpJmp:        {"JMP", LayoutJump},
	OpJmpTrue:    {"JMP_TRUE", LayoutCond},
	OpJmpFalse:   {"JMP_FALSE", LayoutCond},
	OpJmpNull:    {"JMP_NULL", LayoutCond},
	OpJmpNotNull: {"JMP_NOT_NULL", LayoutCond},
	OpJmpZero:    {"JMP_ZERO", LayoutCond},
	OpJmpEq:      {"JMP_EQ", LayoutCond2},
	OpJmpNeq:     {"JMP_NEQ", LayoutCond2},
	OpJmpLt:      {"JMP_LT", LayoutCond2},
	OpJmpLte:     {"JMP_LTE", LayoutCond2},
	OpJmpGt:      {"JMP_GT", LayoutCond2},
	OpJmpGte:     {"JMP_GTE", LayoutCond2},
	OpEnter:      {"ENTER", LayoutNone},
	OpExit:       {"EXIT", LayoutNone},
	OpGuard:      {"GUARD", LayoutGuard},
	OpGuardEnd:   {"GUARD_END", LayoutJump},
	OpCatchEnd:   {"CATCH_END", LayoutJump},
	OpGuardAll:   {"GUARD_ALL", LayoutJump},
	OpFinally:    {"FINALLY", LayoutNone},
	OpFinallyEnd: {"FINALLY_END", LayoutNone},
	OpThrow:      {"THROW", LayoutThrow},
	OpReturn:     {"RETURN", LayoutReturn},
	OpCall:       {"CALL", LayoutCall},
	OpInvoke:     {"INVOKE", LayoutInvoke},
	OpSuper:      {"SUPER", LayoutSuper},
	OpNew:        {"NEW", LayoutNew},
	OpNewService: {"NEW_SERVICE", LayoutNew},
	OpPGet:       {"P_GET", LayoutPropGet},
	OpPSet:       {"P_SET", LayoutPropSet},
	OpPRef:       {"P_REF", LayoutPropGet},
	OpInject:     {"INJECT", LayoutInject},
	OpFreeze:     {"FREEZE", LayoutUnary},
	OpAssert:     {"ASSERT", LayoutAssert},
}

var opByName = func() map[string]Opcode {
	m := make(map[string]Opcode, opcodeCount)
	for i := Opcode(0); i < opcodeCount; i++ {
		m[opTable[i].name] = i
	}
	return m
}()

// Valid reports whether the opcode is defined.
func (o Opcode) Valid() bool {
	return o < opcodeCount
}

func (o Opcode) String() string {
	if !o.Valid() {
		return "OP?"
	}
	return opTable[o].name
}

// Layout returns the operand layout of the opcode.
func (o Opcode) Layout() Layout {
	if !o.Valid() {
		return LayoutNone
	}
	return opTable[o].layout
}

// HasJump reports whether the op carries a label/displacement.
func (o Opcode) HasJump() bool {
	switch o.Layout() {
	case LayoutJump, LayoutCond, LayoutCond2:
		return true
	}
	return false
}

// LookupOpcode finds an opcode by mnemonic (case-insensitive).
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opByName[strings.ToUpper(name)]
	return op, ok
}
