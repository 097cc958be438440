package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"fortio.org/safecast"

	"xvm/internal/diag"
	"xvm/internal/source"
)

// Parse assembles the .xasm file id. Problems are reported to bag; the
// module is nil when any error was reported.
func Parse(fs *source.FileSet, id source.FileID, bag *diag.Bag) *Module {
	f := fs.Get(id)
	p := &parser{
		file:     f,
		reporter: diag.BagReporter{Bag: bag},
	}
	p.run()
	if bag.HasErrors() {
		return nil
	}
	mod, err := p.mb.Build()
	if err != nil {
		p.reportBuild(err)
		return nil
	}
	return mod
}

// ParseString assembles text held in memory. The error is a *diag.BagError.
func ParseString(name, text string) (*Module, error) {
	fs := source.NewFileSet()
	id := fs.AddVirtual(name, []byte(text))
	bag := diag.NewBag(100)
	mod := Parse(fs, id, bag)
	if err := bag.Err(); err != nil {
		return nil, err
	}
	return mod, nil
}

type blockKind uint8

const (
	blockTop blockKind = iota
	blockClass
	blockMethod
)

type parser struct {
	file     *source.File
	reporter diag.Reporter
	mb       *ModuleBuilder

	line     int
	lineText string

	class     *ClassBuilder
	method    *MethodBuilder
	labels    map[string]bool
	stack     []blockKind
	openSpans []source.Span
	headers   []header
}

// header is the line a function or method body opens on.
type header struct {
	line int
	what string
}

func (p *parser) run() {
	n := p.file.LineCount()
	for ln := 1; ln <= n; ln++ {
		p.line = ln
		u, err := safecast.Conv[uint32](ln)
		if err != nil {
			return
		}
		p.lineText = p.file.GetLine(u)
		toks, ok := splitLine(p.lineText)
		if !ok {
			last := toks[len(toks)-1]
			p.errorAt(diag.AsmSyntax, last, "unterminated string literal")
			continue
		}
		if len(toks) == 0 {
			continue
		}
		p.statement(toks)
	}
	if p.mb == nil {
		p.mb = NewModuleBuilder(strings.TrimSuffix(baseName(p.file.Path), ".xasm"))
	}
	for i := len(p.stack) - 1; i >= 0; i-- {
		p.report(diag.AsmUnterminated, p.openSpans[i], "block is missing 'end'")
	}
}

func (p *parser) top() blockKind {
	if len(p.stack) == 0 {
		return blockTop
	}
	return p.stack[len(p.stack)-1]
}

func (p *parser) push(k blockKind, tok token) {
	p.stack = append(p.stack, k)
	p.openSpans = append(p.openSpans, p.span(tok))
}

func (p *parser) builder() *ModuleBuilder {
	if p.mb == nil {
		p.mb = NewModuleBuilder(strings.TrimSuffix(baseName(p.file.Path), ".xasm"))
	}
	return p.mb
}

func (p *parser) statement(toks []token) {
	head := toks[0].text
	switch p.top() {
	case blockTop:
		p.topLevel(toks)
	case blockClass:
		p.classMember(toks)
	case blockMethod:
		if head == "end" {
			p.pop(toks)
			return
		}
		p.opLine(toks)
	}
}

func (p *parser) pop(toks []token) {
	if len(p.stack) == 0 {
		p.errorAt(diag.AsmUnexpectedEnd, toks[0], "'end' without an open block")
		return
	}
	switch p.top() {
	case blockMethod:
		p.method = nil
		p.labels = nil
	case blockClass:
		p.class = nil
	}
	p.stack = p.stack[:len(p.stack)-1]
	p.openSpans = p.openSpans[:len(p.openSpans)-1]
}

func (p *parser) topLevel(toks []token) {
	head := toks[0].text
	switch head {
	case "module":
		if len(toks) != 2 {
			p.errorAt(diag.AsmSyntax, toks[0], "expected: module NAME")
			return
		}
		if p.mb != nil {
			p.errorAt(diag.AsmSyntax, toks[0], "module name must come first and only once")
			return
		}
		p.mb = NewModuleBuilder(toks[1].text)
	case "function":
		name, params, returns, ok := p.signature(toks)
		if !ok {
			return
		}
		p.method = p.builder().Function(name, params, returns)
		p.headers = append(p.headers, header{p.line, "function " + name})
		p.method.SetFile(p.file.Path)
		p.method.At(p.line)
		p.labels = make(map[string]bool)
		p.push(blockMethod, toks[0])
	case "end":
		p.pop(toks)
	default:
		kind, ok := ParseClassKind(head)
		if !ok {
			p.errorAt(diag.AsmUnknownBlock, toks[0], fmt.Sprintf("unknown top-level keyword %q", head))
			return
		}
		p.classHeader(kind, toks)
	}
}

func (p *parser) classHeader(kind ClassKind, toks []token) {
	if len(toks) < 2 || !isTypeName(toks[1].text) {
		p.errorAt(diag.AsmSyntax, toks[0], "expected a capitalised type name")
		return
	}
	cb := p.builder().Class(toks[1].text, kind)
	cb.Decl().Line = p.line
	var list *[]string
	for _, t := range toks[2:] {
		switch t.text {
		case "extends":
			list = nil
			continue
		case "incorporates":
			list = &cb.Decl().Mixins
			continue
		case "implements":
			list = &cb.Decl().Implements
			continue
		}
		if !isTypeName(t.text) {
			p.errorAt(diag.AsmSyntax, t, fmt.Sprintf("expected a type name, got %q", t.text))
			continue
		}
		if list == nil {
			if cb.Decl().Super != "" {
				p.errorAt(diag.AsmSyntax, t, "a type extends at most one super type")
				continue
			}
			cb.Extends(t.text)
			continue
		}
		*list = append(*list, t.text)
	}
	p.class = cb
	p.push(blockClass, toks[0])
}

func (p *parser) classMember(toks []token) {
	head := toks[0].text
	switch head {
	case "end":
		p.pop(toks)
	case "prop":
		p.propDecl(toks)
	case "abstract":
		if len(toks) < 2 {
			p.errorAt(diag.AsmSyntax, toks[0], "expected: abstract NAME...")
			return
		}
		for _, t := range toks[1:] {
			p.class.Abstract(t.text)
		}
	case "method":
		name, params, returns, ok := p.signature(toks)
		if !ok {
			return
		}
		p.method = p.class.Method(name, params, returns)
		p.headers = append(p.headers, header{p.line, "method " + p.class.Decl().Name + "." + name})
		p.method.SetFile(p.file.Path)
		p.method.At(p.line)
		p.labels = make(map[string]bool)
		p.push(blockMethod, toks[0])
	default:
		p.errorAt(diag.AsmUnknownBlock, toks[0], fmt.Sprintf("unexpected %q inside %s", head, p.class.Decl().Kind))
	}
}

// prop NAME [= CONST] [get METHOD]
func (p *parser) propDecl(toks []token) {
	if len(toks) < 2 {
		p.errorAt(diag.AsmSyntax, toks[0], "expected: prop NAME [= VALUE] [get METHOD]")
		return
	}
	name := toks[1].text
	for _, existing := range p.class.Decl().Props {
		if existing.Name == name {
			p.errorAt(diag.AsmDuplicateMember, toks[1], fmt.Sprintf("property %q declared twice", name))
			return
		}
	}
	rest := toks[2:]
	init := NoConst
	getter := ""
	for len(rest) > 0 {
		switch {
		case rest[0].text == "=" && len(rest) >= 2:
			v, ok := p.literal(rest[1])
			if !ok {
				return
			}
			init = v
			rest = rest[2:]
		case rest[0].text == "get" && len(rest) >= 2:
			getter = rest[1].text
			rest = rest[2:]
		default:
			p.errorAt(diag.AsmSyntax, rest[0], fmt.Sprintf("unexpected %q in property declaration", rest[0].text))
			return
		}
	}
	if getter != "" {
		p.class.PropGetter(name, getter)
		return
	}
	p.class.Prop(name, init)
}

func (p *parser) signature(toks []token) (name string, params, returns int, ok bool) {
	if len(toks) != 4 {
		p.errorAt(diag.AsmSyntax, toks[0], fmt.Sprintf("expected: %s NAME PARAMS RETURNS", toks[0].text))
		return "", 0, 0, false
	}
	params, err1 := strconv.Atoi(toks[2].text)
	returns, err2 := strconv.Atoi(toks[3].text)
	if err1 != nil || err2 != nil || params < 0 || returns < 0 {
		p.errorAt(diag.AsmSyntax, toks[2], "parameter and return counts must be non-negative integers")
		return "", 0, 0, false
	}
	return toks[1].text, params, returns, true
}

func (p *parser) opLine(toks []token) {
	for len(toks) > 0 && strings.HasSuffix(toks[0].text, ":") && !strings.HasPrefix(toks[0].text, ":") {
		label := strings.TrimSuffix(toks[0].text, ":")
		if p.labels[label] {
			p.errorAt(diag.AsmDuplicateLabel, toks[0], fmt.Sprintf("label %q bound twice", label))
		} else {
			p.labels[label] = true
			p.method.Label(label)
		}
		toks = toks[1:]
	}
	if len(toks) == 0 {
		return
	}
	code, ok := LookupOpcode(toks[0].text)
	if !ok {
		p.errorAt(diag.AsmUnknownOpcode, toks[0], fmt.Sprintf("unknown opcode %q", toks[0].text))
		return
	}
	operands, rets, ok := p.splitRets(toks[1:])
	if !ok {
		return
	}
	op := Op{Code: code, Line: p.line}
	if !p.fillOp(&op, toks[0], operands) {
		return
	}
	for _, t := range rets {
		r, ok := p.operand(t)
		if !ok {
			return
		}
		op.Rets = append(op.Rets, r)
	}
	p.method.Emit(op)
}

func (p *parser) splitRets(toks []token) (operands, rets []token, ok bool) {
	for i, t := range toks {
		if t.text == "->" {
			if i == len(toks)-1 {
				p.errorAt(diag.AsmSyntax, t, "'->' must be followed by result registers")
				return nil, nil, false
			}
			return toks[:i], toks[i+1:], true
		}
	}
	return toks, nil, true
}

func (p *parser) fillOp(op *Op, head token, operands []token) bool {
	pool := p.builder().Pool()
	need := func(n int) bool {
		if len(operands) != n {
			p.errorAt(diag.AsmArity, head, fmt.Sprintf("%s takes %d operands, got %d", op.Code, n, len(operands)))
			return false
		}
		return true
	}
	args := func(ts []token) bool {
		for _, t := range ts {
			a, ok := p.operand(t)
			if !ok {
				return false
			}
			op.Args = append(op.Args, a)
		}
		return true
	}

	switch op.Code.Layout() {
	case LayoutNone:
		return need(0)
	case LayoutJump:
		if !need(1) {
			return false
		}
		return p.label(op, operands[0])
	case LayoutCond, LayoutCond2:
		n := 2
		if op.Code.Layout() == LayoutCond2 {
			n = 3
		}
		if !need(n) || !args(operands[:n-1]) {
			return false
		}
		return p.label(op, operands[n-1])
	case LayoutUnary, LayoutBinary, LayoutReturn, LayoutCall, LayoutSuper, LayoutThrow, LayoutAssert:
		return args(operands)
	case LayoutTypeTest:
		if !need(2) || !args(operands[:1]) {
			return false
		}
		return p.typeConst(&op.Const, operands[1])
	case LayoutVar, LayoutVarInit:
		n := 2
		if op.Code.Layout() == LayoutVarInit {
			n = 3
		}
		if !need(n) || !p.typeConst(&op.Const, operands[0]) || !p.nameConst(&op.Name, operands[1]) {
			return false
		}
		return args(operands[2:])
	case LayoutGuard:
		if len(operands) == 0 || len(operands)%3 != 0 {
			p.errorAt(diag.AsmArity, head, "GUARD clauses are triples: Type rN @handler")
			return false
		}
		for i := 0; i < len(operands); i += 3 {
			var c Catch
			if !p.typeConst(&c.Type, operands[i]) {
				return false
			}
			reg, ok := p.operand(operands[i+1])
			if !ok {
				return false
			}
			c.Reg = reg
			lbl := operands[i+2].text
			if !strings.HasPrefix(lbl, "@") || len(lbl) == 1 {
				p.errorAt(diag.AsmBadOperand, operands[i+2], "expected @label")
				return false
			}
			c.Label = lbl[1:]
			op.Catches = append(op.Catches, c)
		}
		return true
	case LayoutInvoke:
		if len(operands) < 2 {
			p.errorAt(diag.AsmArity, head, "INVOKE needs a target and a :method")
			return false
		}
		if !args(operands[:1]) || !p.nameConst(&op.Const, operands[1]) {
			return false
		}
		return args(operands[2:])
	case LayoutNew:
		if len(operands) < 1 {
			p.errorAt(diag.AsmArity, head, fmt.Sprintf("%s needs a type", op.Code))
			return false
		}
		if !p.typeConst(&op.Const, operands[0]) {
			return false
		}
		return args(operands[1:])
	case LayoutPropGet, LayoutPropSet:
		if len(operands) < 2 {
			p.errorAt(diag.AsmArity, head, fmt.Sprintf("%s needs a target and a .property", op.Code))
			return false
		}
		if !args(operands[:1]) {
			return false
		}
		prop := operands[1].text
		if !strings.HasPrefix(prop, ".") || len(prop) == 1 {
			p.errorAt(diag.AsmBadOperand, operands[1], "expected .property")
			return false
		}
		op.Const = pool.Prop(prop[1:])
		return args(operands[2:])
	case LayoutInject:
		if !need(1) {
			return false
		}
		return p.nameConst(&op.Const, operands[0])
	}
	return true
}

func (p *parser) label(op *Op, t token) bool {
	if !strings.HasPrefix(t.text, "@") || len(t.text) == 1 {
		p.errorAt(diag.AsmBadOperand, t, "expected @label")
		return false
	}
	op.Label = t.text[1:]
	return true
}

func (p *parser) typeConst(dst *int, t token) bool {
	if !isTypeName(t.text) {
		p.errorAt(diag.AsmBadOperand, t, fmt.Sprintf("expected a type name, got %q", t.text))
		return false
	}
	*dst = p.builder().Pool().Type(t.text)
	return true
}

func (p *parser) nameConst(dst *int, t token) bool {
	if !strings.HasPrefix(t.text, ":") || len(t.text) == 1 {
		p.errorAt(diag.AsmBadOperand, t, fmt.Sprintf("expected :name, got %q", t.text))
		return false
	}
	*dst = p.builder().Pool().Name(t.text[1:])
	return true
}

// operand decodes a register, pseudo-register or literal.
func (p *parser) operand(t token) (int, bool) {
	s := t.text
	switch s {
	case "this":
		return ArgThis, true
	case "super":
		return ArgSuper, true
	case "stack":
		return ArgStack, true
	case "_":
		return ArgIgnore, true
	case "local":
		return ArgLocal, true
	case "service":
		return ArgService, true
	}
	if len(s) > 1 && s[0] == 'r' {
		if n, err := strconv.Atoi(s[1:]); err == nil && n >= 0 {
			return Reg(n), true
		}
	}
	pool := p.builder().Pool()
	switch {
	case strings.HasPrefix(s, ".") && len(s) > 1:
		return pool.Prop(s[1:]), true
	case strings.HasPrefix(s, "&") && len(s) > 1:
		return pool.Func(s[1:]), true
	case strings.HasPrefix(s, ":") && len(s) > 1:
		return pool.Name(s[1:]), true
	}
	return p.literal(t)
}

func (p *parser) literal(t token) (int, bool) {
	pool := p.builder().Pool()
	s := t.text
	switch s {
	case "true":
		return pool.Bool(true), true
	case "false":
		return pool.Bool(false), true
	case "null":
		return pool.Null(), true
	}
	if strings.HasPrefix(s, "\"") {
		v, err := strconv.Unquote(s)
		if err != nil {
			p.errorAt(diag.AsmBadOperand, t, "malformed string literal")
			return 0, false
		}
		return pool.Str(v), true
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return pool.Int(v), true
	}
	p.errorAt(diag.AsmBadOperand, t, fmt.Sprintf("cannot parse operand %q", s))
	return 0, false
}

func (p *parser) span(t token) source.Span {
	start := p.file.LineStart(uint32(p.line)) //nolint:gosec // line is bounded by LineCount
	s, err1 := safecast.Conv[uint32](t.start)
	e, err2 := safecast.Conv[uint32](t.end)
	if err1 != nil || err2 != nil {
		return source.Span{File: p.file.ID, Start: start, End: start}
	}
	return source.Span{File: p.file.ID, Start: start + s, End: start + e}
}

func (p *parser) lineSpan(line int) source.Span {
	if line <= 0 {
		return source.Span{File: p.file.ID}
	}
	u, err := safecast.Conv[uint32](line)
	if err != nil {
		return source.Span{File: p.file.ID}
	}
	start := p.file.LineStart(u)
	text := p.file.GetLine(u)
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	off, err := safecast.Conv[uint32](len(text) - len(trimmed))
	if err != nil {
		off = 0
	}
	end, err := safecast.Conv[uint32](len(text))
	if err != nil {
		end = off
	}
	return source.Span{File: p.file.ID, Start: start + off, End: start + end}
}

func (p *parser) errorAt(code diag.Code, t token, msg string) {
	p.report(code, p.span(t), msg)
}

func (p *parser) report(code diag.Code, sp source.Span, msg string) {
	diag.ReportError(p.reporter, code, sp, msg).Emit()
}

// reportBuild converts link/validation failures into diagnostics anchored
// at the line of the offending op.
func (p *parser) reportBuild(err error) {
	var list []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		list = joined.Unwrap()
	} else {
		list = []error{err}
	}
	for _, e := range list {
		var be *BuildError
		if errors.As(e, &be) {
			b := diag.ReportError(p.reporter, be.Code, p.lineSpan(be.Line), be.Msg)
			if h, ok := p.enclosing(be.Line); ok {
				b.WithNote(p.lineSpan(h.line), "in "+h.what)
			}
			b.Emit()
			continue
		}
		p.report(diag.UnknownCode, source.Span{File: p.file.ID}, e.Error())
	}
}

// enclosing finds the body header a source line belongs to.
func (p *parser) enclosing(line int) (header, bool) {
	var found header
	for _, h := range p.headers {
		if h.line > line {
			break
		}
		found = h
	}
	return found, line > 0 && found.line > 0
}

func isTypeName(s string) bool {
	if s == "" {
		return false
	}
	r := rune(s[0])
	if !unicode.IsUpper(r) {
		return false
	}
	for _, c := range s {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			return false
		}
	}
	return true
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
