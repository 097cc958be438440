package asm

// Catch is one clause of a GUARD op: faults of Type (or a subtype) are
// bound to register Reg and control moves to the handler.
type Catch struct {
	Type  int    `msgpack:"t"` // ConstType index
	Reg   int    `msgpack:"r"` // encoded register receiving the fault
	Label string `msgpack:"-"`
	Rel   int    `msgpack:"j"` // handler displacement from the GUARD op
}

// Op is a single instruction. Which fields are meaningful depends on the
// opcode's Layout; the others stay at their zero value.
type Op struct {
	Code    Opcode  `msgpack:"c"`
	Args    []int   `msgpack:"a,omitempty"`
	Rets    []int   `msgpack:"r,omitempty"`
	Const   int     `msgpack:"k,omitempty"` // type, method name, property or injection name
	Name    int     `msgpack:"n,omitempty"` // variable name (VAR*)
	Rel     int     `msgpack:"j,omitempty"` // resolved jump displacement
	Label   string  `msgpack:"-"`
	Catches []Catch `msgpack:"g,omitempty"`
	Line    int     `msgpack:"l,omitempty"` // 1-based source line, 0 when unknown
}

// Target returns the absolute pc a jumping op at pc transfers to.
func (op *Op) Target(pc int) int {
	return pc + op.Rel
}

// MethodBody is the executable form of a method or module function.
type MethodBody struct {
	Name    string `msgpack:"name"`
	Params  int    `msgpack:"params"`
	Returns int    `msgpack:"returns"`
	MaxVars int    `msgpack:"vars"`
	Ops     []Op   `msgpack:"ops"`
	File    string `msgpack:"file,omitempty"`
}

// Line returns the source line of the op at pc, or 0.
func (b *MethodBody) Line(pc int) int {
	if b == nil || pc < 0 || pc >= len(b.Ops) {
		return 0
	}
	return b.Ops[pc].Line
}

// ClassKind distinguishes the declaration forms of a type.
type ClassKind uint8

const (
	KindClass ClassKind = iota
	KindMixin
	KindInterface
	KindConst // instances are frozen after construction
	KindService
)

func (k ClassKind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindMixin:
		return "mixin"
	case KindInterface:
		return "interface"
	case KindConst:
		return "const"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// ParseClassKind maps a block keyword to its kind.
func ParseClassKind(s string) (ClassKind, bool) {
	switch s {
	case "class":
		return KindClass, true
	case "mixin":
		return KindMixin, true
	case "interface":
		return KindInterface, true
	case "const":
		return KindConst, true
	case "service":
		return KindService, true
	}
	return KindClass, false
}

// PropDecl declares a property. Init is a pool index or NoConst; Getter
// names a method computing the value instead of a stored field.
type PropDecl struct {
	Name   string `msgpack:"name"`
	Init   int    `msgpack:"init"`
	Getter string `msgpack:"getter,omitempty"`
}

// ClassDecl is a type declared by a module.
type ClassDecl struct {
	Name       string        `msgpack:"name"`
	Kind       ClassKind     `msgpack:"kind"`
	Super      string        `msgpack:"super,omitempty"`
	Mixins     []string      `msgpack:"mixins,omitempty"`
	Implements []string      `msgpack:"implements,omitempty"`
	Props      []PropDecl    `msgpack:"props,omitempty"`
	Methods    []*MethodBody `msgpack:"methods,omitempty"`
	Abstract   []string      `msgpack:"abstract,omitempty"`
	Line       int           `msgpack:"line,omitempty"`
}

// Method returns the declared body with the given name.
func (c *ClassDecl) Method(name string) *MethodBody {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Module is a linked unit: one constant pool shared by its classes and
// functions.
type Module struct {
	Name      string
	Pool      *Pool
	Classes   []*ClassDecl
	Functions []*MethodBody
}

// Function returns the module function with the given name.
func (m *Module) Function(name string) *MethodBody {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Class returns the declared class with the given name.
func (m *Module) Class(name string) *ClassDecl {
	for _, c := range m.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Bodies returns every method body in the module, classes first.
func (m *Module) Bodies() []*MethodBody {
	var out []*MethodBody
	for _, c := range m.Classes {
		out = append(out, c.Methods...)
	}
	return append(out, m.Functions...)
}
