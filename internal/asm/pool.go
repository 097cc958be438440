package asm

import (
	"fmt"
	"strconv"
)

// ConstKind tags a constant-pool entry.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstInt
	ConstString
	ConstBool
	ConstType     // Str holds the type name
	ConstName     // Str holds a method or variable name
	ConstProperty // Str holds a property of this
	ConstFunction // Str holds a module function name
)

func (k ConstKind) String() string {
	switch k {
	case ConstNull:
		return "null"
	case ConstInt:
		return "int"
	case ConstString:
		return "string"
	case ConstBool:
		return "bool"
	case ConstType:
		return "type"
	case ConstName:
		return "name"
	case ConstProperty:
		return "property"
	case ConstFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Constant is one pool entry.
type Constant struct {
	Kind ConstKind `msgpack:"k"`
	Int  int64     `msgpack:"i,omitempty"`
	Str  string    `msgpack:"s,omitempty"`
	Bool bool      `msgpack:"b,omitempty"`
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstBool:
		return strconv.FormatBool(c.Bool)
	case ConstType:
		return c.Str
	case ConstName:
		return ":" + c.Str
	case ConstProperty:
		return "." + c.Str
	case ConstFunction:
		return "&" + c.Str
	default:
		return "?"
	}
}

// Pool interns the constants of one module. It is append-only until
// Freeze; afterwards it is read-only and safe to share between services.
type Pool struct {
	consts []Constant
	index  map[Constant]int
	frozen bool
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{index: make(map[Constant]int)}
}

// PoolOf rebuilds a frozen pool from decoded constants.
func PoolOf(consts []Constant) *Pool {
	p := NewPool()
	for _, c := range consts {
		p.consts = append(p.consts, c)
		if _, ok := p.index[c]; !ok {
			p.index[c] = len(p.consts) - 1
		}
	}
	p.frozen = true
	return p
}

// Add interns c and returns its index.
func (p *Pool) Add(c Constant) int {
	if idx, ok := p.index[c]; ok {
		return idx
	}
	if p.frozen {
		panic(fmt.Sprintf("asm: add %s to a frozen constant pool", c))
	}
	p.consts = append(p.consts, c)
	idx := len(p.consts) - 1
	p.index[c] = idx
	return idx
}

func (p *Pool) Int(v int64) int { return p.Add(Constant{Kind: ConstInt, Int: v}) }
func (p *Pool) Str(s string) int { return p.Add(Constant{Kind: ConstString, Str: s}) }
func (p *Pool) Bool(v bool) int { return p.Add(Constant{Kind: ConstBool, Bool: v}) }
func (p *Pool) Null() int { return p.Add(Constant{Kind: ConstNull}) }
func (p *Pool) Type(name string) int { return p.Add(Constant{Kind: ConstType, Str: name}) }
func (p *Pool) Name(name string) int { return p.Add(Constant{Kind: ConstName, Str: name}) }
func (p *Pool) Prop(name string) int { return p.Add(Constant{Kind: ConstProperty, Str: name}) }
func (p *Pool) Func(name string) int { return p.Add(Constant{Kind: ConstFunction, Str: name}) }

// Freeze makes the pool immutable.
func (p *Pool) Freeze() { p.frozen = true }

// Frozen reports whether the pool is immutable.
func (p *Pool) Frozen() bool { return p.frozen }

// Len returns the number of constants.
func (p *Pool) Len() int { return len(p.consts) }

// At returns the constant at idx.
func (p *Pool) At(idx int) Constant { return p.consts[idx] }

// Constants returns a copy of the pool contents.
func (p *Pool) Constants() []Constant {
	out := make([]Constant, len(p.consts))
	copy(out, p.consts)
	return out
}

// Valid reports whether idx is a pool index.
func (p *Pool) Valid(idx int) bool {
	return idx >= 0 && idx < len(p.consts)
}
