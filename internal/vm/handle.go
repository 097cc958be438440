package vm

import "xvm/internal/asm"

// Handle is a reference to a runtime value. Only handles that report
// Mutable() == false may be shared between services.
type Handle interface {
	Type() *Type
	Mutable() bool
}

// IntHandle is a 64-bit integer.
type IntHandle struct {
	typ   *Type
	Value int64
}

func (h IntHandle) Type() *Type { return h.typ }
func (IntHandle) Mutable() bool { return false }

// BoolHandle is a Boolean.
type BoolHandle struct {
	typ   *Type
	Value bool
}

func (h BoolHandle) Type() *Type { return h.typ }
func (BoolHandle) Mutable() bool { return false }

// StringHandle is an immutable string.
type StringHandle struct {
	typ   *Type
	Value string
}

func (h StringHandle) Type() *Type { return h.typ }
func (StringHandle) Mutable() bool { return false }

// NullHandle is the Null value.
type NullHandle struct {
	typ *Type
}

func (h NullHandle) Type() *Type { return h.typ }
func (NullHandle) Mutable() bool { return false }

// TypeHandle is a type used as a value.
type TypeHandle struct {
	typ *Type
	Of  *Type
}

func (h TypeHandle) Type() *Type { return h.typ }
func (TypeHandle) Mutable() bool { return false }

// ObjectHandle is an instance of an assembled class. It lives on the heap
// of its owning service until frozen.
type ObjectHandle struct {
	typ     *Type
	ID      uint64
	Fields  []Handle
	mutable bool
	owner   *ServiceContext
}

func (h *ObjectHandle) Type() *Type { return h.typ }
func (h *ObjectHandle) Mutable() bool { return h.mutable }

// Owner returns the service whose heap holds the object.
func (h *ObjectHandle) Owner() *ServiceContext { return h.owner }

// Field returns the value of the named property, or nil.
func (h *ObjectHandle) Field(name string) Handle {
	idx, ok := h.typ.PropIndex(name)
	if !ok || idx >= len(h.Fields) {
		return nil
	}
	return h.Fields[idx]
}

// FunctionHandle references a module function or a bound method body.
type FunctionHandle struct {
	typ    *Type
	Method *Method
}

func (h *FunctionHandle) Type() *Type { return h.typ }
func (*FunctionHandle) Mutable() bool { return false }

// PropertyRef is a deferred read of Target.Prop. Ops never compute with it
// directly: the argument resolver replaces it with the property value.
type PropertyRef struct {
	typ    *Type
	Target Handle
	Prop   string
}

func (h *PropertyRef) Type() *Type { return h.typ }
func (*PropertyRef) Mutable() bool { return true }

// ServiceHandle is the immutable proxy through which other services talk
// to a service.
type ServiceHandle struct {
	ctx *ServiceContext
}

func (h *ServiceHandle) Type() *Type { return h.ctx.typ }
func (*ServiceHandle) Mutable() bool { return false }

// Context returns the service the handle points at.
func (h *ServiceHandle) Context() *ServiceContext { return h.ctx }

// IsNull reports whether h is Null (or missing).
func IsNull(h Handle) bool {
	if h == nil {
		return true
	}
	_, ok := h.(NullHandle)
	return ok
}

// MakeInt returns an Int handle.
func (r *Registry) MakeInt(v int64) Handle { return IntHandle{typ: r.Int, Value: v} }

// MakeBool returns a Boolean handle.
func (r *Registry) MakeBool(v bool) Handle { return BoolHandle{typ: r.Boolean, Value: v} }

// MakeString returns a String handle.
func (r *Registry) MakeString(s string) Handle { return StringHandle{typ: r.String, Value: s} }

// Null returns the Null handle.
func (r *Registry) Null() Handle { return NullHandle{typ: r.NullType} }

func (r *Registry) makeType(t *Type) Handle { return TypeHandle{typ: r.TypeType, Of: t} }

// Constant converts a pool entry into a handle. Property constants become
// deferred reads of this.
func (r *Registry) Constant(pool *asm.Pool, idx int, this Handle) (Handle, bool) {
	if !pool.Valid(idx) {
		return nil, false
	}
	c := pool.At(idx)
	switch c.Kind {
	case asm.ConstNull:
		return r.Null(), true
	case asm.ConstInt:
		return r.MakeInt(c.Int), true
	case asm.ConstString, asm.ConstName:
		return r.MakeString(c.Str), true
	case asm.ConstBool:
		return r.MakeBool(c.Bool), true
	case asm.ConstType:
		t := r.Lookup(c.Str)
		if t == nil {
			return nil, false
		}
		return r.makeType(t), true
	case asm.ConstProperty:
		if this == nil {
			return nil, false
		}
		return &PropertyRef{typ: r.Object, Target: this, Prop: c.Str}, true
	case asm.ConstFunction:
		m := r.Function(c.Str)
		if m == nil {
			return nil, false
		}
		return &FunctionHandle{typ: r.FunctionType, Method: m}, true
	}
	return nil, false
}
