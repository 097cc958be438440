package vm

import "xvm/internal/asm"

// Template is the capability surface the interpreter uses to operate on a
// value of some type. Every method follows the op protocol: it writes its
// result through the frame and returns a control code.
type Template interface {
	GetProperty(f *Frame, target Handle, prop string, ret int) int
	SetProperty(f *Frame, target Handle, prop string, value Handle) int
	Invoke(f *Frame, target Handle, method string, args []Handle, rets []int) int
	Construct(f *Frame, t *Type, args []Handle, ret int) int
	// CompareForOrder writes Int -1, 0 or 1.
	CompareForOrder(f *Frame, a, b Handle, ret int) int
	// CompareForEquality writes a Boolean.
	CompareForEquality(f *Frame, a, b Handle, ret int) int
}

// BaseTemplate dispatches everything through call chains. Native packages
// embed it and override what their type does differently.
type BaseTemplate struct{}

func (BaseTemplate) GetProperty(f *Frame, target Handle, prop string, ret int) int {
	if c := target.Type().Chain(prop); c.Len() > 0 {
		return c.Invoke(f, target, nil, []int{ret}, 0)
	}
	return f.Raise(f.Registry().Unsupported, "%s has no property %s", target.Type(), prop)
}

func (BaseTemplate) SetProperty(f *Frame, target Handle, prop string, _ Handle) int {
	return f.Raise(f.Registry().ReadOnly, "property %s of %s is read-only", prop, target.Type())
}

func (BaseTemplate) Invoke(f *Frame, target Handle, method string, args []Handle, rets []int) int {
	if c := target.Type().Chain(method); c.Len() > 0 {
		return c.Invoke(f, target, args, rets, 0)
	}
	return f.Raise(f.Registry().Unsupported, "%s has no method %s", target.Type(), method)
}

func (BaseTemplate) Construct(f *Frame, t *Type, _ []Handle, _ int) int {
	return f.Raise(f.Registry().Unsupported, "%s cannot be constructed", t)
}

func (BaseTemplate) CompareForOrder(f *Frame, a, _ Handle, _ int) int {
	return f.Raise(f.Registry().Unsupported, "%s is not ordered", a.Type())
}

func (BaseTemplate) CompareForEquality(f *Frame, a, b Handle, ret int) int {
	return f.AssignValue(ret, f.Registry().MakeBool(a == b))
}

// ClassTemplate serves assembled classes, consts and services: stored
// fields, getter properties, chain dispatch and construction. Calls on a
// service handle of another service become requests.
type ClassTemplate struct {
	BaseTemplate
}

func (t ClassTemplate) GetProperty(f *Frame, target Handle, prop string, ret int) int {
	if sh, ok := target.(*ServiceHandle); ok {
		if sh.ctx != f.Service() {
			return f.remote(sh.ctx, Call{Kind: CallGet, Name: prop, Rets: 1}, nil, []int{ret})
		}
		target = sh.ctx.instance
	}
	obj := asObject(target)
	if obj == nil {
		return t.BaseTemplate.GetProperty(f, target, prop, ret)
	}
	p := obj.typ.Prop(prop)
	switch {
	case p == nil:
		return t.BaseTemplate.GetProperty(f, target, prop, ret)
	case p.Getter != "":
		return obj.typ.Chain(p.Getter).Invoke(f, target, nil, []int{ret}, 0)
	}
	v := obj.Field(prop)
	if v == nil {
		v = f.Registry().Null()
	}
	return f.AssignValue(ret, v)
}

func (t ClassTemplate) SetProperty(f *Frame, target Handle, prop string, value Handle) int {
	if sh, ok := target.(*ServiceHandle); ok {
		if sh.ctx != f.Service() {
			return f.remote(sh.ctx, Call{Kind: CallSet, Name: prop}, []Handle{value}, nil)
		}
		target = sh.ctx.instance
	}
	obj := asObject(target)
	if obj == nil {
		return t.BaseTemplate.SetProperty(f, target, prop, value)
	}
	reg := f.Registry()
	idx, ok := obj.typ.PropIndex(prop)
	switch {
	case !ok:
		return f.Raise(reg.Unsupported, "%s has no property %s", obj.typ, prop)
	case obj.typ.Props[idx].Getter != "":
		return f.Raise(reg.ReadOnly, "property %s of %s is computed", prop, obj.typ)
	case !obj.mutable:
		return f.Raise(reg.ReadOnly, "%s is immutable", obj.typ)
	case obj.owner != f.Service():
		return f.Raise(reg.IllegalState, "%s belongs to another service", obj.typ)
	}
	obj.Fields[idx] = value
	return RNext
}

func (t ClassTemplate) Invoke(f *Frame, target Handle, method string, args []Handle, rets []int) int {
	if sh, ok := target.(*ServiceHandle); ok {
		if sh.ctx != f.Service() {
			return f.remote(sh.ctx, Call{Kind: CallMethod, Name: method, Rets: len(rets)}, args, rets)
		}
		target = sh.ctx.instance
	}
	return t.BaseTemplate.Invoke(f, target, method, args, rets)
}

// Construct allocates an instance on the current service heap and runs
// its construct chain. Without one, arguments fill the stored properties
// in declaration order. Const instances and exceptions are frozen, with
// everything they reach, once construction finishes.
func (ClassTemplate) Construct(f *Frame, t *Type, args []Handle, ret int) int {
	reg := f.Registry()
	if !t.Instantiable() {
		return f.Raise(reg.Unsupported, "%s %s cannot be instantiated", t.Kind, t)
	}
	heap := f.Service().heap
	var h Handle
	var obj *ObjectHandle
	if t.IsA(reg.Exception) {
		ex := heap.NewException(t, "", nil)
		ex.mutable = true
		h, obj = ex, ex.ObjectHandle
	} else {
		obj = heap.New(t)
		h = obj
	}
	finish := func(f *Frame) int {
		ex, isEx := h.(*ExceptionHandle)
		if isEx || t.Kind == asm.KindConst {
			if code := f.freeze(obj); code != RNext {
				return code
			}
		}
		if isEx && len(ex.Backtrace) == 0 {
			ex.Backtrace = f.backtrace()
		}
		return f.AssignValue(ret, h)
	}
	if c := t.Chain("construct"); c.Len() > 0 {
		return Then(f, c.Invoke(f, h, args, nil, 0), finish)
	}
	slot := 0
	for _, a := range args {
		for slot < len(t.Props) && t.Props[slot].Getter != "" {
			slot++
		}
		if slot >= len(t.Props) {
			return f.Raise(reg.IllegalArgument, "%s takes at most %d initial values", t, slot)
		}
		obj.Fields[slot] = a
		slot++
	}
	return finish(f)
}

func (t ClassTemplate) CompareForOrder(f *Frame, a, b Handle, ret int) int {
	if c := a.Type().Chain("compare"); c.Len() > 0 {
		return c.Invoke(f, a, []Handle{b}, []int{ret}, 0)
	}
	return t.BaseTemplate.CompareForOrder(f, a, b, ret)
}

// CompareForEquality uses an "equals" method when the type has one.
// Const instances are otherwise compared field by field; everything else
// by identity.
func (t ClassTemplate) CompareForEquality(f *Frame, a, b Handle, ret int) int {
	if c := a.Type().Chain("equals"); c.Len() > 0 {
		return c.Invoke(f, a, []Handle{b}, []int{ret}, 0)
	}
	x, y := asObject(a), asObject(b)
	if x == nil || y == nil || x.typ.Kind != asm.KindConst || x.mutable || y.mutable {
		return t.BaseTemplate.CompareForEquality(f, a, b, ret)
	}
	return equalFields(f, x, y, 0, ret)
}

func equalFields(f *Frame, a, b *ObjectHandle, from, ret int) int {
	reg := f.Registry()
	for i := from; i < len(a.Fields); i++ {
		code := equality(f, orNull(reg, a.Fields[i]), orNull(reg, b.Fields[i]))
		if code != RNext {
			next := i + 1
			return Then(f, code, func(f *Frame) int {
				if !isTrue(f.Local) {
					return f.AssignValue(ret, reg.MakeBool(false))
				}
				return equalFields(f, a, b, next, ret)
			})
		}
		if !isTrue(f.Local) {
			return f.AssignValue(ret, reg.MakeBool(false))
		}
	}
	return f.AssignValue(ret, reg.MakeBool(true))
}

func orNull(r *Registry, h Handle) Handle {
	if h == nil {
		return r.Null()
	}
	return h
}

func isTrue(h Handle) bool {
	b, ok := h.(BoolHandle)
	return ok && b.Value
}

// asObject returns the object behind plain objects and exceptions.
func asObject(h Handle) *ObjectHandle {
	switch v := h.(type) {
	case *ObjectHandle:
		return v
	case *ExceptionHandle:
		return v.ObjectHandle
	}
	return nil
}

func templateOf(h Handle) Template {
	return h.Type().Template
}
