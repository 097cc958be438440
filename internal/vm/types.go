package vm

import (
	"fmt"
	"sort"

	"xvm/internal/asm"
	"xvm/internal/diag"
)

// NativeMethod implements a method body in Go. It follows the op protocol:
// results go through f.AssignValue and the return value is a control code.
type NativeMethod func(f *Frame, target Handle, args []Handle, rets []int) int

// Method is one executable body: assembled ops with their pool, or a
// native implementation.
type Method struct {
	Name   string
	Owner  *Type // nil for module functions
	Body   *asm.MethodBody
	Pool   *asm.Pool
	Native NativeMethod
}

// IsNative reports whether the body is implemented in Go.
func (m *Method) IsNative() bool { return m.Native != nil }

func (m *Method) String() string {
	if m.Owner == nil {
		return m.Name
	}
	return m.Owner.Name + "." + m.Name
}

// Prop is one property slot of a type, flattened over its composition.
type Prop struct {
	Name   string
	Init   Handle
	Getter string
	Owner  *Type
}

// Type is a linked class, mixin, interface, const or service type.
type Type struct {
	Name       string
	Kind       asm.ClassKind
	Super      *Type
	Mixins     []*Type
	Implements []*Type
	Template   Template
	Props      []Prop
	Methods    map[string]*Method
	Abstract   []string

	root      bool
	decl      *asm.ClassDecl
	pool      *asm.Pool
	own       []Prop
	ownBuilt  bool
	propIndex map[string]int
	chains    map[string]*CallChain
	lin       []*Type
}

func (t *Type) String() string { return t.Name }

// Instantiable reports whether NEW may create instances of the type.
func (t *Type) Instantiable() bool {
	switch t.Kind {
	case asm.KindClass, asm.KindConst, asm.KindService:
		return true
	}
	return false
}

// IsA reports whether t is other or is composed from it.
func (t *Type) IsA(other *Type) bool {
	if t == nil || other == nil {
		return false
	}
	if t == other || other.root {
		return true
	}
	if t.Super != nil && t.Super.IsA(other) {
		return true
	}
	for _, m := range t.Mixins {
		if m.IsA(other) {
			return true
		}
	}
	for _, i := range t.Implements {
		if i.IsA(other) {
			return true
		}
	}
	return false
}

// PropIndex returns the field slot of the named property.
func (t *Type) PropIndex(name string) (int, bool) {
	idx, ok := t.propIndex[name]
	return idx, ok
}

// Prop returns the named property, or nil.
func (t *Type) Prop(name string) *Prop {
	if idx, ok := t.propIndex[name]; ok {
		return &t.Props[idx]
	}
	return nil
}

// Chain returns the linked call chain for method, or nil.
func (t *Type) Chain(method string) *CallChain {
	return t.chains[method]
}

// ChainNames lists the methods dispatchable on t, sorted.
func (t *Type) ChainNames() []string {
	names := make([]string, 0, len(t.chains))
	for n := range t.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry holds every type and module function of a program. It is built
// up by Declare, Load and DefineNative, then frozen by Link; after that it
// is read-only and shared by all services.
type Registry struct {
	types     map[string]*Type
	order     []*Type
	functions map[string]*Method
	funcOrder []string
	pools     []*asm.Pool
	inject    map[string]string
	linked    bool

	Object            *Type
	NullType          *Type
	Boolean           *Type
	Int               *Type
	String            *Type
	FunctionType      *Type
	FutureType        *Type
	ServiceType       *Type
	TypeType          *Type
	Exception         *Type
	IllegalState      *Type
	IllegalArgument   *Type
	TypeMismatch      *Type
	DivisionByZero    *Type
	ReadOnly          *Type
	Unsupported       *Type
	Assertion         *Type
	StackOverflow     *Type
	ServiceTerminated *Type
	Deadlock          *Type
}

// NewRegistry creates a registry holding the well-known types. Value types
// (Null, Boolean, Int, String) get their templates from a native package;
// Link reports them as missing otherwise.
func NewRegistry() *Registry {
	r := &Registry{
		types:     make(map[string]*Type),
		functions: make(map[string]*Method),
		inject:    make(map[string]string),
	}
	r.Object = r.mustDeclare("Object", asm.KindClass, nil)
	r.Object.root = true
	r.Object.Template = ClassTemplate{}
	r.NullType = r.mustDeclare("Null", asm.KindConst, r.Object)
	r.Boolean = r.mustDeclare("Boolean", asm.KindConst, r.Object)
	r.Int = r.mustDeclare("Int", asm.KindConst, r.Object)
	r.String = r.mustDeclare("String", asm.KindConst, r.Object)
	r.FunctionType = r.mustDeclare("Function", asm.KindConst, r.Object)
	r.FunctionType.Template = BaseTemplate{}
	r.FutureType = r.mustDeclare("Future", asm.KindClass, r.Object)
	r.FutureType.Template = BaseTemplate{}
	r.TypeType = r.mustDeclare("Type", asm.KindConst, r.Object)
	r.TypeType.Template = BaseTemplate{}
	r.ServiceType = r.mustDeclare("Service", asm.KindService, r.Object)
	r.ServiceType.Template = ClassTemplate{}

	r.Exception = r.mustDeclare("Exception", asm.KindConst, r.Object)
	r.Exception.Template = ClassTemplate{}
	r.Exception.own = []Prop{
		{Name: "message", Owner: r.Exception},
		{Name: "cause", Owner: r.Exception},
	}
	sub := func(name string) *Type {
		t := r.mustDeclare(name, asm.KindConst, r.Exception)
		t.Template = ClassTemplate{}
		return t
	}
	r.IllegalState = sub("IllegalState")
	r.IllegalArgument = sub("IllegalArgument")
	r.TypeMismatch = sub("TypeMismatch")
	r.DivisionByZero = sub("DivisionByZero")
	r.ReadOnly = sub("ReadOnly")
	r.Unsupported = sub("Unsupported")
	r.Assertion = sub("Assertion")
	r.StackOverflow = sub("StackOverflow")
	r.ServiceTerminated = sub("ServiceTerminated")
	r.Deadlock = sub("Deadlock")
	return r
}

func (r *Registry) mustDeclare(name string, kind asm.ClassKind, super *Type) *Type {
	t, err := r.Declare(name, kind, super)
	if err != nil {
		panic(err)
	}
	return t
}

// Declare adds a type without assembled code; natives use it for their
// own types.
func (r *Registry) Declare(name string, kind asm.ClassKind, super *Type) (*Type, error) {
	if r.linked {
		return nil, fmt.Errorf("declare %s: registry is already linked", name)
	}
	if _, dup := r.types[name]; dup {
		return nil, &LinkError{Code: diag.LnkDuplicateType, Type: name, Msg: "type declared twice"}
	}
	t := &Type{Name: name, Kind: kind, Super: super, Methods: make(map[string]*Method)}
	r.types[name] = t
	r.order = append(r.order, t)
	return t, nil
}

// DefineNative attaches a Go body to a type. It panics after Link.
func (r *Registry) DefineNative(t *Type, name string, fn NativeMethod) {
	if r.linked {
		panic(fmt.Sprintf("vm: define %s.%s after link", t.Name, name))
	}
	t.Methods[name] = &Method{Name: name, Owner: t, Native: fn}
}

// DefineFunction registers a native module-level function.
func (r *Registry) DefineFunction(name string, fn NativeMethod) {
	if r.linked {
		panic(fmt.Sprintf("vm: define function %s after link", name))
	}
	if _, ok := r.functions[name]; !ok {
		r.funcOrder = append(r.funcOrder, name)
	}
	r.functions[name] = &Method{Name: name, Native: fn}
}

// DeclareInjection makes INJECT :name resolve to the single immutable
// instance of the named type.
func (r *Registry) DeclareInjection(name, typeName string) {
	r.inject[name] = typeName
}

// Load declares the classes and functions of an assembled module.
func (r *Registry) Load(mod *asm.Module) error {
	if r.linked {
		return fmt.Errorf("load %s: registry is already linked", mod.Name)
	}
	var errs []error
	for _, decl := range mod.Classes {
		t, err := r.Declare(decl.Name, decl.Kind, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.decl = decl
		t.pool = mod.Pool
		t.Template = ClassTemplate{}
		t.Abstract = append(t.Abstract, decl.Abstract...)
		for _, body := range decl.Methods {
			t.Methods[body.Name] = &Method{Name: body.Name, Owner: t, Body: body, Pool: mod.Pool}
		}
	}
	for _, body := range mod.Functions {
		if _, dup := r.functions[body.Name]; dup {
			errs = append(errs, &LinkError{Code: diag.LnkDuplicateFunction, Type: mod.Name, Msg: fmt.Sprintf("function %s declared twice", body.Name)})
			continue
		}
		r.functions[body.Name] = &Method{Name: body.Name, Body: body, Pool: mod.Pool}
		r.funcOrder = append(r.funcOrder, body.Name)
	}
	r.pools = append(r.pools, mod.Pool)
	return joinLinkErrors(errs)
}

// Lookup returns the named type, or nil.
func (r *Registry) Lookup(name string) *Type { return r.types[name] }

// Function returns the named module function, or nil.
func (r *Registry) Function(name string) *Method { return r.functions[name] }

// Functions lists module function names in declaration order.
func (r *Registry) Functions() []string {
	return append([]string(nil), r.funcOrder...)
}

// Types returns every type in declaration order.
func (r *Registry) Types() []*Type {
	return append([]*Type(nil), r.order...)
}

// Linked reports whether Link succeeded.
func (r *Registry) Linked() bool { return r.linked }
