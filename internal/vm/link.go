package vm

import (
	"errors"
	"fmt"
	"sort"

	"xvm/internal/asm"
	"xvm/internal/diag"
)

// LinkError is a fault found while linking the registry. Such faults never
// reach the interpreter loop.
type LinkError struct {
	Code diag.Code
	Type string
	Msg  string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code.ID(), e.Type, e.Msg)
}

func joinLinkErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Link resolves type references, flattens properties, builds every call
// chain and freezes the registry. All problems are reported together.
func (r *Registry) Link() error {
	if r.linked {
		return nil
	}
	var errs []error
	fail := func(code diag.Code, t, format string, args ...any) {
		errs = append(errs, &LinkError{Code: code, Type: t, Msg: fmt.Sprintf(format, args...)})
	}

	for _, t := range r.order {
		if t.decl != nil {
			r.resolveRelations(t, fail)
		}
	}
	if len(errs) > 0 {
		return joinLinkErrors(errs)
	}
	r.checkCycles(fail)
	if len(errs) > 0 {
		return joinLinkErrors(errs)
	}

	for _, t := range r.order {
		if t.Template == nil {
			fail(diag.LnkMissingTemplate, t.Name, "no template installed")
		}
		t.linearize()
	}
	for _, t := range r.order {
		r.flattenProps(t, fail)
	}
	for _, t := range r.order {
		r.buildChains(t, fail)
	}
	r.checkConstants(fail)
	for name, typeName := range r.inject {
		if r.types[typeName] == nil {
			fail(diag.LnkUnknownType, typeName, "injection %q names an unknown type", name)
		}
	}
	if len(errs) > 0 {
		return joinLinkErrors(errs)
	}
	r.linked = true
	return nil
}

func (r *Registry) resolveRelations(t *Type, fail func(diag.Code, string, string, ...any)) {
	d := t.decl
	lookup := func(name string) *Type {
		x := r.types[name]
		if x == nil {
			fail(diag.LnkUnknownType, t.Name, "unknown type %s", name)
		}
		return x
	}
	if d.Super != "" {
		if s := lookup(d.Super); s != nil {
			switch {
			case t.Kind == asm.KindInterface && s.Kind != asm.KindInterface:
				fail(diag.LnkBadRelation, t.Name, "interface cannot extend %s %s", s.Kind, s.Name)
			case t.Kind == asm.KindMixin && s.Kind != asm.KindMixin:
				fail(diag.LnkBadRelation, t.Name, "mixin cannot extend %s %s", s.Kind, s.Name)
			case t.Instantiable() && !s.Instantiable():
				fail(diag.LnkBadRelation, t.Name, "cannot extend %s %s", s.Kind, s.Name)
			default:
				t.Super = s
			}
		}
	} else if t.Instantiable() {
		t.Super = r.Object
		if t.Kind == asm.KindService {
			t.Super = r.ServiceType
		}
	}
	for _, name := range d.Mixins {
		if m := lookup(name); m != nil {
			if m.Kind != asm.KindMixin {
				fail(diag.LnkBadRelation, t.Name, "%s is a %s, not a mixin", m.Name, m.Kind)
				continue
			}
			t.Mixins = append(t.Mixins, m)
		}
	}
	for _, name := range d.Implements {
		if i := lookup(name); i != nil {
			if i.Kind != asm.KindInterface {
				fail(diag.LnkBadRelation, t.Name, "%s is a %s, not an interface", i.Name, i.Kind)
				continue
			}
			t.Implements = append(t.Implements, i)
		}
	}
}

func (r *Registry) checkCycles(fail func(diag.Code, string, string, ...any)) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*Type]int, len(r.order))
	var visit func(t *Type) bool
	visit = func(t *Type) bool {
		switch color[t] {
		case grey:
			return false
		case black:
			return true
		}
		color[t] = grey
		next := append([]*Type(nil), t.Mixins...)
		next = append(next, t.Implements...)
		if t.Super != nil {
			next = append(next, t.Super)
		}
		for _, n := range next {
			if !visit(n) {
				return false
			}
		}
		color[t] = black
		return true
	}
	for _, t := range r.order {
		if color[t] == white && !visit(t) {
			fail(diag.LnkInheritanceCycle, t.Name, "type composition is cyclic")
			// prevent cascades from the same cycle
			for k, c := range color {
				if c == grey {
					color[k] = black
				}
			}
		}
	}
}

// linearize orders the class-like composition of t: the type itself, its
// mixins with the last incorporated first, then its super type.
func (t *Type) linearize() []*Type {
	if t.lin != nil {
		return t.lin
	}
	out := []*Type{t}
	seen := map[*Type]bool{t: true}
	add := func(list []*Type) {
		for _, x := range list {
			if !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
		}
	}
	for i := len(t.Mixins) - 1; i >= 0; i-- {
		add(t.Mixins[i].linearize())
	}
	if t.Super != nil {
		add(t.Super.linearize())
	}
	t.lin = out
	return out
}

// interfaces lists every interface t implements, most specific first.
func (t *Type) interfaces() []*Type {
	var out []*Type
	seen := make(map[*Type]bool)
	for _, x := range t.linearize() {
		if x.Kind == asm.KindInterface && x != t {
			continue
		}
		for _, i := range x.Implements {
			for _, j := range i.linearize() {
				if !seen[j] {
					seen[j] = true
					out = append(out, j)
				}
			}
		}
	}
	return out
}

func (r *Registry) flattenProps(t *Type, fail func(diag.Code, string, string, ...any)) {
	lin := t.linearize()
	var props []Prop
	index := make(map[string]int)
	for i := len(lin) - 1; i >= 0; i-- {
		for _, p := range lin[i].ownProps(r, fail) {
			if idx, ok := index[p.Name]; ok {
				props[idx] = p
				continue
			}
			index[p.Name] = len(props)
			props = append(props, p)
		}
	}
	t.Props = props
	t.propIndex = index
}

func (t *Type) ownProps(r *Registry, fail func(diag.Code, string, string, ...any)) []Prop {
	if t.decl == nil || t.ownBuilt {
		return t.own
	}
	t.ownBuilt = true
	for _, pd := range t.decl.Props {
		p := Prop{Name: pd.Name, Getter: pd.Getter, Owner: t}
		if pd.Init != asm.NoConst {
			h, ok := r.Constant(t.pool, pd.Init, nil)
			if !ok {
				fail(diag.LnkUnknownType, t.Name, "property %s has an unusable initial value", pd.Name)
			}
			p.Init = h
		}
		t.own = append(t.own, p)
	}
	return t.own
}

func (r *Registry) buildChains(t *Type, fail func(diag.Code, string, string, ...any)) {
	lin := t.linearize()
	ifaces := t.interfaces()
	names := make(map[string]bool)
	for _, x := range lin {
		for n := range x.Methods {
			names[n] = true
		}
	}
	for _, i := range ifaces {
		for n := range i.Methods {
			names[n] = true
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	t.chains = make(map[string]*CallChain, len(sorted))
	for _, name := range sorted {
		var bodies []*Method
		for _, x := range lin {
			if m := x.Methods[name]; m != nil {
				bodies = append(bodies, m)
			}
		}
		var defaults []*Method
		for _, i := range ifaces {
			if m := i.Methods[name]; m != nil {
				defaults = append(defaults, m)
			}
		}
		if len(bodies) == 0 && t.Instantiable() && ambiguous(defaults) {
			owners := make([]string, len(defaults))
			for k, m := range defaults {
				owners[k] = m.Owner.Name
			}
			fail(diag.LnkAmbiguousDispatch, t.Name, "method %s has unrelated default bodies in %v", name, owners)
			continue
		}
		bodies = append(bodies, defaults...)
		if len(bodies) > 0 && bodies[0].IsNative() {
			bodies = bodies[:1]
		}
		t.chains[name] = &CallChain{Name: name, Bodies: bodies}
	}

	if !t.Instantiable() {
		return
	}
	required := make(map[string]bool)
	for _, x := range lin {
		for _, a := range x.Abstract {
			required[a] = true
		}
	}
	for _, i := range ifaces {
		for _, a := range i.Abstract {
			required[a] = true
		}
	}
	for _, p := range t.Props {
		if p.Getter != "" {
			required[p.Getter] = true
		}
	}
	var missing []string
	for name := range required {
		if c := t.chains[name]; c == nil || len(c.Bodies) == 0 {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	for _, name := range missing {
		fail(diag.LnkUnresolvedMethod, t.Name, "no body for method %s", name)
	}
}

// ambiguous reports whether two default bodies come from interfaces that
// are not related by inheritance.
func ambiguous(defaults []*Method) bool {
	for i := 0; i < len(defaults); i++ {
		for j := i + 1; j < len(defaults); j++ {
			a, b := defaults[i].Owner, defaults[j].Owner
			if !a.IsA(b) && !b.IsA(a) {
				return true
			}
		}
	}
	return false
}

func (r *Registry) checkConstants(fail func(diag.Code, string, string, ...any)) {
	for _, pool := range r.pools {
		for _, c := range pool.Constants() {
			switch c.Kind {
			case asm.ConstType:
				if r.types[c.Str] == nil {
					fail(diag.LnkUnknownType, c.Str, "referenced type is not declared")
				}
			case asm.ConstFunction:
				if r.functions[c.Str] == nil {
					fail(diag.LnkUnresolvedMethod, c.Str, "referenced function is not declared")
				}
			}
		}
	}
}
