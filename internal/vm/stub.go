package vm

import (
	"fmt"

	"xvm/internal/asm"
)

type stubKey struct {
	kind CallKind
	name string
	args int
	rets int
}

// stub returns the root body a request runs in: it takes the request
// arguments as parameters, performs the call and returns its results.
// Stubs are assembled once per shape and shared by every service.
func (rt *Runtime) stub(call Call, nargs int) (*Method, error) {
	key := stubKey{kind: call.Kind, name: call.Name, args: nargs, rets: call.Rets}
	rt.stubMu.Lock()
	defer rt.stubMu.Unlock()
	if m, ok := rt.stubs[key]; ok {
		return m, nil
	}
	if call.Kind == CallFunction && rt.reg.Function(call.Name) == nil {
		return nil, fmt.Errorf("unknown function %s", call.Name)
	}

	name := "<" + call.Kind.String() + " " + call.Name + ">"
	mb := asm.NewModuleBuilder(name)
	b := mb.Function(name, nargs, call.Rets)
	args := make([]int, nargs)
	for i := range args {
		args[i] = asm.Reg(i)
	}
	rets := make([]int, call.Rets)
	for i := range rets {
		rets[i] = asm.Reg(nargs + i)
	}
	switch call.Kind {
	case CallFunction:
		b.Call(b.Func(call.Name), args, rets...)
	case CallMethod, CallConstruct:
		b.Invoke(asm.ArgThis, call.Name, args, rets...)
	case CallGet:
		if len(rets) != 1 {
			return nil, fmt.Errorf("get %s expects 1 result, got %d", call.Name, len(rets))
		}
		b.PGet(asm.ArgThis, call.Name, rets[0])
	case CallSet:
		if nargs != 1 {
			return nil, fmt.Errorf("set %s takes 1 argument, got %d", call.Name, nargs)
		}
		b.PSet(asm.ArgThis, call.Name, args[0])
	default:
		return nil, fmt.Errorf("unknown call kind %d", call.Kind)
	}
	b.Return(rets...)
	mod, err := mb.Build()
	if err != nil {
		return nil, fmt.Errorf("stub %s: %w", name, err)
	}
	m := &Method{Name: name, Body: mod.Functions[0], Pool: mod.Pool}
	rt.stubs[key] = m
	return m, nil
}
