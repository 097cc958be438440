// Package testkit holds invariant checks shared by the VM tests.
package testkit

import (
	"errors"
	"fmt"

	"xvm/internal/vm"
)

// CheckFrameInvariants runs the structural checks on one frame:
// 1) pc lies within the body (one past the end is a pending return)
// 2) guard scopes never decrease and never exceed the open scope depth
// 3) every assigned register holds a value of its declared type
func CheckFrameInvariants(f *vm.Frame) error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	body := f.Method.Body
	if body == nil {
		return fmt.Errorf("%s: native method has no frame state", f.Method)
	}

	if pc := f.PC(); pc < 0 || pc > len(body.Ops) {
		return fmt.Errorf("%s: pc %d outside [0, %d]", f.Method, pc, len(body.Ops))
	}

	depth := f.ScopeDepth()
	prev := 0
	for i, s := range f.GuardScopes() {
		if s < prev {
			return fmt.Errorf("%s: guard %d scope %d below enclosing guard scope %d", f.Method, i, s, prev)
		}
		if s > depth {
			return fmt.Errorf("%s: guard %d scope %d above scope depth %d", f.Method, i, s, depth)
		}
		prev = s
	}

	for n, info := range f.Vars() {
		v := f.Register(n)
		switch {
		case info.State == vm.Unassigned:
			continue
		case v == nil:
			return fmt.Errorf("%s: r%d is assigned but empty", f.Method, n)
		case info.Type == nil || vm.IsNull(v):
			continue
		}
		if _, ok := v.(*vm.FutureHandle); ok {
			if !info.Dynamic {
				return fmt.Errorf("%s: future in non-dynamic register r%d", f.Method, n)
			}
			continue
		}
		if !v.Type().IsA(info.Type) {
			return fmt.Errorf("%s: r%d declared %s holds %s", f.Method, n, info.Type, v.Type())
		}
	}
	return nil
}

// CheckFiberInvariants checks every frame of fb, root first.
func CheckFiberInvariants(fb *vm.Fiber) error {
	if fb == nil {
		return fmt.Errorf("nil fiber")
	}
	var errs []error
	for i, f := range fb.Frames() {
		if f.Fiber() != fb {
			errs = append(errs, fmt.Errorf("frame %d belongs to another fiber", i))
			continue
		}
		if err := CheckFrameInvariants(f); err != nil {
			errs = append(errs, fmt.Errorf("frame %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
