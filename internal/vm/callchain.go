package vm

// CallChain is the linked dispatch order of one method on one type: the
// most specific body first, interface defaults last.
type CallChain struct {
	Name   string
	Bodies []*Method
}

// Len returns the number of bodies in the chain.
func (c *CallChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Bodies)
}

// At returns the body at depth, or nil past the end.
func (c *CallChain) At(depth int) *Method {
	if c == nil || depth < 0 || depth >= len(c.Bodies) {
		return nil
	}
	return c.Bodies[depth]
}

// Invoke runs the body at depth against target. Native bodies run inline
// in the calling frame; assembled ones get a child frame that remembers
// the chain, so SUPER inside it continues at depth+1.
func (c *CallChain) Invoke(f *Frame, target Handle, args []Handle, rets []int, depth int) int {
	m := c.At(depth)
	if m == nil {
		name := "?"
		if c != nil {
			name = c.Name
		}
		return f.Raise(f.Registry().Unsupported, "no body for %s at depth %d", name, depth)
	}
	if m.IsNative() {
		return m.Native(f, target, args, rets)
	}
	return f.Call(m, target, c, depth, args, rets)
}

// callFunction runs a module function without a target.
func callFunction(f *Frame, m *Method, args []Handle, rets []int) int {
	if m.IsNative() {
		return m.Native(f, nil, args, rets)
	}
	return f.Call(m, nil, nil, 0, args, rets)
}
