package vm

// futureState is the completion record of one request. Only the sending
// service reads or completes it.
type futureState struct {
	id     uint64
	done   bool
	values []Handle
	fault  *ExceptionHandle
}

// FutureHandle is one result slot of an outstanding request. It lives in
// dynamic registers only and never crosses a service boundary.
type FutureHandle struct {
	typ   *Type
	state *futureState
	null  Handle
	Index int
}

func (h *FutureHandle) Type() *Type { return h.typ }
func (*FutureHandle) Mutable() bool { return true }

// ID returns the id of the request the future belongs to.
func (h *FutureHandle) ID() uint64 { return h.state.id }

// Done reports whether the response arrived.
func (h *FutureHandle) Done() bool { return h.state.done }

// Fault returns the fault the request completed with, or nil.
func (h *FutureHandle) Fault() *ExceptionHandle { return h.state.fault }

// Value returns the resolved slot value; Null when the response carried
// fewer values.
func (h *FutureHandle) Value() Handle {
	if h.Index < len(h.state.values) {
		return h.state.values[h.Index]
	}
	return h.null
}

func (s *futureState) complete(values []Handle, fault *ExceptionHandle) {
	s.done = true
	s.values = values
	s.fault = fault
}

func (s *futureState) slot(r *Registry, i int) *FutureHandle {
	return &FutureHandle{typ: r.FutureType, state: s, null: r.Null(), Index: i}
}
