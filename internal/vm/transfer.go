package vm

import (
	"fmt"
)

// transferAll moves vals from one service to another (nil is the host).
// Immutable values are shared as they are. Mutable objects are copied
// into the receiver's heap together with everything they reach; a
// service's own instance travels as its handle. Futures and deferred
// reads may not cross at all.
func transferAll(vals []Handle, from, to *ServiceContext) ([]Handle, error) {
	if len(vals) == 0 {
		return vals, nil
	}
	heap := receiverHeap(from, to)
	seen := make(map[*ObjectHandle]Handle)
	out := make([]Handle, len(vals))
	for i, v := range vals {
		h, err := transfer(v, from, heap, seen)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}

// transferFault moves a fault to the service to (nil is the host) the
// same way as a returned value. A fault that cannot cross is replaced by
// an IllegalState fault saying why.
func (s *ServiceContext) transferFault(ex *ExceptionHandle, to *ServiceContext) *ExceptionHandle {
	h, err := transfer(ex, s, receiverHeap(s, to), make(map[*ObjectHandle]Handle))
	if err != nil {
		return s.heap.NewException(s.rt.reg.IllegalState, fmt.Sprintf("%s cannot leave %s: %v", ex.Type(), s.Name, err), nil)
	}
	return h.(*ExceptionHandle)
}

// receiverHeap returns the heap copies are allocated in. The host gets a
// heap of its own that no service owns.
func receiverHeap(from, to *ServiceContext) *Heap {
	if to != nil {
		return to.heap
	}
	rt := from.rt
	return newHeap(nil, rt.reg, &rt.ids)
}

func transfer(h Handle, from *ServiceContext, heap *Heap, seen map[*ObjectHandle]Handle) (Handle, error) {
	switch v := h.(type) {
	case nil:
		return nil, nil
	case *FutureHandle:
		return nil, fmt.Errorf("future #%d cannot leave its service", v.ID())
	case *PropertyRef:
		return nil, fmt.Errorf("deferred read of %s cannot leave its service", v.Prop)
	case *ObjectHandle:
		if !v.mutable {
			return v, nil
		}
		if from != nil && v == from.instance {
			return from.Handle(), nil
		}
		if c, ok := seen[v]; ok {
			return c, nil
		}
		c := cloneObject(v, heap)
		seen[v] = c
		return c, copyFields(v, c, from, heap, seen)
	case *ExceptionHandle:
		if !v.mutable {
			return v, nil
		}
		if c, ok := seen[v.ObjectHandle]; ok {
			return c, nil
		}
		c := &ExceptionHandle{ObjectHandle: cloneObject(v.ObjectHandle, heap), Backtrace: v.Backtrace}
		seen[v.ObjectHandle] = c
		return c, copyFields(v.ObjectHandle, c.ObjectHandle, from, heap, seen)
	}
	if h.Mutable() {
		return nil, fmt.Errorf("%s value cannot leave its service", h.Type())
	}
	return h, nil
}

func cloneObject(v *ObjectHandle, heap *Heap) *ObjectHandle {
	c := &ObjectHandle{
		typ:     v.typ,
		ID:      heap.ids.Add(1),
		Fields:  make([]Handle, len(v.Fields)),
		mutable: true,
		owner:   heap.owner,
	}
	heap.allocs.Add(1)
	return c
}

func copyFields(src, dst *ObjectHandle, from *ServiceContext, heap *Heap, seen map[*ObjectHandle]Handle) error {
	for i, fv := range src.Fields {
		h, err := transfer(fv, from, heap, seen)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", src.typ, src.typ.Props[i].Name, err)
		}
		dst.Fields[i] = h
	}
	return nil
}
