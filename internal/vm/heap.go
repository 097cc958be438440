package vm

import "sync/atomic"

// Heap allocates the objects owned by one service. Object ids are unique
// per runtime and never reused within a run.
//
// Only the owning worker allocates into a heap, with one exception:
// transfer copies arguments into the receiver's heap from the sender's
// goroutine before the message is posted, so the counters are atomic.
type Heap struct {
	owner  *ServiceContext
	reg    *Registry
	ids    *atomic.Uint64
	allocs atomic.Uint64
}

func newHeap(owner *ServiceContext, reg *Registry, ids *atomic.Uint64) *Heap {
	return &Heap{owner: owner, reg: reg, ids: ids}
}

// New allocates a mutable instance of t with its property initialisers.
func (h *Heap) New(t *Type) *ObjectHandle {
	obj := &ObjectHandle{
		typ:     t,
		ID:      h.ids.Add(1),
		Fields:  make([]Handle, len(t.Props)),
		mutable: true,
		owner:   h.owner,
	}
	for i, p := range t.Props {
		if p.Init != nil {
			obj.Fields[i] = p.Init
		} else if p.Getter == "" {
			obj.Fields[i] = h.reg.Null()
		}
	}
	h.allocs.Add(1)
	return obj
}

// NewException allocates an immutable fault of type t.
func (h *Heap) NewException(t *Type, msg string, cause *ExceptionHandle) *ExceptionHandle {
	ex := &ExceptionHandle{ObjectHandle: h.New(t)}
	ex.mutable = false
	if idx, ok := t.PropIndex("message"); ok {
		ex.Fields[idx] = h.reg.MakeString(msg)
	}
	if idx, ok := t.PropIndex("cause"); ok && cause != nil {
		ex.Fields[idx] = cause
	}
	return ex
}

// Allocs returns the number of objects allocated so far.
func (h *Heap) Allocs() uint64 {
	return h.allocs.Load()
}
