package vm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"xvm/internal/asm"
	"xvm/internal/asyncrt"
	"xvm/internal/trace"
)

// ServiceState is the scheduling state of a service worker.
type ServiceState uint32

const (
	Idle ServiceState = iota
	Dispatching
	Executing
	Suspended // idle, with fibers waiting on futures
	Terminated
)

func (s ServiceState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Executing:
		return "executing"
	case Suspended:
		return "suspended"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// replyOrder releases responses to one sender in request order.
type replyOrder struct {
	next uint64
	held map[uint64]*Response
}

// ServiceContext is an isolated actor: a private heap, a mailbox and one
// worker goroutine that alternates between dispatching messages and
// running ready fibers. Everything below the mutex-guarded parts is
// touched by the worker only.
type ServiceContext struct {
	ID     uint64
	Name   string
	typ    *Type
	rt     *Runtime
	parent *ServiceContext

	heap     *Heap
	mailbox  *Mailbox
	handle   *ServiceHandle
	instance *ObjectHandle
	state    atomic.Uint32

	exec       *asyncrt.Executor
	seq        map[*ServiceContext]uint64
	pendingOut map[uint64]*futureState
	replies    map[*ServiceContext]*replyOrder
	open       map[uint64]*Fiber
	ctor       asyncrt.TaskID // construct fiber; requests wait until it is done
	terminated bool
	span       *trace.Span
	parentSpan *trace.Span

	faultMu sync.Mutex
	faults  []*ExceptionHandle
}

func newService(rt *Runtime, name string, t *Type, parent *ServiceContext) *ServiceContext {
	s := &ServiceContext{
		ID:         rt.ids.Add(1),
		Name:       name,
		typ:        t,
		rt:         rt,
		parent:     parent,
		mailbox:    newMailbox(),
		exec:       asyncrt.NewExecutor(asyncrt.Config{Fuzz: rt.cfg.FuzzSeed != 0, Seed: rt.cfg.FuzzSeed}),
		seq:        make(map[*ServiceContext]uint64),
		pendingOut: make(map[uint64]*futureState),
		replies:    make(map[*ServiceContext]*replyOrder),
		open:       make(map[uint64]*Fiber),
	}
	s.heap = newHeap(s, rt.reg, &rt.ids)
	s.handle = &ServiceHandle{ctx: s}
	return s
}

// Handle returns the immutable proxy other services use.
func (s *ServiceContext) Handle() *ServiceHandle { return s.handle }

// Type returns the service type.
func (s *ServiceContext) Type() *Type { return s.typ }

// State returns the current scheduling state.
func (s *ServiceContext) State() ServiceState { return ServiceState(s.state.Load()) }

// Heap returns the service heap.
func (s *ServiceContext) Heap() *Heap { return s.heap }

// Faults returns the uncaught faults recorded so far, oldest first.
func (s *ServiceContext) Faults() []*ExceptionHandle {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return append([]*ExceptionHandle(nil), s.faults...)
}

func (s *ServiceContext) recordFault(ex *ExceptionHandle) {
	s.faultMu.Lock()
	s.faults = append(s.faults, ex)
	s.faultMu.Unlock()
	trace.Fault(s.rt.tracer, "fault:"+s.Name, ex.String())
}

func (s *ServiceContext) setState(st ServiceState) {
	if s.terminated {
		st = Terminated
	}
	if ServiceState(s.state.Swap(uint32(st))) != st {
		s.rt.publish(s)
	}
}

// loop is the worker. It returns when the runtime context is cancelled.
func (s *ServiceContext) loop(ctx context.Context) error {
	s.span = s.parentSpan.Child(trace.ScopeService, "service:"+s.Name)
	defer func() { s.span.End(s.State().String()) }()
	for {
		msgs := s.mailbox.drain()
		if len(msgs) > 0 {
			s.setState(Dispatching)
			for _, m := range msgs {
				s.safely(func() { s.dispatch(m) })
			}
			s.setState(Executing)
			s.safely(func() { s.runReady(ctx) })
			s.settle()
			s.rt.activity.done(len(msgs))
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.mailbox.notify:
		}
	}
}

func (s *ServiceContext) settle() {
	if s.exec.ParkedCount() > 0 {
		s.setState(Suspended)
		return
	}
	s.setState(Idle)
}

// safely runs fn and turns a Go panic into a terminal service fault.
func (s *ServiceContext) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			ex := s.heap.NewException(s.rt.reg.IllegalState, fmt.Sprintf("internal fault: %v", r), nil)
			s.recordFault(ex)
			s.terminate(ex)
		}
	}()
	fn()
}

func (s *ServiceContext) dispatch(m message) {
	if m.resp != nil {
		trace.Point(s.rt.tracer, trace.ScopeService, "response:"+s.Name, fmt.Sprintf("#%d seq=%d", m.resp.RequestID, m.resp.Seq))
		st := s.pendingOut[m.resp.RequestID]
		if st == nil {
			return
		}
		delete(s.pendingOut, m.resp.RequestID)
		st.complete(m.resp.Values, m.resp.Fault)
		s.exec.WakeKeyAll(asyncrt.FutureKey(m.resp.RequestID))
		return
	}
	req := m.req
	trace.Point(s.rt.tracer, trace.ScopeService, "request:"+s.Name, fmt.Sprintf("%s %s #%d", req.Call.Kind, req.Call.Name, req.ID))
	if s.terminated {
		s.reply(req, nil, s.terminatedFault(nil))
		return
	}
	if req.Call.Kind == CallConstruct {
		s.construct(req)
		return
	}
	stub, err := s.rt.stub(req.Call, len(req.Args))
	if err != nil {
		s.reply(req, nil, s.heap.NewException(s.rt.reg.IllegalArgument, err.Error(), nil))
		return
	}
	var this Handle
	if req.Call.Kind != CallFunction {
		this = s.instance
	}
	fb := s.spawn(stub, this, req)
	fb.after = s.ctor
}

// construct allocates the service instance and runs its construct chain.
// A fault during construction terminates the service.
func (s *ServiceContext) construct(req *Request) {
	s.instance = s.heap.New(s.typ)
	if s.typ.Chain("construct").Len() > 0 {
		m, err := s.rt.stub(req.Call, len(req.Args))
		if err == nil {
			s.ctor = s.spawn(m, s.instance, req).ID
			return
		}
	}
	slot := 0
	for _, a := range req.Args {
		for slot < len(s.typ.Props) && s.typ.Props[slot].Getter != "" {
			slot++
		}
		if slot >= len(s.typ.Props) {
			ex := s.heap.NewException(s.rt.reg.IllegalArgument, fmt.Sprintf("%s takes at most %d initial values", s.typ, slot), nil)
			s.recordFault(ex)
			s.reply(req, nil, ex)
			s.terminate(ex)
			return
		}
		s.instance.Fields[slot] = a
		slot++
	}
	s.reply(req, nil, nil)
}

func (s *ServiceContext) spawn(m *Method, this Handle, req *Request) *Fiber {
	fb := &Fiber{svc: s, req: req, maxDepth: s.rt.maxDepth, code: codeStep}
	root := newFrame(fb, m, this, nil, 0)
	root.bindParams(req.Args)
	fb.push(root)
	fb.ID = s.exec.Spawn(fmt.Sprintf("%s#%d", req.Call.Kind, req.ID), fb)
	s.open[req.ID] = fb
	trace.Point(s.rt.tracer, trace.ScopeFiber, "fiber:spawn", fmt.Sprintf("%s fiber=%d %s", s.Name, fb.ID, m))
	return fb
}

func (s *ServiceContext) runReady(ctx context.Context) {
	defer s.exec.SetCurrent(0)
	for {
		id, ok := s.exec.NextReady()
		if !ok {
			return
		}
		task := s.exec.Task(id)
		fb, _ := task.State.(*Fiber)
		if fb == nil {
			s.exec.MarkDone(id, asyncrt.TaskResultCancelled, nil)
			continue
		}
		s.exec.SetCurrent(id)
		out := fb.run(ctx)
		s.exec.Apply(id, out)
		if out.Kind.Done() {
			s.finish(fb, out.Kind)
			s.exec.Forget(id)
		}
	}
}

func (s *ServiceContext) finish(fb *Fiber, kind asyncrt.PollOutcomeKind) {
	delete(s.open, fb.req.ID)
	switch kind {
	case asyncrt.PollDoneSuccess:
		trace.Point(s.rt.tracer, trace.ScopeFiber, "fiber:done", fmt.Sprintf("%s fiber=%d", s.Name, fb.ID))
		s.reply(fb.req, fb.results, nil)
	case asyncrt.PollDoneFailed:
		s.recordFault(fb.fault)
		s.reply(fb.req, nil, fb.fault)
		if fb.req.Call.Kind == CallConstruct {
			s.terminate(fb.fault)
		}
	default:
		s.reply(fb.req, nil, s.terminatedFault(nil))
	}
}

// terminate shuts the service down: open requests fail with
// ServiceTerminated, fibers are dropped and later requests are refused.
func (s *ServiceContext) terminate(cause *ExceptionHandle) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.setState(Terminated)
	trace.Point(s.rt.tracer, trace.ScopeService, "service:terminate", s.Name)
	ids := make([]uint64, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.reply(s.open[id].req, nil, s.terminatedFault(cause))
	}
	s.open = make(map[uint64]*Fiber)
	s.exec.DrainTasks()
}

func (s *ServiceContext) terminatedFault(cause *ExceptionHandle) *ExceptionHandle {
	return s.heap.NewException(s.rt.reg.ServiceTerminated, "service "+s.Name+" is terminated", cause)
}

// Shutdown terminates the service from its own worker.
func (s *ServiceContext) Shutdown() { s.terminate(nil) }

// SendRequest posts call to the service to and returns the completion
// record the response will fill. Arguments are transferred first; a value
// that may not cross services yields an IllegalArgument fault instead.
func (s *ServiceContext) SendRequest(to *ServiceContext, call Call, args []Handle) (*futureState, *ExceptionHandle) {
	vals, err := transferAll(args, s, to)
	if err != nil {
		return nil, s.heap.NewException(s.rt.reg.IllegalArgument, err.Error(), nil)
	}
	id := s.rt.ids.Add(1)
	seq := s.seq[to]
	s.seq[to] = seq + 1
	st := &futureState{id: id}
	s.pendingOut[id] = st
	s.rt.post(to, message{req: &Request{ID: id, From: s, Seq: seq, Call: call, Args: vals}})
	return st, nil
}

// reply completes req. Responses to a service sender are released in
// the order its requests were sent.
func (s *ServiceContext) reply(req *Request, values []Handle, fault *ExceptionHandle) {
	if fault != nil {
		fault = s.transferFault(fault, req.From)
	}
	if req.From == nil {
		if fault == nil {
			vals, err := transferAll(values, s, nil)
			if err != nil {
				fault = s.heap.NewException(s.rt.reg.IllegalArgument, err.Error(), nil)
			}
			values = vals
		}
		if req.reply != nil {
			req.reply <- Response{RequestID: req.ID, Values: values, Fault: fault}
		}
		return
	}
	if fault == nil {
		vals, err := transferAll(values, s, req.From)
		if err != nil {
			fault = s.heap.NewException(s.rt.reg.IllegalArgument, err.Error(), nil)
		}
		values = vals
	}
	order := s.replies[req.From]
	if order == nil {
		order = &replyOrder{held: make(map[uint64]*Response)}
		s.replies[req.From] = order
	}
	order.held[req.Seq] = &Response{RequestID: req.ID, Seq: req.Seq, Values: values, Fault: fault}
	for {
		resp, ok := order.held[order.next]
		if !ok {
			return
		}
		delete(order.held, order.next)
		order.next++
		s.rt.post(req.From, message{resp: resp})
	}
}

// remote sends call to another service. Without result targets, or with
// only dynamic and ignored ones, the frame goes on and the targets get
// futures. Otherwise it blocks until the response arrives.
func (f *Frame) remote(to *ServiceContext, call Call, args []Handle, rets []int) int {
	st, ex := f.Service().SendRequest(to, call, args)
	if ex != nil {
		ex.Backtrace = f.backtrace()
		return f.RaiseException(ex)
	}
	reg := f.Registry()
	if !f.mustWait(rets) {
		for i, r := range rets {
			if r == asm.ArgIgnore {
				continue
			}
			if code := f.AssignValue(r, st.slot(reg, i)); code != RNext {
				return code
			}
		}
		return RNext
	}
	f.blockedOn = st.slot(reg, 0)
	f.resume = func(f *Frame) int {
		return f.assignResults(rets, st.values)
	}
	return RBlock
}

func (f *Frame) mustWait(rets []int) bool {
	for _, r := range rets {
		if r == asm.ArgIgnore {
			continue
		}
		if asm.IsReg(r) {
			if n := asm.RegisterIndex(r); n < len(f.vars) && f.vars[n].Dynamic {
				continue
			}
		}
		return true
	}
	return false
}

// newService starts a service of type t and posts its construct request.
// The handle is usable at once; construction runs asynchronously.
func (f *Frame) newService(t *Type, args []Handle, ret int) int {
	reg := f.Registry()
	if t.Kind != asm.KindService {
		return f.Raise(reg.IllegalArgument, "%s is not a service type", t)
	}
	parent := f.Service()
	svc := f.Runtime().startService(t.Name, t, parent)
	if _, ex := parent.SendRequest(svc, Call{Kind: CallConstruct, Name: "construct"}, args); ex != nil {
		ex.Backtrace = f.backtrace()
		return f.RaiseException(ex)
	}
	return f.AssignValue(ret, svc.Handle())
}
