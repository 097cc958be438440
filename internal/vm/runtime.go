package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"xvm/internal/trace"
)

// DefaultMaxDepth bounds the frames of one fiber.
const DefaultMaxDepth = 1024

// Config configures a Runtime.
type Config struct {
	MaxDepth int    // frames per fiber; 0 means DefaultMaxDepth
	FuzzSeed uint64 // non-zero shuffles ready fibers with this seed

	Out     io.Writer // console output; os.Stdout when nil
	OpTrace io.Writer // op-level trace; none when nil
	Tracer  trace.Tracer
	Events  chan<- ServiceEvent
}

// Runtime hosts the services of one program. The registry is shared
// read-only by every service; everything else a service touches is its
// own.
type Runtime struct {
	reg    *Registry
	cfg    Config
	out    io.Writer
	ops    *Tracer
	tracer trace.Tracer

	maxDepth int
	ids      atomic.Uint64
	activity *activity

	injectMu sync.RWMutex
	inject   map[string]Handle

	stubMu sync.Mutex
	stubs  map[stubKey]*Method

	mu       sync.Mutex
	running  bool
	services []*ServiceContext
	group    *errgroup.Group
	gctx     context.Context
	span     *trace.Span
}

// NewRuntime creates a runtime over a linked registry. Every injection
// the registry declares gets its single immutable instance here.
func NewRuntime(reg *Registry, cfg Config) (*Runtime, error) {
	if reg == nil || !reg.Linked() {
		return nil, errors.New("vm: runtime needs a linked registry")
	}
	rt := &Runtime{
		reg:      reg,
		cfg:      cfg,
		out:      cfg.Out,
		tracer:   cfg.Tracer,
		maxDepth: cfg.MaxDepth,
		activity: newActivity(),
		inject:   make(map[string]Handle),
		stubs:    make(map[stubKey]*Method),
	}
	if rt.out == nil {
		rt.out = os.Stdout
	}
	rt.out = &syncWriter{w: rt.out}
	if rt.tracer == nil {
		rt.tracer = trace.Nop
	}
	if rt.maxDepth <= 0 {
		rt.maxDepth = DefaultMaxDepth
	}
	if cfg.OpTrace != nil {
		rt.ops = NewTracer(cfg.OpTrace)
	}

	host := newHeap(nil, reg, &rt.ids)
	names := make([]string, 0, len(reg.inject))
	for name := range reg.inject {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := reg.Lookup(reg.inject[name])
		if t == nil {
			return nil, fmt.Errorf("vm: injection %s: unknown type %s", name, reg.inject[name])
		}
		obj := host.New(t)
		obj.mutable = false
		rt.inject[name] = obj
	}
	return rt, nil
}

// Inject makes INJECT :name resolve to h. Only immutable values can be
// injected since every service sees the same handle.
func (rt *Runtime) Inject(name string, h Handle) error {
	if h == nil || h.Mutable() {
		return fmt.Errorf("vm: inject %s: value must be immutable", name)
	}
	rt.injectMu.Lock()
	rt.inject[name] = h
	rt.injectMu.Unlock()
	return nil
}

func (rt *Runtime) injected(name string) (Handle, bool) {
	rt.injectMu.RLock()
	defer rt.injectMu.RUnlock()
	h, ok := rt.inject[name]
	return h, ok
}

// Out returns the console writer.
func (rt *Runtime) Out() io.Writer { return rt.out }

// Registry returns the linked registry.
func (rt *Runtime) Registry() *Registry { return rt.reg }

// Services returns every service started by the last Start, in start
// order.
func (rt *Runtime) Services() []*ServiceContext {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]*ServiceContext(nil), rt.services...)
}

// Start runs entry in a fresh root service and waits until every service
// is quiescent: no message in flight and no fiber able to run. Workers
// are then shut down. It returns the results of entry, a *HostError when
// entry faulted or can never complete, or the context error.
func (rt *Runtime) Start(ctx context.Context, entry string, args ...Handle) ([]Handle, error) {
	m := rt.reg.Function(entry)
	if m == nil {
		return nil, fmt.Errorf("vm: unknown entry function %s", entry)
	}
	rets := 0
	if m.Body != nil {
		if m.Body.Params != len(args) {
			return nil, fmt.Errorf("vm: %s takes %d arguments, got %d", entry, m.Body.Params, len(args))
		}
		rets = m.Body.Returns
	}

	rt.mu.Lock()
	if rt.running {
		rt.mu.Unlock()
		return nil, errors.New("vm: runtime is already running")
	}
	rt.running = true
	rt.activity = newActivity()
	gctx, cancel := context.WithCancel(ctx)
	rt.group, rt.gctx = errgroup.WithContext(gctx)
	rt.services = nil
	rt.mu.Unlock()
	defer func() {
		rt.mu.Lock()
		rt.running = false
		rt.mu.Unlock()
	}()

	span := trace.Begin(rt.tracer, trace.ScopeRuntime, "runtime:start", 0)
	rt.mu.Lock()
	rt.span = span
	rt.mu.Unlock()
	root := rt.startService("main", rt.reg.ServiceType, nil)
	root.instance = root.heap.New(rt.reg.ServiceType)

	vals, err := transferAll(args, nil, root)
	if err != nil {
		cancel()
		_ = rt.group.Wait()
		span.End("bad arguments")
		return nil, fmt.Errorf("vm: %s: %w", entry, err)
	}
	reply := make(chan Response, 1)
	rt.post(root, message{req: &Request{
		ID:    rt.ids.Add(1),
		Call:  Call{Kind: CallFunction, Name: entry, Rets: rets},
		Args:  vals,
		reply: reply,
	}})

	var ctxErr error
	select {
	case <-rt.activity.wait():
	case <-ctx.Done():
		ctxErr = ctx.Err()
	}
	cancel()
	if err := rt.group.Wait(); err != nil && ctxErr == nil {
		ctxErr = err
	}

	if ctxErr != nil {
		span.End(ctxErr.Error())
		return nil, ctxErr
	}
	select {
	case resp := <-reply:
		span.End("done")
		if resp.Fault != nil {
			return nil, &HostError{Service: root.Name, Fault: resp.Fault}
		}
		return resp.Values, nil
	default:
	}
	span.End("deadlock")
	return nil, rt.deadlock(entry)
}

// Status summarises the services for heartbeats and progress lines.
func (rt *Runtime) Status() string {
	counts := make(map[ServiceState]int)
	services := rt.Services()
	queued := 0
	for _, s := range services {
		counts[s.State()]++
		queued += s.mailbox.Len()
	}
	rt.mu.Lock()
	a := rt.activity
	rt.mu.Unlock()
	a.mu.Lock()
	inflight := a.n
	a.mu.Unlock()
	return fmt.Sprintf("services=%d executing=%d suspended=%d terminated=%d queued=%d inflight=%d",
		len(services), counts[Executing]+counts[Dispatching], counts[Suspended], counts[Terminated], queued, inflight)
}

// deadlock describes an entry that is still waiting while every service
// went quiet.
func (rt *Runtime) deadlock(entry string) error {
	var waiting []string
	for _, s := range rt.Services() {
		if s.State() == Suspended {
			waiting = append(waiting, s.Name)
		}
	}
	msg := fmt.Sprintf("%s can never complete", entry)
	if len(waiting) > 0 {
		msg += ": suspended " + strings.Join(waiting, ", ")
	}
	ex := newHeap(nil, rt.reg, &rt.ids).NewException(rt.reg.Deadlock, msg, nil)
	return &HostError{Service: "main", Fault: ex}
}

// startService registers a service and starts its worker.
func (rt *Runtime) startService(name string, t *Type, parent *ServiceContext) *ServiceContext {
	s := newService(rt, name, t, parent)
	rt.mu.Lock()
	rt.services = append(rt.services, s)
	g, gctx, span := rt.group, rt.gctx, rt.span
	rt.mu.Unlock()
	s.parentSpan = span
	g.Go(func() error { return s.loop(gctx) })
	trace.Point(rt.tracer, trace.ScopeService, "service:start", fmt.Sprintf("%s#%d", name, s.ID))
	return s
}

// post delivers msg to the mailbox of to. The message counts as in flight
// until the receiving worker has processed it.
func (rt *Runtime) post(to *ServiceContext, msg message) {
	rt.activity.add(1)
	to.mailbox.post(msg)
}

// syncWriter serialises console writes from concurrent service workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// activity counts in-flight messages. idle is closed while the count is
// zero.
type activity struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newActivity() *activity {
	a := &activity{idle: make(chan struct{})}
	close(a.idle)
	return a
}

func (a *activity) add(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		a.idle = make(chan struct{})
	}
	a.n += n
}

func (a *activity) done(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		return
	}
	a.n -= n
	if a.n <= 0 {
		a.n = 0
		close(a.idle)
	}
}

func (a *activity) wait() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idle
}
