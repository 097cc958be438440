package vm

import (
	"context"
	"fmt"

	"xvm/internal/asyncrt"
	"xvm/internal/trace"
)

const (
	// codeResume is internal to the fiber loop: the awaited future of the
	// top frame resolved.
	codeResume = -101

	// ctxCheckEvery is how many ops run between context checks.
	ctxCheckEvery = 4096
)

// Fiber is one root request running inside a service. Its frames form an
// explicit stack indexed by depth; only the top frame executes.
type Fiber struct {
	ID       asyncrt.TaskID
	svc      *ServiceContext
	req      *Request
	frames   []*Frame
	maxDepth int

	after   asyncrt.TaskID // fiber that has to finish before this one starts
	code    int            // how to continue when polled next
	steps   uint64
	results []Handle
	fault   *ExceptionHandle
}

// Service returns the service the fiber runs in.
func (fb *Fiber) Service() *ServiceContext { return fb.svc }

// Frames returns the frame stack, root first.
func (fb *Fiber) Frames() []*Frame { return append([]*Frame(nil), fb.frames...) }

func (fb *Fiber) top() *Frame {
	if len(fb.frames) == 0 {
		return nil
	}
	return fb.frames[len(fb.frames)-1]
}

func (fb *Fiber) push(f *Frame) { fb.frames = append(fb.frames, f) }

func (fb *Fiber) pop() *Frame {
	f := fb.frames[len(fb.frames)-1]
	fb.frames[len(fb.frames)-1] = nil
	fb.frames = fb.frames[:len(fb.frames)-1]
	return f
}

// run executes the fiber until it completes, faults or has to wait for a
// future. It never blocks the worker.
func (fb *Fiber) run(ctx context.Context) asyncrt.PollOutcome {
	if fb.after != 0 {
		if t := fb.svc.exec.Task(fb.after); t != nil && t.Status != asyncrt.TaskDone {
			return asyncrt.PollOutcome{Kind: asyncrt.PollParked, ParkKey: asyncrt.JoinKey(fb.after)}
		}
		fb.after = 0
	}
	code := fb.code
	fb.code = codeStep
	for {
		f := fb.top()
		switch {
		case code == codeStep:
			fb.steps++
			if fb.steps%ctxCheckEvery == 0 && ctx.Err() != nil {
				return asyncrt.PollOutcome{Kind: asyncrt.PollDoneCancelled}
			}
			code = f.step()
		case code >= 0:
			f.pc = code
			code = codeStep
		case code == RNext:
			f.pc++
			code = codeStep
		case code == RCall:
			code = codeStep
		case code == RReturn:
			child := fb.pop()
			if len(fb.frames) == 0 {
				fb.results = child.results
				return asyncrt.PollOutcome{Kind: asyncrt.PollDoneSuccess, Value: child.results}
			}
			code = child.complete(fb.top())
		case code == RException:
			child := fb.pop()
			if len(fb.frames) == 0 {
				fb.fault = child.fault
				trace.Point(fb.svc.rt.tracer, trace.ScopeFiber, "fiber:fault", fmt.Sprintf("%s fiber=%d %s", fb.svc.Name, fb.ID, child.fault))
				return asyncrt.PollOutcome{Kind: asyncrt.PollDoneFailed, Value: child.fault}
			}
			code = fb.top().RaiseException(child.fault)
		case code == RRepeat, code == RBlock:
			fut := f.blockedOn
			if fut == nil {
				// nothing will ever make the operand ready
				f.resume = nil
				code = f.Raise(f.Registry().IllegalState, "%s at @%d can never resolve its operands", f.Method, f.pc)
				continue
			}
			next := codeStep
			if code == RBlock {
				next = codeResume
			}
			if fut.Done() {
				code = next
				if code == codeStep {
					f.blockedOn = nil
				}
				continue
			}
			fb.code = next
			if next == codeStep {
				// the op re-reads its operands when it runs again
				f.blockedOn = nil
			}
			trace.Point(fb.svc.rt.tracer, trace.ScopeFiber, "fiber:park", fmt.Sprintf("%s fiber=%d future=%d", fb.svc.Name, fb.ID, fut.ID()))
			return asyncrt.PollOutcome{Kind: asyncrt.PollParked, ParkKey: asyncrt.FutureKey(fut.ID())}
		case code == codeResume:
			fut := f.blockedOn
			f.blockedOn = nil
			k := f.resume
			f.resume = nil
			if ex := fut.Fault(); ex != nil {
				code = f.RaiseException(ex)
				continue
			}
			if k == nil {
				code = RNext
				continue
			}
			code = k(f)
		default:
			code = f.Raise(f.Registry().IllegalState, "unknown control code %d", code)
		}
	}
}

// step executes the op at pc. Running off the end returns no values.
func (f *Frame) step() int {
	body := f.Method.Body
	if f.pc >= len(body.Ops) {
		return f.doReturn(nil)
	}
	op := &body.Ops[f.pc]
	t := f.Runtime().ops
	if t == nil {
		return execute(f, op)
	}
	t.TraceOp(f, op)
	code := execute(f, op)
	if code == RNext && len(op.Rets) > 0 {
		t.TraceWrite(f, op.Rets[0])
	}
	return code
}
