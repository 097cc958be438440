package vm

// Control codes returned by op execution. A non-negative value is the
// absolute pc to continue at.
const (
	// RNext advances to pc+1. Helpers and continuations also use it to
	// report "done, nothing pending".
	RNext = -1
	// RCall means a child frame was pushed and must run first; the child's
	// continuation decides what the caller does next.
	RCall = -2
	// RException means a fault escaped every guard of the frame.
	RException = -3
	// RRepeat asks the scheduler to re-run the same op at the same pc once
	// the operand it waits on resolves. The op must not have changed state.
	RRepeat = -4
	// RBlock suspends the frame on an unready future; the frame resumes
	// through its stored resume continuation.
	RBlock = -5
	// RReturn means the frame completed and its results are set.
	RReturn = -6

	// codeStep is internal to the fiber loop: execute the op at pc.
	codeStep = -100
)

// Continuation resumes a frame after a nested computation completed. It
// receives the frame it resumes and returns a control code for it. It is
// never run when the nested computation faulted.
type Continuation func(f *Frame) int

func codeName(code int) string {
	switch code {
	case RNext:
		return "R_NEXT"
	case RCall:
		return "R_CALL"
	case RException:
		return "R_EXCEPTION"
	case RRepeat:
		return "R_REPEAT"
	case RBlock:
		return "R_BLOCK"
	case RReturn:
		return "R_RETURN"
	}
	if code >= 0 {
		return "pc"
	}
	return "R_?"
}
