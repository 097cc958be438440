package asyncrt

// WakerKind names the kind of event a parked task waits for.
type WakerKind uint8

const (
	WakerInvalid WakerKind = iota
	// WakerJoin waits for another task to finish.
	WakerJoin
	// WakerFuture waits for a request future to resolve.
	WakerFuture
)

// WakerKey identifies one wait queue. The zero key is invalid and parking
// on it is a no-op.
type WakerKey struct {
	Kind WakerKind
	A    uint64
	B    uint64
}

func (k WakerKey) IsValid() bool { return k.Kind != WakerInvalid }

func JoinKey(target TaskID) WakerKey {
	return WakerKey{Kind: WakerJoin, A: uint64(target)}
}

// FutureKey is invalid for id 0, which no request is ever given.
func FutureKey(id uint64) WakerKey {
	if id == 0 {
		return WakerKey{}
	}
	return WakerKey{Kind: WakerFuture, A: id}
}

// PollOutcomeKind is what a single poll of a task produced.
type PollOutcomeKind uint8

const (
	PollDoneSuccess PollOutcomeKind = iota
	PollDoneFailed
	PollDoneCancelled
	PollYielded
	PollParked
)

// Done reports whether the outcome finishes the task.
func (k PollOutcomeKind) Done() bool { return k <= PollDoneCancelled }

type PollOutcome struct {
	Kind    PollOutcomeKind
	Value   any
	ParkKey WakerKey // set for PollParked
}

var resultKinds = map[PollOutcomeKind]TaskResultKind{
	PollDoneSuccess:   TaskResultSuccess,
	PollDoneFailed:    TaskResultFailed,
	PollDoneCancelled: TaskResultCancelled,
}

// Apply feeds one poll outcome of id back into the scheduler.
func (e *Executor) Apply(id TaskID, out PollOutcome) {
	switch {
	case out.Kind.Done():
		e.MarkDone(id, resultKinds[out.Kind], out.Value)
	case out.Kind == PollYielded:
		e.Yield(id)
	case out.Kind == PollParked:
		if e.current != id {
			e.SetCurrent(id)
		}
		e.ParkCurrent(out.ParkKey)
	}
}
