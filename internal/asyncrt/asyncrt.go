package asyncrt

import "math/rand/v2"

// TaskID identifies a task within one Executor. Zero is never assigned.
type TaskID uint64

type TaskStatus uint8

const (
	TaskReady TaskStatus = iota
	TaskRunning
	TaskWaiting
	TaskDone
)

var statusNames = [...]string{"ready", "running", "waiting", "done"}

func (s TaskStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// TaskResultKind says how a finished task ended.
type TaskResultKind uint8

const (
	TaskResultSuccess TaskResultKind = iota
	TaskResultFailed
	TaskResultCancelled
)

// Task is the executor's record of a spawned unit of work. State is opaque
// to the executor; the vm stores its *Fiber there.
type Task struct {
	ID          TaskID
	Name        string
	State       any
	Status      TaskStatus
	ResultKind  TaskResultKind
	ResultValue any
}

// Config selects the scheduling policy. With Fuzz set, NextReady picks a
// pseudo-random ready task drawn from Seed, so a failing interleaving can
// be replayed with the same seed.
type Config struct {
	Fuzz bool
	Seed uint64
}

// Executor runs the fibers of a single service. Only that service's
// worker goroutine touches it, so there is no locking.
type Executor struct {
	tasks   map[TaskID]*Task
	ready   readyQueue
	waits   map[WakerKey][]TaskID
	parked  map[TaskID]WakerKey
	current TaskID
	lastID  TaskID
	pick    func(n int) int
}

func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		tasks:  make(map[TaskID]*Task),
		waits:  make(map[WakerKey][]TaskID),
		parked: make(map[TaskID]WakerKey),
	}
	e.ready.members = make(map[TaskID]struct{})
	if cfg.Fuzz {
		seed := cfg.Seed
		if seed == 0 {
			seed = 1
		}
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		e.pick = rng.IntN
	}
	return e
}

func (e *Executor) Current() TaskID { return e.current }

// SetCurrent marks id as the task being polled. Zero clears it.
func (e *Executor) SetCurrent(id TaskID) {
	e.current = id
	if t := e.live(id); t != nil {
		t.Status = TaskRunning
	}
}

func (e *Executor) Task(id TaskID) *Task { return e.tasks[id] }

// Spawn registers a ready task.
func (e *Executor) Spawn(name string, state any) TaskID {
	e.lastID++
	t := &Task{ID: e.lastID, Name: name, State: state}
	e.tasks[t.ID] = t
	e.enqueue(t)
	return t.ID
}

// NextReady dequeues the next runnable task, skipping any that finished
// while queued.
func (e *Executor) NextReady() (TaskID, bool) {
	for e.ready.len() > 0 {
		i := 0
		if e.pick != nil {
			i = e.pick(e.ready.len())
		}
		id := e.ready.take(i)
		if e.live(id) != nil {
			return id, true
		}
	}
	return 0, false
}

func (e *Executor) HasReady() bool { return e.ready.len() > 0 }

func (e *Executor) ParkedCount() int { return len(e.parked) }

// LiveCount counts tasks that have not finished.
func (e *Executor) LiveCount() int {
	n := 0
	for _, t := range e.tasks {
		if t.Status != TaskDone {
			n++
		}
	}
	return n
}

// Wake makes id runnable, pulling it out of any wait queue.
func (e *Executor) Wake(id TaskID) {
	t := e.live(id)
	if t == nil {
		return
	}
	e.unpark(id)
	e.enqueue(t)
}

// Yield requeues id behind the tasks already waiting to run.
func (e *Executor) Yield(id TaskID) {
	if t := e.live(id); t != nil {
		e.enqueue(t)
	}
}

// ParkCurrent suspends the current task on key until a matching wake.
func (e *Executor) ParkCurrent(key WakerKey) {
	t := e.live(e.current)
	if t == nil || !key.IsValid() {
		return
	}
	if prev, ok := e.parked[t.ID]; ok {
		if prev == key {
			t.Status = TaskWaiting
			return
		}
		e.unpark(t.ID)
	}
	e.parked[t.ID] = key
	e.waits[key] = append(e.waits[key], t.ID)
	t.Status = TaskWaiting
}

// WakeKeyAll wakes every task waiting on key in the order they parked.
func (e *Executor) WakeKeyAll(key WakerKey) {
	q := e.waits[key]
	delete(e.waits, key)
	for _, id := range q {
		delete(e.parked, id)
		e.Wake(id)
	}
}

// MarkDone records the result of id and wakes tasks joined on it.
func (e *Executor) MarkDone(id TaskID, kind TaskResultKind, result any) {
	t := e.tasks[id]
	if t == nil {
		return
	}
	e.unpark(id)
	t.Status = TaskDone
	t.ResultKind = kind
	t.ResultValue = result
	if e.current == id {
		e.current = 0
	}
	e.WakeKeyAll(JoinKey(id))
}

// Forget drops a finished task from the table.
func (e *Executor) Forget(id TaskID) {
	if t := e.tasks[id]; t != nil && t.Status == TaskDone {
		delete(e.tasks, id)
	}
}

// DrainTasks empties the executor and returns whatever tasks it held.
func (e *Executor) DrainTasks() []*Task {
	out := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t)
	}
	clear(e.tasks)
	clear(e.waits)
	clear(e.parked)
	e.ready.reset()
	e.current = 0
	return out
}

func (e *Executor) live(id TaskID) *Task {
	if t := e.tasks[id]; t != nil && t.Status != TaskDone {
		return t
	}
	return nil
}

func (e *Executor) enqueue(t *Task) {
	if e.ready.push(t.ID) {
		t.Status = TaskReady
	}
}

func (e *Executor) unpark(id TaskID) {
	key, ok := e.parked[id]
	if !ok {
		return
	}
	delete(e.parked, id)
	q := e.waits[key]
	for i, w := range q {
		if w == id {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(e.waits, key)
	} else {
		e.waits[key] = q
	}
}

// readyQueue is an ordered set of runnable tasks.
type readyQueue struct {
	ids     []TaskID
	members map[TaskID]struct{}
}

func (q *readyQueue) len() int { return len(q.ids) }

func (q *readyQueue) push(id TaskID) bool {
	if _, ok := q.members[id]; ok {
		return false
	}
	q.members[id] = struct{}{}
	q.ids = append(q.ids, id)
	return true
}

func (q *readyQueue) take(i int) TaskID {
	id := q.ids[i]
	q.ids = append(q.ids[:i], q.ids[i+1:]...)
	delete(q.members, id)
	return id
}

func (q *readyQueue) reset() {
	q.ids = q.ids[:0]
	clear(q.members)
}
