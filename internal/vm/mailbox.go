package vm

import "sync"

// CallKind selects what a request does on its target.
type CallKind uint8

const (
	CallFunction CallKind = iota
	CallMethod
	CallGet
	CallSet
	CallConstruct
)

func (k CallKind) String() string {
	switch k {
	case CallFunction:
		return "call"
	case CallMethod:
		return "invoke"
	case CallGet:
		return "get"
	case CallSet:
		return "set"
	case CallConstruct:
		return "construct"
	}
	return "unknown"
}

// Call describes the work a request asks for. Rets is the number of
// results the sender expects back.
type Call struct {
	Kind CallKind
	Name string
	Rets int
}

// Request is an asynchronous call from one service (or the host, when
// From is nil) to another.
type Request struct {
	ID   uint64
	From *ServiceContext
	Seq  uint64 // per (From, receiver) order
	Call Call
	Args []Handle

	reply chan<- Response // host requests only
}

// Response completes a request. Values already live in the sender's heap.
type Response struct {
	RequestID uint64
	Seq       uint64
	Values    []Handle
	Fault     *ExceptionHandle
}

type message struct {
	req  *Request
	resp *Response
}

// Mailbox is the unbounded FIFO inbox of a service. Any goroutine may post;
// only the owning worker drains.
type Mailbox struct {
	mu     sync.Mutex
	queue  []message
	notify chan struct{}
}

func newMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

func (m *Mailbox) post(msg message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Mailbox) drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
