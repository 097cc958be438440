package vm

import "time"

// ServiceEvent is a snapshot of one service, published whenever its
// scheduling state changes. The dashboard consumes them.
type ServiceEvent struct {
	Service string
	ID      uint64
	Type    string
	State   ServiceState
	Mailbox int
	Fibers  int
	Parked  int
	Faults  int
	Allocs  uint64
	Time    time.Time
}

// publish sends a snapshot of s without ever blocking the worker; events
// are dropped while the consumer lags behind.
func (rt *Runtime) publish(s *ServiceContext) {
	if rt.cfg.Events == nil {
		return
	}
	s.faultMu.Lock()
	faults := len(s.faults)
	s.faultMu.Unlock()
	ev := ServiceEvent{
		Service: s.Name,
		ID:      s.ID,
		Type:    s.typ.Name,
		State:   s.State(),
		Mailbox: s.mailbox.Len(),
		Fibers:  s.exec.LiveCount(),
		Parked:  s.exec.ParkedCount(),
		Faults:  faults,
		Allocs:  s.heap.Allocs(),
		Time:    time.Now(),
	}
	select {
	case rt.cfg.Events <- ev:
	default:
	}
}
