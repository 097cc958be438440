package trace

import (
	"strconv"
	"sync"
	"time"
)

// Probe describes the current state of the traced program in one line,
// e.g. "services=3 inflight=2". It is called from the heartbeat goroutine.
type Probe func() string

// Heartbeat periodically emits an event carrying the probe's snapshot, so a
// program stuck waiting can be told apart from one that is still busy.
type Heartbeat struct {
	tracer   Tracer
	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	probe Probe
}

// StartHeartbeat starts emitting heartbeats every interval. It returns nil
// when the tracer is disabled or interval is not positive; a nil Heartbeat
// is safe to use.
func StartHeartbeat(tracer Tracer, interval time.Duration) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{
		tracer:   tracer,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// SetProbe replaces the snapshot function. nil restores the plain counter.
func (h *Heartbeat) SetProbe(p Probe) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.probe = p
	h.mu.Unlock()
}

func (h *Heartbeat) detail(beat uint64) string {
	h.mu.Lock()
	p := h.probe
	h.mu.Unlock()
	if p == nil {
		return "#" + strconv.FormatUint(beat, 10)
	}
	return "#" + strconv.FormatUint(beat, 10) + " " + p()
}

func (h *Heartbeat) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var beat uint64
	for {
		select {
		case <-ticker.C:
			beat++
			h.tracer.Emit(&Event{
				Time:   time.Now(),
				Seq:    NextSeq(),
				Kind:   KindHeartbeat,
				Scope:  ScopeRuntime,
				GID:    goroutineID(),
				Name:   "heartbeat",
				Detail: h.detail(beat),
			})
		case <-h.stopCh:
			return
		}
	}
}

// Stop ends the heartbeat and waits for its goroutine. It may be called
// more than once.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stopCh) })
	<-h.done
}
