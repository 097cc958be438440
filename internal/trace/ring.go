package trace

import (
	"fmt"
	"io"
	"sync"
)

// RingTracer is a flight recorder: it keeps the most recent events of a
// run so they can be dumped after a fault.
type RingTracer struct {
	mu    sync.RWMutex
	buf   []Event
	next  int
	count int
	level Level
}

func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &RingTracer{buf: make([]Event, capacity), level: level}
}

func (t *RingTracer) Emit(ev *Event) {
	if !accepts(t.level, ev) {
		return
	}
	t.mu.Lock()
	stored := *ev
	stored.Seq = NextSeq()
	t.buf[t.next] = stored
	t.next = (t.next + 1) % len(t.buf)
	if t.count < len(t.buf) {
		t.count++
	}
	t.mu.Unlock()
}

// Snapshot copies the stored events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Event, 0, t.count)
	start := (t.next - t.count + len(t.buf)) % len(t.buf)
	for i := range t.count {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// Faults filters the snapshot down to fault events.
func (t *RingTracer) Faults() []Event {
	all := t.Snapshot()
	out := all[:0]
	for i := range all {
		if isFault(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out
}

// Dump writes the snapshot to w, preceded by a one-line header.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	events := t.Snapshot()
	if format == FormatText {
		if _, err := fmt.Fprintf(w, "trace: last %d events\n", len(events)); err != nil {
			return err
		}
	}
	for i := range events {
		if _, err := w.Write(FormatEvent(&events[i], format)); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error { return nil }
func (t *RingTracer) Close() error { return nil }
func (t *RingTracer) Level() Level { return t.level }

func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
