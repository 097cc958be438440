package observ

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fakeClock(step time.Duration) func() time.Time {
	now := time.Unix(0, 0)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func TestTimerReport(t *testing.T) {
	tm := NewTimer()
	tm.now = fakeClock(5 * time.Millisecond)

	a := tm.Begin("assemble")
	tm.End(a, "cached")
	if err := tm.Measure("run", func() error { return errors.New("boom") }); err == nil {
		t.Fatalf("want the phase error back")
	}
	tm.End(42, "ignored")

	r := tm.Report()
	if len(r.Phases) != 2 {
		t.Fatalf("want 2 phases, got %d", len(r.Phases))
	}
	if r.Phases[0].DurationMS != 5 || r.Phases[0].Note != "cached" {
		t.Fatalf("unexpected assemble phase: %+v", r.Phases[0])
	}
	if r.Phases[1].Note != "failed: boom" {
		t.Fatalf("want failure note, got %q", r.Phases[1].Note)
	}
	if r.TotalMS != 10 {
		t.Fatalf("want total 10ms, got %v", r.TotalMS)
	}
	if s := tm.Summary(); !strings.Contains(s, "assemble") || !strings.Contains(s, "total") {
		t.Fatalf("unexpected summary:\n%s", s)
	}
}

func TestNilTimer(t *testing.T) {
	var tm *Timer
	tm.End(tm.Begin("x"), "")
	if r := tm.Report(); len(r.Phases) != 0 {
		t.Fatalf("want empty report, got %+v", r)
	}
}
