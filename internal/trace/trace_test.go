package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLevelShouldEmit(t *testing.T) {
	tests := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeRuntime, false},
		{LevelError, ScopeRuntime, false},
		{LevelService, ScopeService, true},
		{LevelService, ScopeFiber, false},
		{LevelDetail, ScopeFiber, true},
		{LevelDetail, ScopeOp, false},
		{LevelDebug, ScopeOp, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldEmit(tt.scope); got != tt.want {
			t.Fatalf("%s.ShouldEmit(%s): want %v, got %v", tt.level, tt.scope, tt.want, got)
		}
	}
}

func TestParseLevelAndMode(t *testing.T) {
	if l, err := ParseLevel("DETAIL"); err != nil || l != LevelDetail {
		t.Fatalf("want detail, got %v %v", l, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("want error for unknown level")
	}
	if m, err := ParseMode("both"); err != nil || m != ModeBoth {
		t.Fatalf("want both, got %v %v", m, err)
	}
}

func TestRingKeepsLatestEvents(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		Point(r, ScopeOp, name, "")
	}
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("want 3 events, got %d", len(snap))
	}
	for i, want := range []string{"c", "d", "e"} {
		if snap[i].Name != want {
			t.Fatalf("want event %d = %s, got %s", i, want, snap[i].Name)
		}
	}
}

func TestFaultsBypassLevel(t *testing.T) {
	r := NewRingTracer(8, LevelError)
	Point(r, ScopeService, "service:main", "")
	Fault(r, "fault:main", "Exception: boom")
	faults := r.Faults()
	if len(faults) != 1 || faults[0].Detail != "Exception: boom" {
		t.Fatalf("want one fault event, got %+v", faults)
	}
	if n := len(r.Snapshot()); n != 1 {
		t.Fatalf("want the service point filtered out, got %d events", n)
	}
}

func TestStreamFormats(t *testing.T) {
	var text bytes.Buffer
	st := NewStreamTracer(&text, LevelService, FormatText)
	span := Begin(st, ScopeService, "service:main", 0)
	span.WithExtra("state", "idle").End("done")
	out := text.String()
	if !strings.Contains(out, "→ service:main") || !strings.Contains(out, "← service:main (done) {state=idle}") {
		t.Fatalf("unexpected text trace:\n%s", out)
	}

	var nd bytes.Buffer
	st = NewStreamTracer(&nd, LevelService, FormatNDJSON)
	Point(st, ScopeRuntime, "runtime:start", "main")
	var ev map[string]any
	if err := json.Unmarshal(nd.Bytes(), &ev); err != nil {
		t.Fatalf("ndjson: %v", err)
	}
	if ev["name"] != "runtime:start" || ev["scope"] != "runtime" {
		t.Fatalf("unexpected ndjson event: %v", ev)
	}

	var chrome bytes.Buffer
	st = NewStreamTracer(&chrome, LevelService, FormatChrome)
	Point(st, ScopeRuntime, "a", "")
	Point(st, ScopeRuntime, "b", "")
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	var doc struct {
		TraceEvents []map[string]any `json:"traceEvents"`
	}
	if err := json.Unmarshal(chrome.Bytes(), &doc); err != nil {
		t.Fatalf("chrome trace is not valid JSON: %v\n%s", err, chrome.String())
	}
	if len(doc.TraceEvents) != 2 {
		t.Fatalf("want 2 chrome events, got %d", len(doc.TraceEvents))
	}
}

func TestNewSelectsTracer(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("want disabled tracer, got %v %v", tr, err)
	}
	tr, err = New(Config{Level: LevelService, Mode: ModeBoth, Output: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m, ok := tr.(*MultiTracer)
	if !ok || m.Ring() == nil {
		t.Fatalf("want multi tracer with a ring, got %T", tr)
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()).Enabled() {
		t.Fatalf("want nop tracer by default")
	}
	r := NewRingTracer(4, LevelDebug)
	ctx := WithTracer(context.Background(), r)
	if FromContext(ctx) != Tracer(r) {
		t.Fatalf("want tracer from context")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"-":          FormatText,
		"run.ndjson": FormatNDJSON,
		"run.json":   FormatChrome,
		"run.log":    FormatText,
	}
	for path, want := range tests {
		if got := DetectFormat(path); got != want {
			t.Fatalf("DetectFormat(%q): want %v, got %v", path, want, got)
		}
	}
}

func TestSpanChildNests(t *testing.T) {
	r := NewRingTracer(16, LevelService)
	root := Begin(r, ScopeRuntime, "runtime:start", 0)
	child := root.Child(ScopeService, "service:main")
	child.WithExtra("state", "idle").End("idle")
	root.End("done")

	snap := r.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("want 4 events, got %d", len(snap))
	}
	if snap[1].ParentID != root.ID() || snap[1].Name != "service:main" {
		t.Fatalf("want service span under runtime span, got %+v", snap[1])
	}
	if snap[2].Kind != KindSpanEnd || snap[2].Extra["state"] != "idle" {
		t.Fatalf("want end event with extra, got %+v", snap[2])
	}

	var disabled *Span
	if c := disabled.Child(ScopeService, "x"); c.ID() != 0 {
		t.Fatalf("want child of nil span disabled, got id %d", c.ID())
	}
	if c := Begin(r, ScopeFiber, "fiber", 0); c.ID() != 0 {
		t.Fatalf("want fiber span filtered at service level")
	}
}

func TestHeartbeatUsesProbe(t *testing.T) {
	r := NewRingTracer(64, LevelService)
	h := StartHeartbeat(r, time.Millisecond)
	h.SetProbe(func() string { return "services=2" })
	deadline := time.Now().Add(5 * time.Second)
	for {
		found := false
		for _, ev := range r.Snapshot() {
			if ev.Kind == KindHeartbeat && strings.HasSuffix(ev.Detail, " services=2") {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("want a heartbeat carrying the probe")
		}
		time.Sleep(time.Millisecond)
	}
	h.Stop()
	h.Stop()

	if StartHeartbeat(r, 0) != nil {
		t.Fatalf("want no heartbeat for zero interval")
	}
	var none *Heartbeat
	none.SetProbe(nil)
	none.Stop()
}

func TestHeartbeatContext(t *testing.T) {
	if HeartbeatFrom(context.Background()) != nil {
		t.Fatalf("want no heartbeat in empty context")
	}
	h := StartHeartbeat(NewRingTracer(4, LevelService), time.Hour)
	defer h.Stop()
	if got := HeartbeatFrom(WithHeartbeat(context.Background(), h)); got != h {
		t.Fatalf("want attached heartbeat back")
	}
}

func TestRingOf(t *testing.T) {
	tests := []struct {
		mode StorageMode
		ring bool
	}{
		{ModeRing, true},
		{ModeBoth, true},
		{ModeStream, false},
	}
	for _, tt := range tests {
		tr, err := New(Config{Level: LevelService, Mode: tt.mode, Output: &bytes.Buffer{}})
		if err != nil {
			t.Fatalf("%s: %v", tt.mode, err)
		}
		if got := RingOf(tr) != nil; got != tt.ring {
			t.Fatalf("%s: want ring %v, got %v", tt.mode, tt.ring, got)
		}
	}
	if _, err := New(Config{Level: LevelService, Mode: StorageMode(9)}); err == nil {
		t.Fatalf("want error for unknown mode")
	}
}

func TestRingDump(t *testing.T) {
	r := NewRingTracer(2, LevelService)
	Point(r, ScopeService, "a", "")
	Point(r, ScopeService, "b", "")
	Point(r, ScopeService, "c", "")
	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatText); err != nil {
		t.Fatalf("dump: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "trace: last 2 events\n") || strings.Contains(out, "• a") || !strings.Contains(out, "• c") {
		t.Fatalf("unexpected dump:\n%s", out)
	}
}
