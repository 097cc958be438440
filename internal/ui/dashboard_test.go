package ui

import (
	"strings"
	"testing"

	"xvm/internal/vm"
)

func TestDashboardTracksServices(t *testing.T) {
	events := make(chan vm.ServiceEvent)
	m := NewDashboard("demo", events).(*dashboardModel)

	updates := []vm.ServiceEvent{
		{Service: "main", ID: 1, Type: "Service", State: vm.Executing},
		{Service: "Worker", ID: 2, Type: "Worker", State: vm.Dispatching, Mailbox: 3},
		{Service: "Worker", ID: 2, Type: "Worker", State: vm.Idle, Mailbox: 0, Faults: 1},
		{Service: "main", ID: 1, Type: "Service", State: vm.Suspended, Parked: 1},
	}
	for _, ev := range updates {
		m.Update(eventMsg(ev))
	}
	if len(m.rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(m.rows))
	}
	if m.rows[1].peakQ != 3 {
		t.Fatalf("want peak mailbox 3, got %d", m.rows[1].peakQ)
	}
	if q := m.quiet(); q != 0.5 {
		t.Fatalf("want half the services quiet, got %v", q)
	}
	view := m.View()
	for _, want := range []string{"demo", "main#1 (Service)", "Worker#2", "suspended"} {
		if !strings.Contains(view, want) {
			t.Fatalf("want %q in view, got:\n%s", want, view)
		}
	}

	m.Update(doneMsg{})
	if !m.done || !strings.Contains(m.View(), "done: demo") {
		t.Fatalf("want finished view")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"a-very-long-service-name", 10, "a-very-..."},
		{"abcdef", 2, "ab"},
		{"abcdef", 4, "a..."},
		{"日本語サービス", 8, "日本..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Fatalf("truncate(%q, %d): want %q, got %q", tt.in, tt.width, tt.want, got)
		}
	}
}
