// Package ui renders a live terminal view of the services of a run.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"xvm/internal/vm"
)

type dashboardModel struct {
	title   string
	events  <-chan vm.ServiceEvent
	spinner spinner.Model
	prog    progress.Model
	rows    []serviceRow
	index   map[uint64]int
	width   int
	done    bool
}

type serviceRow struct {
	id    uint64
	name  string
	typ   string
	ev    vm.ServiceEvent
	peakQ int
}

type eventMsg vm.ServiceEvent
type doneMsg struct{}

// NewDashboard returns a Bubble Tea model showing one row per service.
// It quits once events is closed.
func NewDashboard(title string, events <-chan vm.ServiceEvent) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &dashboardModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		index:   make(map[uint64]int),
		width:   80,
	}
}

func (m *dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.apply(vm.ServiceEvent(msg))
		return m, tea.Batch(cmd, m.listen())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *dashboardModel) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *dashboardModel) apply(ev vm.ServiceEvent) tea.Cmd {
	idx, ok := m.index[ev.ID]
	if !ok {
		idx = len(m.rows)
		m.index[ev.ID] = idx
		m.rows = append(m.rows, serviceRow{id: ev.ID, name: ev.Service, typ: ev.Type})
	}
	row := &m.rows[idx]
	row.ev = ev
	row.peakQ = max(row.peakQ, ev.Mailbox)
	return m.prog.SetPercent(m.quiet())
}

// quiet is the share of services with nothing left to do.
func (m *dashboardModel) quiet() float64 {
	if len(m.rows) == 0 {
		return 0
	}
	n := 0
	for _, r := range m.rows {
		switch r.ev.State {
		case vm.Idle, vm.Terminated:
			n++
		}
	}
	return float64(n) / float64(len(m.rows))
}

func (m *dashboardModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s %s", m.spinner.View(), m.title)
	if m.done {
		header = "done: " + m.title
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")
	if len(m.rows) == 0 {
		b.WriteString("  waiting for services...\n")
		return b.String()
	}

	nameWidth := max(m.width-64, 16)
	head := fmt.Sprintf("  %-12s %-*s %6s %6s %6s %6s %8s", "state", nameWidth, "service", "queue", "fibers", "parked", "faults", "allocs")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render(head))
	b.WriteString("\n")
	for _, r := range m.rows {
		name := fmt.Sprintf("%s#%d", r.name, r.id)
		if r.typ != r.name {
			name += " (" + r.typ + ")"
		}
		state := styleState(r.ev.State).Render(fmt.Sprintf("%-12s", r.ev.State))
		faults := fmt.Sprintf("%6d", r.ev.Faults)
		if r.ev.Faults > 0 {
			faults = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(faults)
		}
		fmt.Fprintf(&b, "  %s %-*s %6d %6d %6d %s %8d\n",
			state, nameWidth, truncate(name, nameWidth), r.ev.Mailbox, r.ev.Fibers, r.ev.Parked, faults, r.ev.Allocs)
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(m.quiet()))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func styleState(s vm.ServiceState) lipgloss.Style {
	switch s {
	case vm.Idle:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case vm.Terminated:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case vm.Suspended:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case vm.Dispatching, vm.Executing:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
