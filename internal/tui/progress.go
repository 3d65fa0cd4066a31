package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/matrixgate/internal/matrix"
	"github.com/ShayCichocki/matrixgate/internal/report"
)

// maxLogLines is how many activity entries the view keeps on screen.
const maxLogLines = 8

// EnvironmentRow is the display state of one environment.
type EnvironmentRow struct {
	ID      string
	State   matrix.State
	Outcome *report.Outcome
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp   time.Time
	Environment string
	Message     string
}

// EventMsg carries one runner event into the program.
type EventMsg struct {
	Event matrix.Event
}

// DoneMsg is sent when the event stream closes or the run aborts.
type DoneMsg struct {
	Err error
}

// WaitForEvent returns a command that delivers the next event from events,
// or DoneMsg once the stream is closed.
func WaitForEvent(events <-chan matrix.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return DoneMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// ProgressApp is the bubbletea model for `matrixgate run --tui`.
type ProgressApp struct {
	events  <-chan matrix.Event
	runID   string
	rows    []EnvironmentRow
	index   map[string]int
	report  *report.Report
	logs    []LogEntry
	spinner spinner.Model

	width    int
	height   int
	quitting bool
	done     bool
	err      error

	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	pendingStyle lipgloss.Style
	activeStyle  lipgloss.Style
	logStyle     lipgloss.Style
	logTimeStyle lipgloss.Style
	errorStyle   lipgloss.Style
	doneStyle    lipgloss.Style
}

// NewProgressApp creates a ProgressApp reading from events. A nil channel
// means events arrive through Program.Send instead.
func NewProgressApp(events <-chan matrix.Event) *ProgressApp {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return &ProgressApp{
		events:  events,
		index:   make(map[string]int),
		spinner: sp,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		activeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),
	}
}

// Init implements tea.Model.
func (a *ProgressApp) Init() tea.Cmd {
	if a.events == nil {
		return a.spinner.Tick
	}
	return tea.Batch(a.spinner.Tick, WaitForEvent(a.events))
}

// Update implements tea.Model.
func (a *ProgressApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.apply(msg.Event)
		if a.events != nil {
			return a, WaitForEvent(a.events)
		}

	case DoneMsg:
		a.done = true
		if msg.Err != nil {
			a.err = msg.Err
		}
	}

	return a, nil
}

func (a *ProgressApp) apply(ev matrix.Event) {
	switch ev.Type {
	case matrix.EventRunStarted:
		a.runID = ev.RunID
		a.rows = a.rows[:0]
		a.index = make(map[string]int, len(ev.EnvironmentIDs))
		a.report = nil
		for _, id := range ev.EnvironmentIDs {
			a.row(id)
		}
		a.log(ev.Timestamp, "", fmt.Sprintf("run %s started with %d environments", ev.RunID, len(ev.EnvironmentIDs)))

	case matrix.EventTransition:
		r := a.row(ev.EnvironmentID)
		r.State = ev.To
		if ev.To != matrix.Completed {
			a.log(ev.Timestamp, ev.EnvironmentID, ev.To.String())
		}

	case matrix.EventOutcome:
		if ev.Outcome == nil {
			return
		}
		r := a.row(ev.EnvironmentID)
		o := *ev.Outcome
		r.Outcome = &o
		r.State = matrix.Completed
		msg := o.Status.String()
		if o.Status != report.Passed {
			msg = fmt.Sprintf("%s (%s)", o.Status, o.Cause)
		}
		a.log(ev.Timestamp, ev.EnvironmentID, msg)

	case matrix.EventRunDone:
		if ev.Report != nil {
			rep := *ev.Report
			a.report = &rep
		}
		a.done = true
	}
}

// row returns the row for id, appending one for environments not announced
// by EventRunStarted.
func (a *ProgressApp) row(id string) *EnvironmentRow {
	if i, ok := a.index[id]; ok {
		return &a.rows[i]
	}
	a.index[id] = len(a.rows)
	a.rows = append(a.rows, EnvironmentRow{ID: id, State: matrix.Pending})
	return &a.rows[len(a.rows)-1]
}

func (a *ProgressApp) log(ts time.Time, env, msg string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Environment: env, Message: msg})
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}

// Rows returns a copy of the current environment rows.
func (a *ProgressApp) Rows() []EnvironmentRow {
	out := make([]EnvironmentRow, len(a.rows))
	copy(out, a.rows)
	return out
}

// Report returns the final report once the run is done.
func (a *ProgressApp) Report() *report.Report {
	return a.report
}

// Cancelled reports whether the user quit before the run finished.
func (a *ProgressApp) Cancelled() bool {
	return a.quitting && !a.done
}

// View implements tea.Model.
func (a *ProgressApp) View() string {
	if a.quitting {
		if a.done {
			return ""
		}
		return "Matrix run cancelled.\n"
	}

	var b strings.Builder

	b.WriteString(a.headerStyle.Render("=== matrixgate ==="))
	b.WriteString("\n")
	if a.runID != "" {
		b.WriteString(a.pendingStyle.Render("run " + a.runID))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if a.report != nil {
		var rb strings.Builder
		if err := report.Render(&rb, *a.report); err == nil {
			b.WriteString(rb.String())
		}
	} else {
		b.WriteString(a.renderRows())
	}

	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	switch {
	case a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	case a.done:
		b.WriteString(a.doneStyle.Render("Matrix complete! Press q to exit."))
	default:
		b.WriteString(a.pendingStyle.Render("Press q to cancel"))
	}
	b.WriteString("\n")

	return b.String()
}

func (a *ProgressApp) renderRows() string {
	idWidth := 0
	completed := 0
	for _, r := range a.rows {
		idWidth = max(idWidth, len(r.ID))
		if r.State == matrix.Completed {
			completed++
		}
	}

	var b strings.Builder
	for _, r := range a.rows {
		var status string
		switch {
		case r.Outcome != nil:
			status = report.StatusStyle(r.Outcome.Status).Render(strings.ToUpper(r.Outcome.Status.String()))
		case r.State == matrix.Pending:
			status = a.pendingStyle.Render("  pending")
		default:
			status = a.spinner.View() + " " + a.activeStyle.Render(r.State.String())
		}
		fmt.Fprintf(&b, "  %-*s  %s\n", idWidth, r.ID, status)
	}
	b.WriteString("\n")
	b.WriteString(a.labelStyle.Render("Completed:"))
	fmt.Fprintf(&b, " %d/%d\n", completed, len(a.rows))
	return b.String()
}

func (a *ProgressApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(a.labelStyle.Render("Activity Log"))
	b.WriteString("\n")
	for _, entry := range a.logs {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		env := lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(24).
			Render(entry.Environment)
		fmt.Fprintf(&b, "  %s %s %s\n", ts, env, a.logStyle.Render(entry.Message))
	}
	return b.String()
}

// NewProgressProgram creates a bubbletea program showing the progress of a
// matrix run fed from events.
func NewProgressProgram(events <-chan matrix.Event) (*tea.Program, *ProgressApp) {
	app := NewProgressApp(events)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
