// Package tui implements the live monitor behind `sttgw watch`.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/sttgw/internal/api"
	"github.com/mattjoyce/sttgw/internal/client"
	"github.com/mattjoyce/sttgw/internal/events"
)

const (
	maxJobs   = 200
	maxEvents = 50
)

// JobRow is the monitor's view of one transcription.
type JobRow struct {
	ID        string
	Path      string
	Status    string
	Submitted time.Time
	Finished  time.Time
	Text      string
	Error     string
}

// WorkerView is the latest known worker state.
type WorkerView struct {
	State      string
	Generation uint64
	Crashes    int
	Degraded   bool
	Detail     string
}

// Model is the BubbleTea model for the monitor.
type Model struct {
	client *client.Client
	ctx    context.Context
	cancel context.CancelFunc

	width  int
	height int

	health    api.HealthzResponse
	connected bool
	lastError string

	worker   WorkerView
	jobs     map[string]*JobRow
	order    []string // newest first
	eventLog []events.Event
	lastID   int64

	hubEvents chan events.Event

	jobTable table.Model
	spinner  spinner.Model
	theme    Theme
}

// NewMonitor returns a monitor reading from c.
func NewMonitor(c *client.Client) Model {
	theme := NewDefaultTheme()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "ID", Width: 8},
			{Title: "Path", Width: 32},
			{Title: "Status", Width: 10},
			{Title: "Duration", Width: 10},
			{Title: "Result", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.StatusRunning

	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client:    c,
		ctx:       ctx,
		cancel:    cancel,
		worker:    WorkerView{State: "unknown"},
		jobs:      make(map[string]*JobRow),
		hubEvents: make(chan events.Event, 100),
		jobTable:  t,
		spinner:   sp,
		theme:     theme,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.streamEvents(0),
		m.receiveNextEvent(),
		m.fetchHealth(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)
		m.jobTable.SetHeight(max(m.height/2-4, 3))

	case eventMsg:
		m.connected = true
		m.applyEvent(events.Event(msg))
		m.refreshTable()
		return m, m.receiveNextEvent()

	case streamClosedMsg:
		m.connected = false
		m.lastID = max(m.lastID, msg.lastID)
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.streamEvents(m.lastID)

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		if m.health.WorkerState != "" {
			m.worker.State = m.health.WorkerState
		}
		return m, m.scheduleHealth()

	case healthErrMsg:
		m.lastError = msg.err.Error()
		return m, m.scheduleHealth()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

// applyEvent folds one hub event into the model.
func (m *Model) applyEvent(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEvents {
		m.eventLog = m.eventLog[:maxEvents]
	}

	switch e.Type {
	case events.TypeWorkerState, events.TypeWorkerDegraded:
		var p events.WorkerPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return
		}
		if e.Type == events.TypeWorkerDegraded {
			m.worker.Degraded = true
			m.worker.Crashes = p.Crashes
			return
		}
		if p.State == "ready" {
			m.worker.Degraded = false
		}
		m.worker.State = p.State
		m.worker.Generation = p.Generation
		m.worker.Crashes = p.Crashes
		m.worker.Detail = p.Detail

	case events.TypeJobSubmitted, events.TypeJobDispatched,
		events.TypeJobCompleted, events.TypeJobFailed, events.TypeJobTimedOut:
		var p events.JobPayload
		if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
			return
		}
		row, ok := m.jobs[p.JobID]
		if !ok {
			row = &JobRow{ID: p.JobID, Submitted: e.At}
			m.jobs[p.JobID] = row
			m.order = append([]string{p.JobID}, m.order...)
			m.trimJobs()
		}
		row.Path = p.Payload
		row.Status = p.Status
		switch e.Type {
		case events.TypeJobCompleted, events.TypeJobFailed, events.TypeJobTimedOut:
			row.Finished = e.At
			row.Text = p.Text
			row.Error = p.Error
			if p.DurationS > 0 {
				row.Submitted = row.Finished.Add(-time.Duration(p.DurationS * float64(time.Second)))
			}
		}
	}
}

func (m *Model) trimJobs() {
	for len(m.order) > maxJobs {
		oldest := m.order[len(m.order)-1]
		delete(m.jobs, oldest)
		m.order = m.order[:len(m.order)-1]
	}
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		rows = append(rows, m.jobToRow(m.jobs[id]))
	}
	m.jobTable.SetRows(rows)
}

func (m *Model) jobToRow(j *JobRow) table.Row {
	sym := m.theme.StatusQueued.Render("○")
	switch j.Status {
	case "dispatched":
		sym = m.theme.StatusRunning.Render("◉")
	case "completed":
		sym = m.theme.StatusOK.Render("●")
	case "failed":
		sym = m.theme.StatusFailed.Render("∅")
	case "timed_out":
		sym = m.theme.StatusFailed.Render("◑")
	}

	duration := "-"
	if !j.Finished.IsZero() {
		duration = j.Finished.Sub(j.Submitted).Round(time.Millisecond).String()
	}

	result := j.Text
	if j.Error != "" {
		result = j.Error
	}

	return table.Row{sym, shortID(j.ID), j.Path, j.Status, duration, result}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	jobs := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Transcriptions"),
			m.jobTable.View(),
		),
	)
	eventsView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Event Stream"),
			m.renderEvents(),
		),
	)
	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll")

	return m.theme.Doc.Render(
		lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), jobs, eventsView, help),
	)
}

func (m Model) renderHeader() string {
	var state string
	switch {
	case m.worker.Degraded:
		state = m.theme.StatusFailed.Render("DEGRADED")
	case m.worker.State == "busy":
		state = m.spinner.View() + " " + m.theme.StatusRunning.Render("BUSY")
	case m.worker.State == "ready":
		state = m.theme.StatusOK.Render("READY")
	default:
		state = m.theme.StatusQueued.Render(strings.ToUpper(m.worker.State))
	}

	link := m.theme.StatusOK.Render("live")
	if !m.connected {
		link = m.theme.StatusFailed.Render("reconnecting")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	items := []string{
		fmt.Sprintf("Worker: %s", state),
		fmt.Sprintf("Gen: %d  Crashes: %d", m.worker.Generation, m.worker.Crashes),
		fmt.Sprintf("Uptime: %s", uptime),
		fmt.Sprintf("Stream: %s", link),
	}

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = cell.Render(it)
	}
	return m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-15s | %s", e.At.Local().Format("15:04:05"), e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		if m.lastError != "" {
			return m.theme.StatusFailed.Render("  " + m.lastError)
		}
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}
