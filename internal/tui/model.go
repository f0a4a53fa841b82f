// Package tui renders the open anomalies as a live table for kubehealctl top.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/apiclient"
	"kubeheal-backend/internal/history"
)

// Backend is the slice of the API the dashboard needs.
type Backend interface {
	ListAnomalies(ctx context.Context, status string) ([]anomaly.Anomaly, error)
	Remediate(ctx context.Context, anomalyID, actionID string) (history.Record, error)
}

type anomaliesMsg []anomaly.Anomaly
type remediatedMsg struct {
	rec history.Record
	err error
}
type tickMsg struct{}
type errMsg struct{ error }

type Model struct {
	ctx      context.Context
	backend  Backend
	interval time.Duration
	status   string

	table     table.Model
	anomalies []anomaly.Anomaly
	pending   string // anomaly id awaiting confirmation
	running   bool
	notice    string
	err       error

	width, height int
}

// New builds the model. status is passed to the list endpoint: open, all or a
// single status.
func New(ctx context.Context, backend Backend, interval time.Duration, status string) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := table.New(table.WithFocused(true))
	t.SetHeight(12)
	t.SetWidth(100)
	m := Model{ctx: ctx, backend: backend, interval: interval, status: status, table: t}
	m.rebuildColumns()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		list, err := m.backend.ListAnomalies(m.ctx, m.status)
		if err != nil {
			return errMsg{err}
		}
		return anomaliesMsg(list)
	}
}

func (m Model) remediate(a anomaly.Anomaly) tea.Cmd {
	return func() tea.Msg {
		rec, err := m.backend.Remediate(m.ctx, a.ID, a.SuggestedAction)
		return remediatedMsg{rec: rec, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerH := lipgloss.Height(titleStyle.Render("x"))
		footerH := lipgloss.Height(footerStyle.Render("x"))
		base := m.height - headerH - footerH - 6
		if base < 5 {
			base = 5
		}
		m.table.SetHeight(base)
		m.table.SetWidth(m.width - 4)
		m.rebuildColumns()
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case anomaliesMsg:
		m.err = nil
		m.anomalies = msg
		m.rebuildRows()
		return m, nil

	case remediatedMsg:
		m.running = false
		m.notice = remediationNotice(msg.rec, msg.err)
		return m, m.fetch()

	case errMsg:
		m.err = msg.error
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.pending != "" {
		id := m.pending
		m.pending = ""
		if msg.String() != "y" {
			m.notice = "remediation cancelled"
			return m, nil
		}
		a, ok := m.byID(id)
		if !ok {
			m.notice = "anomaly is gone"
			return m, nil
		}
		m.running = true
		m.notice = fmt.Sprintf("running %s on %s...", a.SuggestedAction, a.ResourceKey)
		return m, m.remediate(a)
	}
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "r":
		return m, m.fetch()
	case "enter", "x":
		a, ok := m.selected()
		if !ok || m.running {
			return m, nil
		}
		if a.SuggestedAction == "" {
			m.notice = "no suggested action for " + a.ResourceKey
			return m, nil
		}
		m.pending = a.ID
		m.notice = fmt.Sprintf("run %s on %s? (y/n)", a.SuggestedAction, a.ResourceKey)
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) selected() (anomaly.Anomaly, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.anomalies) {
		return anomaly.Anomaly{}, false
	}
	return m.anomalies[i], true
}

func (m Model) byID(id string) (anomaly.Anomaly, bool) {
	for _, a := range m.anomalies {
		if a.ID == id {
			return a, true
		}
	}
	return anomaly.Anomaly{}, false
}

func (m *Model) rebuildColumns() {
	w := m.table.Width()
	if w <= 0 {
		w = 100
	}
	fixed := 10 + 20 + 14 + 9 + 10 + 18
	resource := w - fixed - 8
	if resource < 16 {
		resource = 16
	}
	m.table.SetColumns([]table.Column{
		{Title: "SEVERITY", Width: 10},
		{Title: "KIND", Width: 20},
		{Title: "RESOURCE", Width: resource},
		{Title: "STATUS", Width: 14},
		{Title: "ATTEMPTS", Width: 9},
		{Title: "LAST SEEN", Width: 10},
		{Title: "SUGGESTED", Width: 18},
	})
}

func (m *Model) rebuildRows() {
	rows := make([]table.Row, 0, len(m.anomalies))
	for _, a := range m.anomalies {
		rows = append(rows, table.Row{
			a.Severity.String(),
			string(a.Kind),
			a.ResourceKey,
			string(a.Status),
			strconv.Itoa(a.Attempts),
			a.LastObserved.Local().Format("15:04:05"),
			a.SuggestedAction,
		})
	}
	m.table.SetRows(rows)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("kubeheal") + "  " + headerStyle.Render(m.summary()) + "\n")
	b.WriteString(boxStyle.Render(m.table.View()) + "\n")
	if a, ok := m.selected(); ok {
		b.WriteString(severityStyle(a.Severity).Render(a.Description) + "\n")
	}
	switch {
	case m.err != nil:
		b.WriteString(dangerStyle.Render("error: "+m.err.Error()) + "\n")
	case m.notice != "":
		b.WriteString(m.notice + "\n")
	}
	b.WriteString(footerStyle.Render("↑/↓ select • enter remediate • r refresh • q quit"))
	return b.String()
}

func (m Model) summary() string {
	counts := map[anomaly.Severity]int{}
	for _, a := range m.anomalies {
		counts[a.Severity]++
	}
	parts := []string{fmt.Sprintf("%d anomalies", len(m.anomalies))}
	for _, sev := range []anomaly.Severity{anomaly.SeverityCritical, anomaly.SeverityHigh, anomaly.SeverityMedium, anomaly.SeverityLow} {
		if counts[sev] > 0 {
			parts = append(parts, severityStyle(sev).Render(fmt.Sprintf("%d %s", counts[sev], sev)))
		}
	}
	return strings.Join(parts, "  ")
}

func remediationNotice(rec history.Record, err error) string {
	var apiErr *apiclient.APIError
	switch {
	case err == nil:
		return goodStyle.Render(fmt.Sprintf("%s on %s succeeded: %s", rec.ActionID, rec.ResourceKey, rec.Detail))
	case errors.As(err, &apiErr) && apiErr.Record != nil:
		return dangerStyle.Render(fmt.Sprintf("%s on %s failed: %s", apiErr.Record.ActionID, apiErr.Record.ResourceKey, apiErr.Record.Detail))
	default:
		return dangerStyle.Render("remediation error: " + err.Error())
	}
}

// Run starts the full-screen program and blocks until the user quits.
func Run(ctx context.Context, backend Backend, interval time.Duration, status string) error {
	_, err := tea.NewProgram(New(ctx, backend, interval, status), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
