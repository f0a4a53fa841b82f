package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
)

type fakeBackend struct {
	list       []anomaly.Anomaly
	remediated []string
}

func (f *fakeBackend) ListAnomalies(context.Context, string) ([]anomaly.Anomaly, error) {
	return f.list, nil
}

func (f *fakeBackend) Remediate(_ context.Context, id, action string) (history.Record, error) {
	f.remediated = append(f.remediated, id+" "+action)
	return history.Record{AnomalyID: id, ActionID: action, ResourceKey: "shop/api", Outcome: history.OutcomeSucceeded, Detail: "ok"}, nil
}

func key(s string) tea.KeyMsg {
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleAnomalies() []anomaly.Anomaly {
	return []anomaly.Anomaly{
		{ID: "a1", ResourceKey: "shop/api", Kind: anomaly.KindOomRisk, Severity: anomaly.SeverityCritical,
			Status: anomaly.StatusDetected, SuggestedAction: "increase_memory", Description: "OOM risk",
			LastObserved: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "a2", ResourceKey: "shop/cart", Kind: anomaly.KindCrashLoop, Severity: anomaly.SeverityHigh,
			Status: anomaly.StatusInvestigating, SuggestedAction: "restart_pod"},
	}
}

func TestModelRendersAnomalies(t *testing.T) {
	backend := &fakeBackend{list: sampleAnomalies()}
	m := New(context.Background(), backend, time.Second, "open")

	msg := m.fetch()()
	next, _ := m.Update(msg)
	m = next.(Model)

	require.Len(t, m.table.Rows(), 2)
	assert.Equal(t, "critical", m.table.Rows()[0][0])
	view := m.View()
	assert.Contains(t, view, "2 anomalies")
	assert.Contains(t, view, "shop/cart")
}

func TestModelRemediatesAfterConfirmation(t *testing.T) {
	backend := &fakeBackend{list: sampleAnomalies()}
	m := New(context.Background(), backend, time.Second, "open")
	next, _ := m.Update(anomaliesMsg(backend.list))
	m = next.(Model)

	next, cmd := m.Update(key("enter"))
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Contains(t, m.notice, "increase_memory")

	next, cmd = m.Update(key("n"))
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Empty(t, backend.remediated)

	next, _ = m.Update(key("x"))
	m = next.(Model)
	next, cmd = m.Update(key("y"))
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.running)

	result := cmd()
	assert.Equal(t, []string{"a1 increase_memory"}, backend.remediated)
	next, _ = m.Update(result)
	m = next.(Model)
	assert.False(t, m.running)
	assert.Contains(t, m.notice, "succeeded")
}
