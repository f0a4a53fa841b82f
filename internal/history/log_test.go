package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kubeheal-backend/internal/anomaly"
)

var day = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func record(anomalyID, action string, sev anomaly.Severity, at time.Time, outcome Outcome) Record {
	return Record{
		AnomalyID:   anomalyID,
		ActionID:    action,
		ResourceKey: "default/" + anomalyID,
		Kind:        anomaly.KindCrashLoop,
		Severity:    sev,
		RequestedAt: at,
		CompletedAt: at.Add(time.Second),
		Outcome:     outcome,
		Detail:      "pod " + anomalyID + " " + string(outcome),
	}
}

func seed(t *testing.T, l *Log) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range []Record{
		record("a1", "restart_pod", anomaly.SeverityHigh, day.Add(2*time.Hour), OutcomeSucceeded),
		record("a2", "increase_cpu", anomaly.SeverityMedium, day, OutcomeFailed),
		record("a1", "restart_pod", anomaly.SeverityHigh, day.Add(24*time.Hour), OutcomeFailed),
		record("a3", "scale_deployment", anomaly.SeverityCritical, day, OutcomeSucceeded),
	} {
		_, err := l.Append(ctx, rec)
		require.NoError(t, err)
	}
}

func TestLogAppendAssignsIDAndValidates(t *testing.T) {
	l := NewLog(NewMemoryStore(), zaptest.NewLogger(t))
	rec, err := l.Append(context.Background(), record("a1", "restart_pod", anomaly.SeverityHigh, day, OutcomeSucceeded))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	_, err = l.Append(context.Background(), Record{ActionID: "restart_pod", RequestedAt: day, Outcome: OutcomeFailed})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	bad := record("a1", "restart_pod", anomaly.SeverityHigh, day, "maybe")
	_, err = l.Append(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	all, err := l.ListAll(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListAllOrdersAscendingAndStable(t *testing.T) {
	l := NewLog(NewMemoryStore(), nil)
	seed(t, l)

	all, err := l.ListAll(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	var actions []string
	for _, r := range all {
		actions = append(actions, r.AnomalyID)
	}
	assert.Equal(t, []string{"a2", "a3", "a1", "a1"}, actions, "equal timestamps keep append order")
}

func TestListAllFilters(t *testing.T) {
	l := NewLog(NewMemoryStore(), nil)
	seed(t, l)
	ctx := context.Background()
	high := anomaly.SeverityHigh

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"severity", Filter{Severity: &high}, 2},
		{"date", Filter{Date: "2025-03-01"}, 3},
		{"range", Filter{From: day.Add(time.Hour), To: day.Add(3 * time.Hour)}, 1},
		{"search action", Filter{Search: "SCALE"}, 1},
		{"search detail", Filter{Search: "failed"}, 2},
		{"search resource", Filter{Search: "default/a2"}, 1},
		{"anomaly", Filter{AnomalyID: "a1"}, 2},
		{"combined", Filter{Severity: &high, Date: "2025-03-02"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := l.ListAll(ctx, tc.filter)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}

	byAnomaly, err := l.ListByAnomaly(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, byAnomaly, 2)

	_, err = l.ListAll(ctx, Filter{Date: "03/01/2025"})
	assert.Error(t, err)
}

func TestFileStoreRoundTripAndCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	l := NewLog(store, zaptest.NewLogger(t))
	seed(t, l)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	all, err := NewLog(reopened, nil).ListAll(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, anomaly.SeverityMedium, all[0].Severity)

	require.NoError(t, os.WriteFile(path, []byte("[{not json"), 0o600))
	_, err = l.ListAll(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, ErrStorage)

	_, err = l.Append(context.Background(), record("a9", "restart_pod", anomaly.SeverityLow, day, OutcomeFailed))
	assert.ErrorIs(t, err, ErrCorrupt, "appending never overwrites an unreadable log")
}

func TestFileStoreRejectsUnknownSeverityAndKind(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)
	l := NewLog(store, zaptest.NewLogger(t))
	ctx := context.Background()

	noSeverity := record("a1", "restart_pod", 0, day, OutcomeSucceeded)
	_, err = l.Append(ctx, noSeverity)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	outOfRange := record("a1", "restart_pod", anomaly.SeverityCritical+1, day, OutcomeSucceeded)
	_, err = l.Append(ctx, outOfRange)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	badKind := record("a1", "restart_pod", anomaly.SeverityHigh, day, OutcomeSucceeded)
	badKind.Kind = "Meltdown"
	_, err = l.Append(ctx, badKind)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = l.Append(ctx, record("a2", "restart_pod", anomaly.SeverityLow, day, OutcomeSucceeded))
	require.NoError(t, err)
	all, err := l.ListAll(ctx, Filter{})
	require.NoError(t, err, "rejected records never reach the file")
	require.Len(t, all, 1)
	assert.Equal(t, "a2", all[0].AnomalyID)
}

func TestSeverityMarshalTextRejectsUnknown(t *testing.T) {
	_, err := anomaly.Severity(0).MarshalText()
	assert.Error(t, err)
	text, err := anomaly.SeverityMedium.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "medium", string(text))
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Append(context.Context, Record) error { return errors.New("disk full") }

func TestAppendStorageFailureWrapsErrStorage(t *testing.T) {
	l := NewLog(&failingStore{}, zaptest.NewLogger(t))
	rec, err := l.Append(context.Background(), record("a1", "restart_pod", anomaly.SeverityHigh, day, OutcomeSucceeded))
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotEmpty(t, rec.ID)
}

func TestWriteCSV(t *testing.T) {
	l := NewLog(NewMemoryStore(), nil)
	seed(t, l)
	all, err := l.ListAll(context.Background(), Filter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, all))
	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Anomaly ID", rows[0][1])
	assert.Equal(t, "a2", rows[1][1])
	assert.Equal(t, "medium", rows[1][5])
	assert.Equal(t, "2025-03-01T12:00:00Z", rows[1][6])
}
