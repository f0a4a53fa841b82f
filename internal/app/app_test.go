package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/config"
	"kubeheal-backend/internal/history"
)

const fixtureCSV = `Timestamp,Pod Name,CPU Usage (%),Memory Usage (%),Network Traffic (B/s),Pod Status,Pod Reason,Pod Restarts,Error Message,Latest Event Reason,Pod Event Type,Pod Event Message,Node Name
2025-03-01 12:00:00,api-7f9c-x2k4p,40,97,1200,Running,,0,,OOMKilled,Warning,container killed,node-1
2025-03-01 12:00:00,cart-6d-abcde,95,50,800,Running,,0,,,Normal,,node-2
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.csv")
	require.NoError(t, os.WriteFile(path, []byte(fixtureCSV), 0o600))
	return config.Config{
		History:               config.HistoryConfig{Backend: config.HistoryFile, File: filepath.Join(t.TempDir(), "history.json")},
		Telemetry:             config.TelemetryConfig{Source: config.TelemetryCSV, CSVPath: path},
		PollInterval:          time.Second,
		CycleTimeout:          time.Second,
		IngestWorkers:         2,
		ActionTimeout:         time.Second,
		AutoRemediateCooldown: time.Minute,
		DryRun:                true,
		QuietCycles:           3,
		ResolvedRetention:     time.Hour,
	}
}

func TestBuildReplaysCSVWithDryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoRemediate = true
	p, err := Build(context.Background(), cfg, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	cycles, err := p.Poller.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cycles)
	require.NoError(t, p.Close())

	all := p.Registry.List(nil)
	require.Len(t, all, 2)
	for _, a := range all {
		assert.Equal(t, anomaly.StatusResolved, a.Status, a.Kind)
	}

	reopened, err := history.NewFileStore(cfg.History.File)
	require.NoError(t, err)
	records, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	_, err := OpenStore(context.Background(), config.HistoryConfig{Backend: "etcd"})
	assert.ErrorContains(t, err, "etcd")
}
