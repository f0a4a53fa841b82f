package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubeheal-backend/internal/anomaly"
)

const telemetryCSV = `Timestamp,Pod Name,CPU Usage (%),Memory Usage (%),Network Traffic (B/s),Pod Status,Pod Reason,Pod Restarts,Error Message,Latest Event Reason,Pod Event Type,Pod Event Message,Node Name
2025-03-01 12:00:00,api-7f9c-x2k4p,40,97,1200,Running,,0,,OOMKilled,Warning,container killed,node-1
2025-03-01 12:00:00,cart-6d-abcde,20,30,800,Running,,0,,,Normal,,node-2
2025-03-01 12:00:30,api-7f9c-x2k4p,40,97,1200,Running,,0,,OOMKilled,Warning,container killed,node-1
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.csv")
	require.NoError(t, os.WriteFile(path, []byte(telemetryCSV), 0o600))
	return path
}

func TestReplayPrintsAnomalies(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", writeCSV(t), "-o", "json"})
	require.NoError(t, cmd.Execute())

	var list []anomaly.Anomaly
	require.NoError(t, json.Unmarshal(out.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, anomaly.KindOomRisk, list[0].Kind)
	assert.Equal(t, "default/api-7f9c-x2k4p", list[0].ResourceKey)
	assert.Equal(t, anomaly.StatusDetected, list[0].Status)
}

func TestReplayTable(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", writeCSV(t)})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "replayed 2 cycles, 1 anomalies")
	assert.Contains(t, out.String(), "OomRisk")
}

func TestReplayRejectsUnknownStatus(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"replay", writeCSV(t), "--status", "sleeping"})
	assert.Error(t, cmd.Execute())
}
