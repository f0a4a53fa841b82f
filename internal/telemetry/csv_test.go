package telemetry

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `Timestamp,Pod Name,CPU Usage (%),Memory Usage (%),Network Traffic (B/s),Pod Status,Pod Reason,Pod Restarts,Error Message,Latest Event Reason,Pod Event Type,Pod Event Message,Node Name
2025-03-01 12:00:00,api-7f,95,40,1200,Running,,0,,,Normal,,node-a
2025-03-01 12:00:00,mem-hog,20,30,10,Running,,1,,OOMKilled,Warning,Container killed,node-b
2025-03-01 12:00:30,api-7f,96,41,1300,Running,nan,0,,,Normal,,node-a
2025-03-01 12:00:30,broken,abc,30,10,Running,,0,,,Normal,,node-b
`

func TestReadCSV(t *testing.T) {
	samples, rowErrs, err := ReadCSV(strings.NewReader(fixture))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.Len(t, rowErrs, 1)

	var rowErr *RowError
	require.True(t, errors.As(rowErrs[0], &rowErr))
	assert.Equal(t, 5, rowErr.Line)
	assert.ErrorIs(t, rowErrs[0], ErrInvalidSample)

	first := samples[0]
	assert.Equal(t, "api-7f", first.PodName)
	assert.Equal(t, "default", first.Namespace)
	assert.Equal(t, 95.0, first.CPUPercent)
	assert.Equal(t, PodRunning, first.PodStatus)
	assert.Equal(t, "node-a", first.NodeName)

	oom := samples[1]
	assert.Equal(t, "OOMKilled", oom.LatestEventReason)
	assert.Equal(t, EventWarning, oom.EventType)
	assert.Equal(t, 1, oom.RestartCount)

	assert.Empty(t, samples[2].PodReason, "nan placeholder is dropped")
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("Timestamp,Pod Name\n"))
	require.Error(t, err)
}

func TestGroupByTimestampReplay(t *testing.T) {
	samples, _, err := ReadCSV(strings.NewReader(fixture))
	require.NoError(t, err)
	src := NewBatchSource(GroupByTimestamp(samples))

	first, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 2)
	second, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 1)
	_, err = src.Poll(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSampleValidate(t *testing.T) {
	samples, _, err := ReadCSV(strings.NewReader(fixture))
	require.NoError(t, err)
	good := samples[0]
	require.NoError(t, good.Validate())

	bad := good
	bad.PodName = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSample)

	bad = good
	bad.CPUPercent = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSample)

	bad = good
	bad.PodStatus = "Exploded"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSample)
}

func TestReadCSVByteOrderMark(t *testing.T) {
	samples, rowErrs, err := ReadCSV(strings.NewReader("\uFEFF" + fixture))
	require.NoError(t, err)
	assert.Len(t, samples, 3)
	assert.Len(t, rowErrs, 1)
	assert.False(t, samples[0].Timestamp.IsZero())
}

func TestReadCSVNonFiniteUsage(t *testing.T) {
	const rows = `Timestamp,Pod Name,CPU Usage (%),Memory Usage (%),Network Traffic (B/s),Pod Status,Pod Restarts,Pod Event Type
2025-03-01 12:00:00,nan-cpu,NaN,40,1200,Running,0,Normal
2025-03-01 12:00:00,inf-mem,20,+Inf,10,Running,0,Normal
2025-03-01 12:00:00,inf-net,20,30,Inf,Running,0,Normal
2025-03-01 12:00:00,ok,20,30,nan,Running,nan,Normal
`
	samples, rowErrs, err := ReadCSV(strings.NewReader(rows))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "ok", samples[0].PodName)
	assert.Zero(t, samples[0].NetworkBytesPerSec)
	assert.Zero(t, samples[0].RestartCount)
	require.Len(t, rowErrs, 3)
	for _, rowErr := range rowErrs {
		assert.ErrorIs(t, rowErr, ErrInvalidSample)
	}
}

func TestSampleValidateNonFinite(t *testing.T) {
	samples, _, err := ReadCSV(strings.NewReader(fixture))
	require.NoError(t, err)
	good := samples[0]

	for name, mutate := range map[string]func(*Sample){
		"nan cpu":      func(s *Sample) { s.CPUPercent = math.NaN() },
		"inf memory":   func(s *Sample) { s.MemoryPercent = math.Inf(1) },
		"-inf network": func(s *Sample) { s.NetworkBytesPerSec = math.Inf(-1) },
	} {
		t.Run(name, func(t *testing.T) {
			bad := good
			mutate(&bad)
			assert.ErrorIs(t, bad.Validate(), ErrInvalidSample)
		})
	}
}
