package apiclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/api"
	"kubeheal-backend/internal/history"
	"kubeheal-backend/internal/remediation"
)

func newServer(t *testing.T, exec remediation.Executor) (*httptest.Server, *anomaly.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := anomaly.NewRegistry(anomaly.Config{}, logger)
	log := history.NewLog(history.NewMemoryStore(), logger)
	d := remediation.NewDispatcher(reg, remediation.DefaultCatalog(), exec, log, remediation.Config{}, logger)
	srv := httptest.NewServer(api.NewRouter(&api.Handler{Registry: reg, Dispatcher: d, Log: log, Logger: logger}))
	t.Cleanup(srv.Close)
	return srv, reg
}

func ingestCrashLoop(reg *anomaly.Registry) string {
	return reg.Ingest(anomaly.Candidate{
		ResourceKey: "shop/worker", Namespace: "shop", PodName: "worker",
		Kind: anomaly.KindCrashLoop, Severity: anomaly.SeverityHigh,
		SuggestedAction: remediation.ActionRestartPod,
		ObservedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestClientRoundTrip(t *testing.T) {
	srv, reg := newServer(t, remediation.ExecutorFunc(func(context.Context, remediation.Action, remediation.Target) (string, error) {
		return "restarted", nil
	}))
	id := ingestCrashLoop(reg)
	c := New(srv.URL + "/")
	ctx := context.Background()

	open, err := c.ListAnomalies(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)

	rec, err := c.Remediate(ctx, id, remediation.ActionRestartPod)
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeSucceeded, rec.Outcome)

	_, err = c.Remediate(ctx, id, remediation.ActionRestartPod)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "ALREADY_RESOLVED", apiErr.Code)

	var buf bytes.Buffer
	require.NoError(t, c.ExportRemediations(ctx, nil, &buf))
	assert.Contains(t, buf.String(), "restart_pod")
}

func TestClientFailedRemediationCarriesRecord(t *testing.T) {
	srv, reg := newServer(t, remediation.ExecutorFunc(func(context.Context, remediation.Action, remediation.Target) (string, error) {
		return "", errors.New("forbidden")
	}))
	id := ingestCrashLoop(reg)

	_, err := New(srv.URL).Remediate(context.Background(), id, remediation.ActionRestartPod)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	require.NotNil(t, apiErr.Record)
	assert.Equal(t, history.OutcomeFailed, apiErr.Record.Outcome)
}
