package remediation_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/classifier"
	"kubeheal-backend/internal/history"
	"kubeheal-backend/internal/remediation"
	"kubeheal-backend/internal/telemetry"
	"kubeheal-backend/internal/telemetry/telemetrytest"
)

type fixture struct {
	registry   *anomaly.Registry
	log        *history.Log
	dispatcher *remediation.Dispatcher
}

func newFixture(t *testing.T, exec remediation.Executor, store history.Store, cfg remediation.Config) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if store == nil {
		store = history.NewMemoryStore()
	}
	reg := anomaly.NewRegistry(anomaly.Config{}, logger)
	log := history.NewLog(store, logger)
	return fixture{
		registry:   reg,
		log:        log,
		dispatcher: remediation.NewDispatcher(reg, remediation.DefaultCatalog(), exec, log, cfg, logger),
	}
}

func (f fixture) ingest(t *testing.T, s telemetry.Sample) string {
	t.Helper()
	c, ok := classifier.Classify(classifier.DefaultThresholds(), s, nil)
	require.True(t, ok)
	return f.registry.Ingest(c)
}

func (f fixture) records(t *testing.T) []history.Record {
	t.Helper()
	all, err := f.log.ListAll(context.Background(), history.Filter{})
	require.NoError(t, err)
	return all
}

func succeed(detail string) remediation.ExecutorFunc {
	return func(context.Context, remediation.Action, remediation.Target) (string, error) {
		return detail, nil
	}
}

func fail(err error) remediation.ExecutorFunc {
	return func(context.Context, remediation.Action, remediation.Target) (string, error) {
		return "", err
	}
}

func crashLoopSample() telemetry.Sample {
	s := telemetrytest.Healthy("worker-5f", telemetrytest.Epoch)
	s.LatestEventReason = "BackOff"
	return s
}

func TestExecuteResolvesOnSuccess(t *testing.T) {
	f := newFixture(t, succeed("cpu raised"), nil, remediation.Config{})
	s := telemetrytest.Healthy("api-7f", telemetrytest.Epoch)
	s.CPUPercent, s.MemoryPercent = 95, 40
	id := f.ingest(t, s)

	a, err := f.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, anomaly.KindResourceExhaustion, a.Kind)
	assert.Equal(t, anomaly.SeverityCritical, a.Severity)
	assert.Equal(t, anomaly.StatusDetected, a.Status)

	rec, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionIncreaseCPU)
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeSucceeded, rec.Outcome)
	assert.Equal(t, "cpu raised", rec.Detail)
	assert.Equal(t, anomaly.SeverityCritical, rec.Severity)
	assert.False(t, rec.CompletedAt.Before(rec.RequestedAt))

	a, _ = f.registry.Get(id)
	assert.Equal(t, anomaly.StatusResolved, a.Status)
	assert.Equal(t, "cpu raised", a.Resolution)
	assert.Len(t, f.records(t), 1)
}

func TestExecuteReopensOnFailure(t *testing.T) {
	f := newFixture(t, fail(errors.New("api server unavailable")), nil, remediation.Config{})
	id := f.ingest(t, crashLoopSample())

	rec, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Detail, "api server unavailable")

	a, _ := f.registry.Get(id)
	assert.Equal(t, anomaly.StatusDetected, a.Status)
	assert.Equal(t, 1, a.Attempts)
	assert.Len(t, f.records(t), 1)
}

func TestExecuteRejectsBeforeAnyChange(t *testing.T) {
	var calls atomic.Int32
	exec := remediation.ExecutorFunc(func(context.Context, remediation.Action, remediation.Target) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	f := newFixture(t, exec, nil, remediation.Config{})
	id := f.ingest(t, crashLoopSample())

	_, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionIncreaseCPU)
	assert.ErrorIs(t, err, remediation.ErrInapplicableAction)
	_, err = f.dispatcher.Execute(context.Background(), id, "drain_node")
	assert.ErrorIs(t, err, remediation.ErrInapplicableAction)
	_, err = f.dispatcher.Execute(context.Background(), "missing", remediation.ActionRestartPod)
	assert.ErrorIs(t, err, anomaly.ErrNotFound)

	a, _ := f.registry.Get(id)
	assert.Equal(t, anomaly.StatusDetected, a.Status)
	assert.Zero(t, a.Attempts)

	require.NoError(t, f.registry.Resolve(id, "cleared by operator"))
	_, err = f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
	assert.ErrorIs(t, err, anomaly.ErrAlreadyResolved)

	assert.Zero(t, calls.Load())
	assert.Empty(t, f.records(t))
}

func TestEveryExecutionAppendsOneRecord(t *testing.T) {
	outcomes := []error{nil, errors.New("boom"), nil}
	var i int
	exec := remediation.ExecutorFunc(func(context.Context, remediation.Action, remediation.Target) (string, error) {
		err := outcomes[i%len(outcomes)]
		i++
		return "done", err
	})
	f := newFixture(t, exec, nil, remediation.Config{})

	for n := 0; n < 6; n++ {
		s := telemetrytest.Healthy("api-7f", telemetrytest.Epoch.Add(time.Duration(n)*time.Minute))
		s.LatestEventReason = "OOMKilled"
		id := f.ingest(t, s)
		before := len(f.records(t))
		_, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionIncreaseMemory)
		require.NoError(t, err)
		assert.Len(t, f.records(t), before+1)
	}
}

func TestConcurrentExecuteIsSerializedPerAnomaly(t *testing.T) {
	var (
		inFlight, maxInFlight atomic.Int32
		calls                 atomic.Int32
	)
	exec := remediation.ExecutorFunc(func(context.Context, remediation.Action, remediation.Target) (string, error) {
		calls.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return "", errors.New("still crashing")
	})
	f := newFixture(t, exec, nil, remediation.Config{})
	id := f.ingest(t, crashLoopSample())

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(workers), calls.Load())
	assert.Len(t, f.records(t), workers)
	a, _ := f.registry.Get(id)
	assert.Equal(t, anomaly.StatusDetected, a.Status)
}

func TestQueuedExecuteSeesResolution(t *testing.T) {
	var calls atomic.Int32
	exec := remediation.ExecutorFunc(func(context.Context, remediation.Action, remediation.Target) (string, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return "restarted", nil
	})
	f := newFixture(t, exec, nil, remediation.Config{})
	id := f.ingest(t, crashLoopSample())

	var (
		wg       sync.WaitGroup
		resolved atomic.Int32
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
			if errors.Is(err, anomaly.ErrAlreadyResolved) {
				resolved.Add(1)
				return
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "destructive action applied once")
	assert.Equal(t, int32(4), resolved.Load())
	assert.Len(t, f.records(t), 1)
}

func TestExecuteTimeoutFails(t *testing.T) {
	exec := remediation.ExecutorFunc(func(ctx context.Context, _ remediation.Action, _ remediation.Target) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, exec, nil, remediation.Config{ActionTimeout: 20 * time.Millisecond})
	id := f.ingest(t, crashLoopSample())

	rec, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Detail, "timed out")
	a, _ := f.registry.Get(id)
	assert.Equal(t, anomaly.StatusDetected, a.Status)
}

func TestExecuteCancelledReopensAndRecords(t *testing.T) {
	started := make(chan struct{})
	exec := remediation.ExecutorFunc(func(ctx context.Context, _ remediation.Action, _ remediation.Target) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, exec, nil, remediation.Config{})
	id := f.ingest(t, crashLoopSample())

	ctx, cancel := context.WithCancel(context.Background())
	res := f.dispatcher.ExecuteAsync(ctx, id, remediation.ActionRestartPod)
	<-started
	a, _ := f.registry.Get(id)
	assert.Equal(t, anomaly.StatusInvestigating, a.Status)
	cancel()

	r := <-res
	require.NoError(t, r.Err)
	assert.Equal(t, history.OutcomeFailed, r.Record.Outcome)
	assert.Contains(t, r.Record.Detail, "cancelled")
	a, _ = f.registry.Get(id)
	assert.Equal(t, anomaly.StatusDetected, a.Status)
	assert.Len(t, f.records(t), 1)
	f.dispatcher.Wait()
}

func TestExecutorPanicIsRecordedAsFailure(t *testing.T) {
	exec := remediation.ExecutorFunc(func(context.Context, remediation.Action, remediation.Target) (string, error) {
		panic("nil client")
	})
	f := newFixture(t, exec, nil, remediation.Config{})
	id := f.ingest(t, crashLoopSample())

	rec, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Detail, "nil client")
}

type brokenStore struct{ history.MemoryStore }

func (b *brokenStore) Append(context.Context, history.Record) error {
	return errors.New("connection reset")
}

func TestStorageFailureKeepsTransition(t *testing.T) {
	f := newFixture(t, succeed("restarted"), &brokenStore{}, remediation.Config{})
	id := f.ingest(t, crashLoopSample())
	var hooked atomic.Int32
	f.dispatcher.OnRecord(func(history.Record) { hooked.Add(1) })

	rec, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
	assert.ErrorIs(t, err, history.ErrStorage)
	assert.Equal(t, history.OutcomeSucceeded, rec.Outcome)
	assert.Equal(t, id, rec.AnomalyID)

	a, _ := f.registry.Get(id)
	assert.Equal(t, anomaly.StatusResolved, a.Status)
	assert.Zero(t, hooked.Load())
}

func TestOnRecordHooks(t *testing.T) {
	f := newFixture(t, remediation.DryRunExecutor{Logger: zaptest.NewLogger(t)}, nil, remediation.Config{})
	id := f.ingest(t, crashLoopSample())
	var got []history.Record
	f.dispatcher.OnRecord(func(r history.Record) { got = append(got, r) })

	rec, err := f.dispatcher.Execute(context.Background(), id, remediation.ActionRestartPod)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Contains(t, rec.Detail, "dry run")
}
