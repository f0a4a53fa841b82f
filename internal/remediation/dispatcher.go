// Package remediation runs catalog actions against anomalies and feeds the
// outcome back into the registry and the history log.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
)

const defaultActionTimeout = 60 * time.Second

type Config struct {
	ActionTimeout time.Duration
}

// Result is delivered by ExecuteAsync.
type Result struct {
	Record history.Record
	Err    error
}

// Dispatcher executes at most one action per anomaly at a time. A second
// request for the same anomaly waits for the first and then re-checks the
// anomaly's state.
type Dispatcher struct {
	registry *anomaly.Registry
	catalog  *Catalog
	executor Executor
	log      *history.Log
	logger   *zap.Logger
	tracer   trace.Tracer
	timeout  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	slots map[string]*slot

	hooksMu sync.RWMutex
	hooks   []func(history.Record)

	wg sync.WaitGroup
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewDispatcher(registry *anomaly.Registry, catalog *Catalog, executor Executor, log *history.Log, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	return &Dispatcher{
		registry: registry,
		catalog:  catalog,
		executor: executor,
		log:      log,
		logger:   logger,
		tracer:   otel.Tracer("kubeheal-backend/remediation"),
		timeout:  cfg.ActionTimeout,
		now:      time.Now,
		slots:    map[string]*slot{},
	}
}

func (d *Dispatcher) Catalog() *Catalog { return d.catalog }

// OnRecord registers fn to run after every record is persisted.
func (d *Dispatcher) OnRecord(fn func(history.Record)) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.hooks = append(d.hooks, fn)
}

// Execute runs actionID against the anomaly and appends exactly one record
// once the executor has been reached. Precondition failures (unknown anomaly,
// inapplicable action, already resolved) return before any state change and
// append nothing. An executor failure is not an error: it comes back as a
// failed record. A storage failure returns the record together with an error
// wrapping history.ErrStorage; the registry transition stands.
func (d *Dispatcher) Execute(ctx context.Context, anomalyID, actionID string) (history.Record, error) {
	a, err := d.registry.Get(anomalyID)
	if err != nil {
		return history.Record{}, err
	}
	action, err := d.catalog.Applicable(actionID, a.Kind)
	if err != nil {
		return history.Record{}, err
	}
	if a.Status == anomaly.StatusResolved {
		return history.Record{}, anomaly.ErrAlreadyResolved
	}

	release, err := d.acquire(ctx, anomalyID)
	if err != nil {
		return history.Record{}, err
	}
	defer release()

	// state may have moved while queued behind another execution
	a, err = d.registry.Get(anomalyID)
	if err != nil {
		return history.Record{}, err
	}
	if a.Status == anomaly.StatusResolved {
		return history.Record{}, anomaly.ErrAlreadyResolved
	}
	requestedAt := d.now().UTC()
	if err := d.registry.StartRemediation(anomalyID); err != nil {
		return history.Record{}, err
	}

	ctx, span := d.tracer.Start(ctx, "remediation.execute", trace.WithAttributes(
		attribute.String("anomaly.id", a.ID),
		attribute.String("anomaly.kind", string(a.Kind)),
		attribute.String("resource", a.ResourceKey),
		attribute.String("action.id", action.ID),
	))
	defer span.End()

	detail, execErr := d.run(ctx, action, targetOf(a))
	outcome := history.OutcomeSucceeded
	if execErr != nil {
		outcome = history.OutcomeFailed
		detail = execErr.Error()
		span.RecordError(execErr)
		span.SetStatus(codes.Error, detail)
		if err := d.registry.Reopen(anomalyID, detail); err != nil {
			d.logger.Warn("reopen after failed remediation", zap.String("anomaly", anomalyID), zap.Error(err))
		}
		d.logger.Warn("remediation failed",
			zap.String("anomaly", anomalyID),
			zap.String("action", action.ID),
			zap.String("resource", a.ResourceKey),
			zap.Error(execErr))
	} else {
		if err := d.registry.Resolve(anomalyID, detail); err != nil {
			d.logger.Warn("resolve after remediation", zap.String("anomaly", anomalyID), zap.Error(err))
		}
		d.logger.Info("remediation succeeded",
			zap.String("anomaly", anomalyID),
			zap.String("action", action.ID),
			zap.String("resource", a.ResourceKey),
			zap.String("detail", detail))
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	rec := history.Record{
		AnomalyID:   a.ID,
		ActionID:    action.ID,
		ResourceKey: a.ResourceKey,
		Kind:        a.Kind,
		Severity:    a.Severity,
		RequestedAt: requestedAt,
		CompletedAt: d.now().UTC(),
		Outcome:     outcome,
		Detail:      detail,
	}
	saved, err := d.log.Append(context.WithoutCancel(ctx), rec)
	if err != nil {
		span.RecordError(err)
		return saved, err
	}
	d.fire(saved)
	return saved, nil
}

// ExecuteAsync runs Execute on its own goroutine. The channel receives
// exactly one Result and is then closed.
func (d *Dispatcher) ExecuteAsync(ctx context.Context, anomalyID, actionID string) <-chan Result {
	out := make(chan Result, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(out)
		rec, err := d.Execute(ctx, anomalyID, actionID)
		out <- Result{Record: rec, Err: err}
	}()
	return out
}

// Wait blocks until every ExecuteAsync call has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// run invokes the executor under the action timeout. Panics become errors so
// the anomaly is always reopened.
func (d *Dispatcher) run(ctx context.Context, action Action, target Target) (detail string, err error) {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrExecutor, r)
		}
	}()
	detail, err = d.executor.Execute(execCtx, action, target)
	if err == nil {
		return detail, nil
	}
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return "", fmt.Errorf("%w: %s timed out after %s: %v", ErrExecutor, action.ID, d.timeout, err)
	case ctx.Err() != nil:
		return "", fmt.Errorf("%w: %s cancelled: %v", ErrExecutor, action.ID, err)
	}
	return "", fmt.Errorf("%w: %v", ErrExecutor, err)
}

func (d *Dispatcher) fire(rec history.Record) {
	d.hooksMu.RLock()
	hooks := make([]func(history.Record), len(d.hooks))
	copy(hooks, d.hooks)
	d.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(rec)
	}
}

func (d *Dispatcher) acquire(ctx context.Context, anomalyID string) (func(), error) {
	d.mu.Lock()
	s, ok := d.slots[anomalyID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		d.slots[anomalyID] = s
	}
	s.refs++
	d.mu.Unlock()

	drop := func() {
		d.mu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(d.slots, anomalyID)
		}
		d.mu.Unlock()
	}
	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			drop()
		}, nil
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

func targetOf(a anomaly.Anomaly) Target {
	return Target{
		AnomalyID: a.ID,
		Namespace: a.Namespace,
		PodName:   a.PodName,
		NodeName:  a.NodeName,
		Kind:      a.Kind,
		Severity:  a.Severity,
	}
}
