// Package ingest drives the polling loop: source, classifier, registry and
// the quiet-period sweep, with optional auto-remediation.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/classifier"
	"kubeheal-backend/internal/monitor"
	"kubeheal-backend/internal/remediation"
	"kubeheal-backend/internal/telemetry"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultCycleTimeout  = 20 * time.Second
	defaultIngestWorkers = 8
	defaultAutoCooldown  = 10 * time.Minute
)

type Config struct {
	PollInterval          time.Duration
	CycleTimeout          time.Duration
	IngestWorkers         int
	AutoRemediate         bool
	AutoRemediateCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = defaultCycleTimeout
	}
	if c.IngestWorkers <= 0 {
		c.IngestWorkers = defaultIngestWorkers
	}
	if c.AutoRemediateCooldown <= 0 {
		c.AutoRemediateCooldown = defaultAutoCooldown
	}
	return c
}

// CycleStats summarises one polling cycle.
type CycleStats struct {
	Cycle      uint64
	Samples    int
	Skipped    int
	Candidates int
	Resolved   int
	Dispatched int
	Duration   time.Duration
	Err        error
}

type Poller struct {
	source     telemetry.Source
	registry   *anomaly.Registry
	thresholds classifier.Thresholds
	dispatcher *remediation.Dispatcher
	cooldown   *monitor.Cooldown
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer

	mu    sync.RWMutex
	hooks []func(CycleStats)

	// remediationCtx outlives Run's stop signal so auto-remediations finish.
	remediationCtx context.Context
}

// NewPoller wires the loop. dispatcher may be nil when auto-remediation is
// off.
func NewPoller(source telemetry.Source, registry *anomaly.Registry, thresholds classifier.Thresholds, dispatcher *remediation.Dispatcher, cfg Config, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Poller{
		source:         source,
		registry:       registry,
		thresholds:     thresholds,
		dispatcher:     dispatcher,
		cooldown:       monitor.NewCooldown(cfg.AutoRemediateCooldown),
		cfg:            cfg,
		logger:         logger,
		tracer:         otel.Tracer("kubeheal-backend/ingest"),
		remediationCtx: context.Background(),
	}
}

// OnCycle registers fn to receive the stats of every finished cycle.
func (p *Poller) OnCycle(fn func(CycleStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, fn)
}

// Run polls until ctx is cancelled. A cycle in progress when ctx is cancelled
// runs to completion; Run then returns nil. A finite source ending also
// returns nil.
func (p *Poller) Run(ctx context.Context) error {
	p.remediationCtx = context.WithoutCancel(ctx)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	p.logger.Info("poller started",
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Bool("autoRemediate", p.cfg.AutoRemediate))
	for {
		stats, err := p.detachedCycle(ctx)
		if errors.Is(err, telemetry.ErrExhausted) {
			p.logger.Info("telemetry source exhausted", zap.Uint64("cycle", stats.Cycle))
			return nil
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Replay runs cycles back to back until the source is exhausted, for finite
// sources such as CSV fixtures. It returns the number of cycles run.
func (p *Poller) Replay(ctx context.Context) (int, error) {
	p.remediationCtx = context.WithoutCancel(ctx)
	cycles := 0
	for {
		if err := ctx.Err(); err != nil {
			return cycles, err
		}
		_, err := p.detachedCycle(ctx)
		if errors.Is(err, telemetry.ErrExhausted) {
			return cycles, nil
		}
		if err != nil {
			return cycles, err
		}
		cycles++
	}
}

func (p *Poller) detachedCycle(ctx context.Context) (CycleStats, error) {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CycleTimeout)
	defer cancel()
	return p.RunCycle(cycleCtx)
}

// RunCycle polls the source once, classifies every sample and sweeps quiet
// anomalies. Malformed samples are logged and skipped.
func (p *Poller) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	stats := CycleStats{Cycle: p.registry.Tick()}
	ctx, span := p.tracer.Start(ctx, "ingest.cycle", trace.WithAttributes(attribute.Int64("cycle", int64(stats.Cycle))))
	defer span.End()

	samples, err := p.source.Poll(ctx)
	if err != nil {
		stats.Err = err
		stats.Duration = time.Since(start)
		if !errors.Is(err, telemetry.ErrExhausted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error("poll telemetry", zap.Uint64("cycle", stats.Cycle), zap.Error(err))
			p.fire(stats)
		}
		return stats, err
	}
	stats.Samples = len(samples)

	var skipped, candidates, dispatched atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.IngestWorkers)
	for _, s := range samples {
		s := s
		g.Go(func() error {
			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			hit, sent, ok := p.ingestSample(s)
			if !ok {
				skipped.Add(1)
			}
			if hit {
				candidates.Add(1)
			}
			if sent {
				dispatched.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	resolved := p.registry.Sweep()
	p.cooldown.Prune()

	stats.Skipped = int(skipped.Load())
	stats.Candidates = int(candidates.Load())
	stats.Dispatched = int(dispatched.Load())
	stats.Resolved = len(resolved)
	stats.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("samples", stats.Samples),
		attribute.Int("candidates", stats.Candidates),
		attribute.Int("resolved", stats.Resolved),
	)
	p.logger.Debug("cycle finished",
		zap.Uint64("cycle", stats.Cycle),
		zap.Int("samples", stats.Samples),
		zap.Int("skipped", stats.Skipped),
		zap.Int("candidates", stats.Candidates),
		zap.Int("resolved", stats.Resolved),
		zap.Duration("duration", stats.Duration))
	p.fire(stats)
	return stats, nil
}

// ingestSample reports whether the sample produced a candidate, whether an
// auto-remediation was dispatched, and false for ok when it was skipped.
func (p *Poller) ingestSample(s telemetry.Sample) (hit, dispatched, ok bool) {
	if err := s.Validate(); err != nil {
		p.logger.Warn("skipping malformed sample", zap.Error(err))
		return false, false, false
	}
	recent, err := p.registry.Recent(s)
	if err != nil {
		p.logger.Warn("skipping sample",
			zap.String("resource", s.ResourceKey()),
			zap.Time("timestamp", s.Timestamp),
			zap.Error(err))
		return false, false, false
	}
	cand, matched := classifier.Classify(p.thresholds, s, recent)
	if !matched {
		return false, false, true
	}
	if p.dispatcher != nil {
		if suggested := p.dispatcher.Catalog().Suggest(cand.Kind, cand.Severity); suggested != "" {
			cand.SuggestedAction = suggested
		}
	}
	id := p.registry.Ingest(cand)
	return true, p.maybeRemediate(id), true
}

// maybeRemediate dispatches the suggested action for a detected anomaly when
// auto-remediation is on and the action is not destructive. The cooldown is
// per resource and kind so a condition that keeps coming back is not
// remediated in a loop.
func (p *Poller) maybeRemediate(id string) bool {
	if !p.cfg.AutoRemediate || p.dispatcher == nil {
		return false
	}
	a, err := p.registry.Get(id)
	if err != nil || a.Status != anomaly.StatusDetected || a.SuggestedAction == "" {
		return false
	}
	action, ok := p.dispatcher.Catalog().Get(a.SuggestedAction)
	if !ok || action.Destructive || !action.AppliesTo(a.Kind) {
		return false
	}
	if !p.cooldown.Allow(a.ResourceKey + "|" + string(a.Kind)) {
		return false
	}
	p.logger.Info("auto-remediating",
		zap.String("anomaly", id),
		zap.String("action", action.ID),
		zap.String("resource", a.ResourceKey))
	results := p.dispatcher.ExecuteAsync(p.remediationCtx, id, action.ID)
	go func() {
		r := <-results
		if r.Err != nil && !errors.Is(r.Err, anomaly.ErrAlreadyResolved) {
			p.logger.Warn("auto-remediation error", zap.String("anomaly", id), zap.Error(r.Err))
		}
	}()
	return true
}

func (p *Poller) fire(stats CycleStats) {
	p.mu.RLock()
	hooks := make([]func(CycleStats), len(p.hooks))
	copy(hooks, p.hooks)
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(stats)
	}
}
