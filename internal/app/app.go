// Package app assembles the detection and remediation pipeline from config.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/classifier"
	"kubeheal-backend/internal/config"
	"kubeheal-backend/internal/history"
	"kubeheal-backend/internal/ingest"
	"kubeheal-backend/internal/metrics"
	"kubeheal-backend/internal/remediation"
	"kubeheal-backend/internal/telemetry"
)

// Pipeline is every long-lived component of one kubeheal process.
type Pipeline struct {
	Registry   *anomaly.Registry
	Log        *history.Log
	Catalog    *remediation.Catalog
	Dispatcher *remediation.Dispatcher
	Poller     *ingest.Poller
	Metrics    *metrics.Metrics
}

// Options replaces parts of the pipeline that Build would otherwise derive
// from config. Zero fields are derived.
type Options struct {
	Source   telemetry.Source
	Executor remediation.Executor
	Store    history.Store
}

func Build(ctx context.Context, cfg config.Config, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	thresholds := classifier.DefaultThresholds()
	if cfg.ThresholdsFile != "" {
		loaded, err := classifier.LoadThresholds(cfg.ThresholdsFile)
		if err != nil {
			return nil, err
		}
		thresholds = loaded
	}
	catalog := remediation.DefaultCatalog()
	if cfg.ActionsFile != "" {
		loaded, err := remediation.LoadCatalog(cfg.ActionsFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	var clients *kubeClients
	needKube := (opts.Source == nil && cfg.Telemetry.Source == config.TelemetryKube) || (opts.Executor == nil && !cfg.DryRun)
	if needKube {
		var err error
		if clients, err = newKubeClients(cfg.Telemetry); err != nil {
			return nil, err
		}
	}

	source := opts.Source
	if source == nil {
		switch cfg.Telemetry.Source {
		case config.TelemetryCSV:
			fileSource, rowErrs, err := telemetry.NewFileSource(cfg.Telemetry.CSVPath)
			if err != nil {
				return nil, fmt.Errorf("load telemetry csv: %w", err)
			}
			for _, rowErr := range rowErrs {
				logger.Warn("skipping telemetry row", zap.Error(rowErr))
			}
			source = fileSource
		default:
			source = telemetry.NewKubeSource(clients.core, clients.metrics, cfg.Telemetry.Namespace, logger.Named("telemetry"))
		}
	}

	executor := opts.Executor
	if executor == nil {
		if cfg.DryRun {
			executor = remediation.DryRunExecutor{Logger: logger.Named("executor")}
		} else {
			executor = remediation.NewKubeExecutor(clients.core, logger.Named("executor"))
		}
	}

	store := opts.Store
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, cfg.History); err != nil {
			return nil, err
		}
	}

	registry := anomaly.NewRegistry(anomaly.Config{
		QuietCycles:       cfg.QuietCycles,
		ResolvedRetention: cfg.ResolvedRetention,
	}, logger.Named("registry"))
	log := history.NewLog(store, logger.Named("history"))
	dispatcher := remediation.NewDispatcher(registry, catalog, executor, log,
		remediation.Config{ActionTimeout: cfg.ActionTimeout}, logger.Named("dispatcher"))
	poller := ingest.NewPoller(source, registry, thresholds, dispatcher, ingest.Config{
		PollInterval:          cfg.PollInterval,
		CycleTimeout:          cfg.CycleTimeout,
		IngestWorkers:         cfg.IngestWorkers,
		AutoRemediate:         cfg.AutoRemediate,
		AutoRemediateCooldown: cfg.AutoRemediateCooldown,
	}, logger.Named("poller"))

	m := metrics.New(registry.ListOpen)
	registry.Subscribe(m)
	dispatcher.OnRecord(m.OnRecord)
	poller.OnCycle(m.OnCycle)

	return &Pipeline{
		Registry:   registry,
		Log:        log,
		Catalog:    catalog,
		Dispatcher: dispatcher,
		Poller:     poller,
		Metrics:    m,
	}, nil
}

// Close waits for in-flight remediations and closes the history store.
func (p *Pipeline) Close() error {
	p.Dispatcher.Wait()
	return p.Log.Close()
}

// OpenStore picks the history backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case config.HistoryMemory, "":
		return history.NewMemoryStore(), nil
	case config.HistoryFile:
		store, err := history.NewFileStore(cfg.File)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.HistoryPostgres:
		store, err := history.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.HistorySQL:
		store, err := history.OpenSQLStore(ctx, cfg.SQL)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
}

type kubeClients struct {
	core    kubernetes.Interface
	metrics metricsclient.Interface
}

func newKubeClients(cfg config.TelemetryConfig) (*kubeClients, error) {
	restCfg, err := telemetry.LoadRESTConfig(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		return nil, fmt.Errorf("load kube config: %w", err)
	}
	core, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kube client: %w", err)
	}
	mc, err := metricsclient.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics client: %w", err)
	}
	return &kubeClients{core: core, metrics: mc}, nil
}
