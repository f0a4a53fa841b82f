package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kubeheal-backend/internal/api"
	"kubeheal-backend/internal/app"
	"kubeheal-backend/internal/bus"
	"kubeheal-backend/internal/config"
	"kubeheal-backend/internal/history"
	"kubeheal-backend/internal/logging"
	"kubeheal-backend/internal/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("KUBEHEAL_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "kubeheal-server", logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pipeline, err := app.Build(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.Warn("close history", zap.Error(err))
		}
	}()

	var recorded func(history.Record)
	if cfg.NATSURL != "" {
		publisher, err := bus.NewPublisher(cfg.NATSURL, logger.Named("bus"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer publisher.Close()
		pipeline.Registry.Subscribe(publisher)
		pipeline.Dispatcher.OnRecord(publisher.OnRecord)
		recorded = publisher.OnRecord
	}

	handler := &api.Handler{
		Registry:   pipeline.Registry,
		Dispatcher: pipeline.Dispatcher,
		Log:        pipeline.Log,
		Metrics:    pipeline.Metrics.Handler(),
		Logger:     logger.Named("api"),
		Timeout:    10 * time.Second,
		Recorded:   recorded,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// remediations hold the request open for up to the action timeout
		WriteTimeout: cfg.ActionTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollerDone := make(chan error, 1)
	go func() { pollerDone <- pipeline.Poller.Run(ctx) }()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("kubeheal listening",
			zap.String("port", cfg.Port),
			zap.String("telemetry", cfg.Telemetry.Source),
			zap.String("history", cfg.History.Backend),
			zap.Bool("dryRun", cfg.DryRun))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			<-pollerDone
			pipeline.Dispatcher.Wait()
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := <-pollerDone; err != nil {
		logger.Warn("poller stopped with error", zap.Error(err))
	}
	// auto-remediations still publish through the bus
	pipeline.Dispatcher.Wait()
	return nil
}
