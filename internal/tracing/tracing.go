// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const EndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Setup exports spans over OTLP/gRPC when OTEL_EXPORTER_OTLP_ENDPOINT is set
// and leaves the no-op provider in place otherwise. The returned function
// flushes pending spans.
func Setup(ctx context.Context, serviceName string, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		logger.Debug("tracing disabled", zap.String("env", EndpointEnv))
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracing enabled", zap.String("endpoint", endpoint), zap.String("service", serviceName))
	return provider.Shutdown, nil
}
