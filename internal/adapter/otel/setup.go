// Package otel provides subctl's metric instruments and the optional
// OTLP export pipeline.
package otel

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ShutdownFunc flushes and shuts down the meter provider.
type ShutdownFunc func(ctx context.Context) error

// InitMetrics installs the global meter provider. With an OTLP endpoint
// it exports over gRPC on a periodic reader; without one instruments
// record into the default no-op provider, so instrumented code needs no
// endpoint to run.
func InitMetrics(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	if endpoint == "" {
		slog.Debug("otlp endpoint not set, metrics export disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	slog.Info("otlp metrics export enabled", "endpoint", endpoint, "service", serviceName)
	return provider.Shutdown, nil
}
