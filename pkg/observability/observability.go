// Package observability provides structured logging and optional
// OpenTelemetry metrics export for munin, trimmed to the metrics half of
// the teacher's tracing+metrics provider: an air-gapped authorization
// core has no downstream trace collector to talk to, but RED-style
// counters are still worth exporting to a local OTLP sink when
// METRICS_ENABLED is set.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName  string
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
}

// Provider exports RED (Rate, Errors, Duration) metrics for munin's
// mutating operations and carries the process-wide structured logger.
type Provider struct {
	config        Config
	logger        *slog.Logger
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram
}

// New builds a Provider. If cfg.Enabled is false, the returned Provider
// logs but records no metrics — Track still logs failures but records
// nothing.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	logger := slog.Default().With("component", "observability")
	p := &Provider{config: cfg, logger: logger}

	if !cfg.Enabled {
		logger.InfoContext(ctx, "metrics disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = otel.Meter("munin.core")

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	logger.InfoContext(ctx, "metrics initialized", "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initMetrics() error {
	var err error
	if p.requestCounter, err = p.meter.Int64Counter("munin.requests.total",
		metric.WithDescription("Total operations processed"), metric.WithUnit("{operation}")); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("munin.errors.total",
		metric.WithDescription("Total operation failures"), metric.WithUnit("{error}")); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("munin.operation.duration",
		metric.WithDescription("Operation duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5)); err != nil {
		return err
	}
	return nil
}

// Logger returns the process-wide structured logger.
func (p *Provider) Logger() *slog.Logger { return p.logger }

// Track wraps a named operation, recording a request count, error count
// on failure, and duration when metrics export is enabled. Failures are
// logged whether or not metrics are enabled.
func (p *Provider) Track(ctx context.Context, name string, attrs ...attribute.KeyValue) func(error) {
	start := time.Now()
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return func(err error) {
		if p.durationHist != nil {
			p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			if p.errorCounter != nil {
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			p.logger.ErrorContext(ctx, "operation failed", "operation", name, "error", err)
		}
	}
}

// Shutdown flushes and closes the metrics provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
