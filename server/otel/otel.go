// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/fluxgroup/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	exportTimeout  = 30 * time.Second
	metricInterval = 10 * time.Second
	spanBatchSize  = 512
	spanBatchDelay = 5 * time.Second
)

// Provider owns the SDK providers registered as the global OpenTelemetry
// providers. Either may be nil when the signal is disabled.
type Provider struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// InitProvider sets up OTLP gRPC exporters for the enabled signals and
// registers them globally. With tracing disabled a no-op tracer provider is
// installed so spans cost nothing.
func InitProvider(ctx context.Context, cfg config.ServerConfig, instanceID string) (*Provider, error) {
	res, err := newResource(ctx, cfg, instanceID)
	if err != nil {
		return nil, err
	}

	p := &Provider{}

	if cfg.OtelTracesEnabled {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.MetricsAddr),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(exportTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		p.tracer = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler(cfg.OtelTraceSampleRate)),
			sdktrace.WithBatcher(exporter,
				sdktrace.WithMaxExportBatchSize(spanBatchSize),
				sdktrace.WithBatchTimeout(spanBatchDelay),
			),
		)
		otel.SetTracerProvider(p.tracer)
	} else {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	if cfg.OtelMetricsEnabled {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.MetricsAddr),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithTimeout(exportTimeout),
		)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}

		p.meter = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(metricInterval),
			)),
		)
		otel.SetMeterProvider(p.meter)
	}

	return p, nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newResource(ctx context.Context, cfg config.ServerConfig, instanceID string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.OtelServiceName),
			semconv.ServiceVersionKey.String(cfg.OtelServiceVersion),
			semconv.ServiceInstanceIDKey.String(instanceID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// sampler maps a ratio to a parent-based sampler. Out of range ratios are
// clamped.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
