// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fluxgroup/consumer"
	"github.com/absmach/fluxgroup/report"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	_ consumer.Metrics = (*Metrics)(nil)
	_ report.Recorder  = (*Metrics)(nil)
)

// Metrics holds OpenTelemetry metric instruments for the consumer group.
type Metrics struct {
	meter metric.Meter

	// Counters
	messagesReceived  metric.Int64Counter
	messagesProcessed metric.Int64Counter
	messagesSkipped   metric.Int64Counter
	messagesDropped   metric.Int64Counter

	// Gauges
	throughput metric.Float64Gauge

	// Histograms
	pipelineDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance using the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter("fluxgroup"))
}

// NewMetricsWithMeter creates a new Metrics instance with all instruments
// created on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		meter: meter,
	}

	var err error

	m.messagesReceived, err = m.meter.Int64Counter(
		"fluxgroup.messages.received.total",
		metric.WithDescription("Total broadcast messages delivered to consumers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesReceived counter: %w", err)
	}

	m.messagesProcessed, err = m.meter.Int64Counter(
		"fluxgroup.messages.processed.total",
		metric.WithDescription("Total messages processed and recorded"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesProcessed counter: %w", err)
	}

	m.messagesSkipped, err = m.meter.Int64Counter(
		"fluxgroup.messages.skipped.total",
		metric.WithDescription("Total deliveries skipped because another consumer held the lock"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesSkipped counter: %w", err)
	}

	m.messagesDropped, err = m.meter.Int64Counter(
		"fluxgroup.messages.dropped.total",
		metric.WithDescription("Total deliveries dropped on a fault"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesDropped counter: %w", err)
	}

	m.throughput, err = m.meter.Float64Gauge(
		"fluxgroup.throughput",
		metric.WithDescription("Processed log growth in messages per second"),
		metric.WithUnit("{message}/s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create throughput gauge: %w", err)
	}

	m.pipelineDuration, err = m.meter.Float64Histogram(
		"fluxgroup.pipeline.duration.ms",
		metric.WithDescription("Per-delivery pipeline duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipelineDuration histogram: %w", err)
	}

	return m, nil
}

// RecordReceived records a delivery.
func (m *Metrics) RecordReceived(ctx context.Context, consumerID string) {
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("consumer.id", consumerID),
	))
}

// RecordOutcome records the outcome and duration of a delivery.
func (m *Metrics) RecordOutcome(ctx context.Context, consumerID string, outcome consumer.Outcome, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("consumer.id", consumerID))

	switch outcome {
	case consumer.Processed:
		m.messagesProcessed.Add(ctx, 1, attrs)
	case consumer.Skipped:
		m.messagesSkipped.Add(ctx, 1, attrs)
	case consumer.Dropped:
		m.messagesDropped.Add(ctx, 1, attrs)
	}

	m.pipelineDuration.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("outcome", outcome.String()),
	))
}

// RecordThroughput records a throughput sample.
func (m *Metrics) RecordThroughput(ctx context.Context, perSecond float64) {
	m.throughput.Record(ctx, perSecond)
}
