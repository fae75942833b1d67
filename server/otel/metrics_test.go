// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/consumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sum(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	m, err := NewMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordReceived(ctx, "c1")
	m.RecordReceived(ctx, "c1")
	m.RecordReceived(ctx, "c2")
	m.RecordOutcome(ctx, "c1", consumer.Processed, 3*time.Millisecond)
	m.RecordOutcome(ctx, "c1", consumer.Dropped, time.Millisecond)
	m.RecordOutcome(ctx, "c2", consumer.Skipped, time.Millisecond)
	m.RecordThroughput(ctx, 12.5)

	metrics := collect(t, reader)

	assert.Equal(t, int64(3), sum(t, metrics["fluxgroup.messages.received.total"]))
	assert.Equal(t, int64(1), sum(t, metrics["fluxgroup.messages.processed.total"]))
	assert.Equal(t, int64(1), sum(t, metrics["fluxgroup.messages.skipped.total"]))
	assert.Equal(t, int64(1), sum(t, metrics["fluxgroup.messages.dropped.total"]))

	gauge, ok := metrics["fluxgroup.throughput"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 12.5, gauge.DataPoints[0].Value)

	hist, ok := metrics["fluxgroup.pipeline.duration.ms"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}
