// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"

	"github.com/absmach/fluxgroup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestInitProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Server
	cfg.OtelTracesEnabled = false
	cfg.OtelMetricsEnabled = false

	p, err := InitProvider(ctx, cfg, "instance-1")
	require.NoError(t, err)
	assert.Nil(t, p.tracer)
	assert.Nil(t, p.meter)
	assert.IsType(t, tracenoop.NewTracerProvider(), otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestSampler(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{ratio: -1, want: sdktrace.ParentBased(sdktrace.NeverSample()).Description()},
		{ratio: 0, want: sdktrace.ParentBased(sdktrace.NeverSample()).Description()},
		{ratio: 0.25, want: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
		{ratio: 1, want: sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{ratio: 3, want: sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, sampler(tc.ratio).Description(), "ratio %v", tc.ratio)
	}
}
