// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package report periodically logs processed-log throughput.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fluxgroup/storage"
)

// DefaultInterval is the reporting period.
const DefaultInterval = 5 * time.Second

// Recorder receives throughput samples in messages per second.
type Recorder interface {
	RecordThroughput(ctx context.Context, perSecond float64)
}

// Config configures the reporter.
type Config struct {
	Stream   string
	Interval time.Duration
}

// Reporter samples the length of the processed log.
type Reporter struct {
	exec     *storage.Executor
	stream   string
	interval time.Duration
	recorder Recorder
	logger   *slog.Logger
}

// New creates a reporter. recorder may be nil.
func New(exec *storage.Executor, cfg Config, recorder Recorder, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Reporter{
		exec:     exec,
		stream:   cfg.Stream,
		interval: cfg.Interval,
		recorder: recorder,
		logger:   logger,
	}
}

// Run reports on every tick until ctx is done. The first sample counts
// everything already in the log.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := storage.Call(ctx, r.exec, "report", func(ctx context.Context, s storage.Store) (int64, error) {
				return s.Streams().Len(ctx, r.stream)
			})
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("Failed to read processed log length", slog.String("error", err.Error()))
				}
				continue
			}

			rate := float64(n-last) / r.interval.Seconds()
			last = n

			r.logger.Info("Throughput",
				slog.String("stream", r.stream),
				slog.Int64("total", n),
				slog.Float64("messages_per_second", rate))
			if r.recorder != nil {
				r.recorder.RecordThroughput(ctx, rate)
			}
		}
	}
}
