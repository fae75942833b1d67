// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/fluxgroup/config"
	"github.com/absmach/fluxgroup/consumer"
	"github.com/absmach/fluxgroup/group"
	"github.com/absmach/fluxgroup/internal/wiring"
	"github.com/absmach/fluxgroup/liveness"
	"github.com/absmach/fluxgroup/lock"
	"github.com/absmach/fluxgroup/message"
	"github.com/absmach/fluxgroup/report"
	"github.com/absmach/fluxgroup/server/health"
	"github.com/absmach/fluxgroup/server/otel"
	"github.com/absmach/fluxgroup/storage"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := wiring.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	instanceID := uuid.NewString()
	slog.Info("Starting consumer group",
		"instance_id", instanceID,
		"storage", cfg.Storage.Type,
		"size", cfg.Group.Size,
		"channel", cfg.Group.Channel,
		"stream", cfg.Group.Stream,
		"health_enabled", cfg.Server.HealthEnabled,
		"log_level", cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := wiring.NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var provider *otel.Provider
	var metrics *otel.Metrics
	var tracer trace.Tracer

	if cfg.Server.MetricsEnabled {
		p, err := otel.InitProvider(ctx, cfg.Server, instanceID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		provider = p
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Server.MetricsAddr)

		if cfg.Server.OtelMetricsEnabled {
			m, err := otel.NewMetrics()
			if err != nil {
				slog.Error("Failed to create metrics", "error", err)
				os.Exit(1)
			}
			metrics = m
			slog.Info("OTel metrics enabled")
		}

		if cfg.Server.OtelTracesEnabled {
			tracer = oteltrace.Tracer("fluxgroup")
			slog.Info("Distributed tracing enabled", "sample_rate", cfg.Server.OtelTraceSampleRate)
		}
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	exec := storage.NewExecutor(store, wiring.BreakerConfig(cfg.Storage.Breaker), logger)
	defer exec.Wait()

	registry := liveness.NewRegistry(exec, liveness.Config{
		Set:      cfg.Liveness.Set,
		TTL:      cfg.Liveness.TTL,
		Interval: cfg.Liveness.HeartbeatInterval,
	}, logger)
	locker := lock.New(exec, lock.Config{TTL: cfg.Lock.TTL}, logger)
	handler := message.NewHandler(exec, cfg.Group.Stream)

	opts := []consumer.Option{consumer.WithTracer(tracer)}
	if metrics != nil {
		opts = append(opts, consumer.WithMetrics(metrics))
	}

	g, err := group.New(group.Config{
		Size:     cfg.Group.Size,
		Consumer: consumer.Config{Channel: cfg.Group.Channel},
	}, handler, exec, registry, locker, logger, opts...)
	if err != nil {
		slog.Error("Failed to create consumer group", "error", err)
		os.Exit(1)
	}

	if err := g.Start(ctx); err != nil {
		slog.Error("Failed to start consumer group", "error", err)
		cancel()
		g.Wait()
		os.Exit(1)
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	if cfg.Report.Enabled {
		var recorder report.Recorder
		if metrics != nil {
			recorder = metrics
		}
		reporter := report.New(exec, report.Config{
			Stream:   cfg.Group.Stream,
			Interval: cfg.Report.Interval,
		}, recorder, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter.Run(ctx)
		}()
	}

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, g, registry, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting health check server", "address", cfg.Server.HealthAddr)
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("Consumer group started", "consumers", g.Running())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		g.Wait()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.Server.ShutdownTimeout):
		slog.Warn("Shutdown timed out, in-flight messages may be left locked")
	}

	if provider != nil {
		otelShutdownCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := provider.Shutdown(otelShutdownCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		} else {
			slog.Info("OpenTelemetry shutdown complete")
		}
	}

	slog.Info("Consumer group stopped")
}
