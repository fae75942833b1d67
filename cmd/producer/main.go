// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/fluxgroup/config"
	"github.com/absmach/fluxgroup/internal/wiring"
	"github.com/absmach/fluxgroup/producer"
	"github.com/absmach/fluxgroup/storage"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	indefinite := flag.Bool("indefinite", false, "Publish until interrupted")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := wiring.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := wiring.NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	exec := storage.NewExecutor(store, wiring.BreakerConfig(cfg.Storage.Breaker), logger)

	pcfg := producer.Config{
		Channel:   cfg.Group.Channel,
		BatchSize: cfg.Producer.BatchSize,
		Duration:  cfg.Producer.Duration,
		MinPause:  cfg.Producer.MinPause,
		MaxPause:  cfg.Producer.MaxPause,
		Rate:      cfg.Producer.Rate,
	}
	if *indefinite || cfg.Producer.Indefinite {
		pcfg.Duration = 0
	}

	p, err := producer.New(exec, pcfg, logger)
	if err != nil {
		slog.Error("Failed to create producer", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting producer",
		"channel", pcfg.Channel,
		"batch_size", pcfg.BatchSize,
		"duration", pcfg.Duration,
		"rate", pcfg.Rate)

	stats, err := p.Run(ctx)
	if err != nil {
		slog.Error("Producer stopped with error", "error", err, "messages", stats.Messages)
		os.Exit(1)
	}

	slog.Info("Throughput", "messages_per_second", float64(stats.Messages)/stats.Elapsed.Seconds())
}
