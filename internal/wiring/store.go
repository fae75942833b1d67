// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wiring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/fluxgroup/config"
	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/badger"
	"github.com/absmach/fluxgroup/storage/etcd"
	"github.com/absmach/fluxgroup/storage/memory"
	"github.com/absmach/fluxgroup/storage/redis"
)

// NewStore opens the coordination backend selected by cfg.Type.
func NewStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Type {
	case config.StorageMemory:
		logger.Info("Using in-memory storage")
		return memory.NewWithLogger(logger), nil

	case config.StorageBadger:
		store, err := badger.New(badger.Config{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
			GCPeriod: cfg.Badger.GCInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		logger.Info("Using BadgerDB storage",
			slog.String("dir", cfg.Badger.Dir),
			slog.Bool("in_memory", cfg.Badger.InMemory))
		return store, nil

	case config.StorageRedis:
		store, err := redis.New(ctx, redis.Config{
			Addr:        cfg.Redis.Addr,
			Username:    cfg.Redis.Username,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Using Redis storage", slog.String("addr", cfg.Redis.Addr))
		return store, nil

	case config.StorageEtcd:
		ecfg := etcd.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			Prefix:      cfg.Etcd.Prefix,
		}
		if cfg.Etcd.Embedded {
			ecfg.Embedded = &etcd.EmbedConfig{
				Name:       cfg.Etcd.Name,
				DataDir:    cfg.Etcd.DataDir,
				ClientAddr: cfg.Etcd.ClientAddr,
				PeerAddr:   cfg.Etcd.PeerAddr,
			}
		}
		store, err := etcd.New(ctx, ecfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		logger.Info("Using etcd storage",
			slog.Any("endpoints", cfg.Etcd.Endpoints),
			slog.Bool("embedded", cfg.Etcd.Embedded))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// BreakerConfig converts the configured circuit breaker settings.
func BreakerConfig(cfg config.BreakerConfig) storage.BreakerConfig {
	return storage.BreakerConfig{
		Enabled:          cfg.Enabled,
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
	}
}
