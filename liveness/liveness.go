// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package liveness tracks which consumers of a group are alive. Each
// consumer is a member of a shared set whose entry expires unless it is
// refreshed by a heartbeat.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fluxgroup/storage"
)

const (
	// DefaultSet is the membership set holding live consumer ids.
	DefaultSet = "consumer:ids"

	// ActiveValue is stored for every registered consumer.
	ActiveValue = "active"

	DefaultTTL      = 10 * time.Second
	DefaultInterval = 8 * time.Second
)

// ErrRegistration is returned when a consumer cannot be registered.
var ErrRegistration = errors.New("consumer registration failed")

// Config configures the registry.
type Config struct {
	Set      string
	TTL      time.Duration
	Interval time.Duration
}

// DefaultConfig returns the default liveness configuration.
func DefaultConfig() Config {
	return Config{
		Set:      DefaultSet,
		TTL:      DefaultTTL,
		Interval: DefaultInterval,
	}
}

// Registry registers consumers and answers liveness queries.
type Registry struct {
	exec   *storage.Executor
	cfg    Config
	logger *slog.Logger
}

// NewRegistry creates a registry. Zero config values fall back to defaults.
func NewRegistry(exec *storage.Executor, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Set == "" {
		cfg.Set = def.Set
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	return &Registry{
		exec:   exec,
		cfg:    cfg,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Register adds id to the membership set and starts its expiry. An id that
// is already a member is rejected and left untouched. If the expiry cannot
// be set the member is removed again, so a registration failure never
// leaves a member that cannot expire.
func (r *Registry) Register(ctx context.Context, id string) error {
	created, err := storage.Call(ctx, r.exec, "register", func(ctx context.Context, s storage.Store) (bool, error) {
		return s.Members().Add(ctx, r.cfg.Set, id, ActiveValue)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRegistration, id, err)
	}
	if !created {
		return fmt.Errorf("%w: %s: already registered", ErrRegistration, id)
	}

	ok, err := storage.Call(ctx, r.exec, "register expire", func(ctx context.Context, s storage.Store) (bool, error) {
		return s.Members().Expire(ctx, r.cfg.Set, id, r.cfg.TTL)
	})
	if err == nil && !ok {
		err = errors.New("member vanished before its expiry was set")
	}
	if err != nil {
		r.Rollback(ctx, id)
		return fmt.Errorf("%w: %s: %w", ErrRegistration, id, err)
	}

	r.logger.Info("Consumer registered",
		slog.String("consumer_id", id),
		slog.Duration("ttl", r.cfg.TTL))
	return nil
}

// Rollback removes a member whose registration could not be completed by
// the caller. Failures are logged; the member then lapses with its TTL.
func (r *Registry) Rollback(ctx context.Context, id string) {
	err := r.exec.Do(ctx, "register rollback", func(ctx context.Context, s storage.Store) error {
		_, err := s.Members().Remove(ctx, r.cfg.Set, id)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to roll back consumer registration",
			slog.String("consumer_id", id),
			slog.String("error", err.Error()))
	}
}

// IsActive reports whether id is still a member of the set.
func (r *Registry) IsActive(ctx context.Context, id string) (bool, error) {
	return storage.Call(ctx, r.exec, "is active", func(ctx context.Context, s storage.Store) (bool, error) {
		return s.Members().Exists(ctx, r.cfg.Set, id)
	})
}

// Refresh extends the expiry of id in the background. An expired member is
// not recreated. Failures are logged only.
func (r *Registry) Refresh(ctx context.Context, id string) {
	r.exec.Fire(ctx, "refresh", func(ctx context.Context, s storage.Store) error {
		ok, err := s.Members().Expire(ctx, r.cfg.Set, id, r.cfg.TTL)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.Warn("Heartbeat found consumer expired", slog.String("consumer_id", id))
		}
		return nil
	})
}

// Members lists the ids currently registered.
func (r *Registry) Members(ctx context.Context) ([]string, error) {
	return storage.Call(ctx, r.exec, "members", func(ctx context.Context, s storage.Store) ([]string, error) {
		return s.Members().List(ctx, r.cfg.Set)
	})
}
