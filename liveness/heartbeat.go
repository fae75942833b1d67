// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package liveness

import (
	"context"
	"log/slog"
	"time"
)

// Heartbeat periodically refreshes a consumer's membership while the
// consumer considers itself active.
type Heartbeat struct {
	registry *Registry
	id       string
	active   func() bool
	interval time.Duration
	logger   *slog.Logger
}

// NewHeartbeat creates a heartbeat for id. active is consulted before every
// refresh.
func NewHeartbeat(registry *Registry, id string, active func() bool, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		registry: registry,
		id:       id,
		active:   active,
		interval: registry.cfg.Interval,
		logger:   logger,
	}
}

// Run refreshes on every tick until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.active() {
				h.logger.Debug("Consumer inactive, skipping heartbeat", slog.String("consumer_id", h.id))
				continue
			}
			h.registry.Refresh(ctx, h.id)
		}
	}
}
