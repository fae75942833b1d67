// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package group builds and runs a fixed-size pool of consumers sharing one
// broadcast channel. The per-message lock is the only deduplication.
package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fluxgroup/consumer"
	"github.com/absmach/fluxgroup/liveness"
	"github.com/absmach/fluxgroup/lock"
	"github.com/absmach/fluxgroup/storage"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidSize is returned for a pool size below one.
var ErrInvalidSize = errors.New("group size must be at least 1")

// Config configures a group.
type Config struct {
	Size     int
	Consumer consumer.Config
}

// DefaultConfig returns the default group configuration.
func DefaultConfig() Config {
	return Config{
		Size:     5,
		Consumer: consumer.DefaultConfig(),
	}
}

// Group owns the consumers of one pool.
type Group[T any] struct {
	consumers []*consumer.Consumer[T]
	logger    *slog.Logger
}

// New builds cfg.Size consumers sharing handler and the coordination
// components.
func New[T any](cfg Config, handler consumer.Handler[T], exec *storage.Executor, registry *liveness.Registry, locker *lock.Locker, logger *slog.Logger, opts ...consumer.Option) (*Group[T], error) {
	if cfg.Size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, cfg.Size)
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Group[T]{
		consumers: make([]*consumer.Consumer[T], 0, cfg.Size),
		logger:    logger,
	}
	for range cfg.Size {
		g.consumers = append(g.consumers, consumer.New(cfg.Consumer, handler, exec, registry, locker, logger, opts...))
	}
	return g, nil
}

// Consumers returns the consumers of the group.
func (g *Group[T]) Consumers() []*consumer.Consumer[T] {
	return g.consumers
}

// Start starts every consumer concurrently. Consumers run until ctx is done.
// The first startup error is returned; consumers that did start keep running
// until ctx is done.
func (g *Group[T]) Start(ctx context.Context) error {
	var eg errgroup.Group
	for _, c := range g.consumers {
		eg.Go(func() error {
			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("consumer %s: %w", c.ID(), err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	g.logger.Info("Consumer group started", slog.Int("size", len(g.consumers)))
	return nil
}

// Wait blocks until every consumer has stopped.
func (g *Group[T]) Wait() {
	for _, c := range g.consumers {
		c.Wait()
	}
}

// Status returns the status of every consumer.
func (g *Group[T]) Status() []consumer.Status {
	statuses := make([]consumer.Status, 0, len(g.consumers))
	for _, c := range g.consumers {
		statuses = append(statuses, c.Status())
	}
	return statuses
}

// Running counts consumers whose delivery loop is running.
func (g *Group[T]) Running() int {
	n := 0
	for _, c := range g.consumers {
		if c.Running() {
			n++
		}
	}
	return n
}
