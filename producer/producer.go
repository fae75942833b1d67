// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package producer publishes batches of fresh messages to the broadcast
// channel. It is used for load generation and end-to-end checks.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/absmach/fluxgroup/consumer"
	"github.com/absmach/fluxgroup/message"
	"github.com/absmach/fluxgroup/storage"
	"golang.org/x/time/rate"
)

// Config configures the publisher.
type Config struct {
	Channel   string
	BatchSize int

	// Duration bounds the run. Zero runs until the context is done.
	Duration time.Duration

	// MinPause and MaxPause bound the random pause between batches.
	MinPause time.Duration
	MaxPause time.Duration

	// Rate caps messages per second. Zero disables the cap.
	Rate float64
}

// DefaultConfig returns the default producer configuration.
func DefaultConfig() Config {
	return Config{
		Channel:   consumer.DefaultChannel,
		BatchSize: 100,
		Duration:  time.Minute,
		MinPause:  100 * time.Millisecond,
		MaxPause:  500 * time.Millisecond,
	}
}

// Stats summarises a run.
type Stats struct {
	Messages int
	Batches  int
	Elapsed  time.Duration
}

// Publisher publishes message batches.
type Publisher struct {
	exec    *storage.Executor
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a publisher.
func New(exec *storage.Executor, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.BatchSize < 1 {
		return nil, errors.New("batch size must be at least 1")
	}
	if cfg.MaxPause < cfg.MinPause {
		return nil, errors.New("max pause must not be below min pause")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultConfig().Channel
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{
		exec:   exec,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.Rate > 0 {
		burst := cfg.BatchSize
		if int(cfg.Rate) > burst {
			burst = int(cfg.Rate)
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return p, nil
}

// PublishBatch publishes n fresh messages and returns how many were sent.
func (p *Publisher) PublishBatch(ctx context.Context, n int) (int, error) {
	for i := range n {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return i, err
			}
		}

		data, err := message.New().Encode()
		if err != nil {
			return i, err
		}
		err = p.exec.Do(ctx, "publish", func(ctx context.Context, s storage.Store) error {
			return s.Channels().Publish(ctx, p.cfg.Channel, data)
		})
		if err != nil {
			return i, fmt.Errorf("failed to publish: %w", err)
		}
	}
	return n, nil
}

// Run publishes batches until the configured duration elapses or ctx is
// done. Stats are returned even when publishing fails.
func (p *Publisher) Run(ctx context.Context) (stats Stats, err error) {
	if p.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Duration)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		stats.Elapsed = time.Since(start)
		p.logger.Info("Producer finished",
			slog.Int("messages", stats.Messages),
			slog.Int("batches", stats.Batches),
			slog.Duration("elapsed", stats.Elapsed))
	}()

	for ctx.Err() == nil {
		n, err := p.PublishBatch(ctx, p.cfg.BatchSize)
		stats.Messages += n
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, err
		}
		stats.Batches++
		p.logger.Debug("Batch sent", slog.Int("size", n))

		select {
		case <-ctx.Done():
		case <-time.After(p.pause()):
		}
	}
	return stats, nil
}

func (p *Publisher) pause() time.Duration {
	span := p.cfg.MaxPause - p.cfg.MinPause
	if span <= 0 {
		return p.cfg.MinPause
	}
	return p.cfg.MinPause + rand.N(span)
}
