// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breaker guarding backend calls.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
	}
}

// Executor runs backend commands against a Store. It offers synchronous
// execution (Do, Call), fire-and-forget execution (Fire) and the long-lived
// broadcast subscription (Subscribe). Connection pooling is left to the
// backend client.
type Executor struct {
	store   Store
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewExecutor creates an executor for store.
func NewExecutor(store Store, cfg BreakerConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		store:  store,
		logger: logger,
	}

	if cfg.Enabled {
		threshold := cfg.FailureThreshold
		if threshold < 1 {
			threshold = 1
		}
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "storage",
			MaxRequests: 1,
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("storage circuit breaker state changed",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	return e
}

// Store returns the underlying store.
func (e *Executor) Store() Store {
	return e.store
}

// Do executes fn synchronously.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context, s Store) error) error {
	_, err := Call(ctx, e, op, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}

// Fire executes fn in the background. Failures are logged and never
// returned to the caller.
func (e *Executor) Fire(ctx context.Context, op string, fn func(ctx context.Context, s Store) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Do(ctx, op, fn); err != nil {
			e.logger.Error("background storage command failed",
				slog.String("op", op),
				slog.String("error", err.Error()))
		}
	}()
}

// Subscribe opens a broadcast subscription on channel.
func (e *Executor) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return Call(ctx, e, "subscribe", func(ctx context.Context, s Store) (Subscription, error) {
		return s.Channels().Subscribe(ctx, channel)
	})
}

// Wait blocks until all fire-and-forget commands have finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Call executes fn synchronously and returns its result. Errors are wrapped
// with op; an open circuit breaker yields ErrUnavailable.
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context, s Store) (T, error)) (T, error) {
	var zero T

	if e.breaker == nil {
		v, err := fn(ctx, e.store)
		if err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		return v, nil
	}

	res, err := e.breaker.Execute(func() (interface{}, error) {
		return fn(ctx, e.store)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", op, ErrUnavailable)
		}
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	v, ok := res.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}
