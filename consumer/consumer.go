// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package consumer implements the per-consumer message pipeline. Every
// consumer of a group receives every broadcast message; the per-message lock
// makes sure only one of them processes it.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxgroup/liveness"
	"github.com/absmach/fluxgroup/lock"
	"github.com/absmach/fluxgroup/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultChannel is the broadcast channel producers publish to.
const DefaultChannel = "messages:published"

const tracerName = "github.com/absmach/fluxgroup/consumer"

// Config configures a single consumer.
type Config struct {
	// Channel is the broadcast channel to subscribe to.
	Channel string
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Channel: DefaultChannel,
	}
}

// Status is a point-in-time view of a consumer.
type Status struct {
	ID      string `json:"id"`
	Active  bool   `json:"active"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Option configures optional consumer dependencies.
type Option func(*options)

type options struct {
	id      string
	metrics Metrics
	tracer  trace.Tracer
}

// WithID sets the consumer id instead of a generated one.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer used for delivery spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Consumer drives broadcast deliveries through a Handler.
type Consumer[T any] struct {
	id       string
	cfg      Config
	handler  Handler[T]
	exec     *storage.Executor
	registry *liveness.Registry
	locker   *lock.Locker
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer

	// active is written only by CheckActive and by Start.
	active  atomic.Bool
	running atomic.Bool
	started atomic.Bool

	mu  sync.Mutex
	err error

	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a consumer with a fresh random id.
func New[T any](cfg Config, handler Handler[T], exec *storage.Executor, registry *liveness.Registry, locker *lock.Locker, logger *slog.Logger, opts ...Option) *Consumer[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}

	o := options{
		id:      uuid.NewString(),
		metrics: noopMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Consumer[T]{
		id:       o.id,
		cfg:      cfg,
		handler:  handler,
		exec:     exec,
		registry: registry,
		locker:   locker,
		logger:   logger.With(slog.String("consumer_id", o.id)),
		metrics:  o.metrics,
		tracer:   o.tracer,
	}
}

// ID returns the consumer id.
func (c *Consumer[T]) ID() string {
	return c.id
}

// Active reports the cached liveness flag.
func (c *Consumer[T]) Active() bool {
	return c.active.Load()
}

// Running reports whether the delivery loop is running.
func (c *Consumer[T]) Running() bool {
	return c.running.Load()
}

// Err returns the reason the delivery loop stopped, if it stopped on its
// own.
func (c *Consumer[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Status returns the consumer status.
func (c *Consumer[T]) Status() Status {
	st := Status{
		ID:      c.id,
		Active:  c.active.Load(),
		Running: c.running.Load(),
	}
	if err := c.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Start registers the consumer, subscribes to the broadcast channel and
// starts the delivery loop and the heartbeat. Both run until ctx is done or
// the subscription is torn down. A registration failure is returned as is;
// a subscribe failure rolls the registration back.
func (c *Consumer[T]) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := c.registry.Register(ctx, c.id); err != nil {
		return err
	}
	c.active.Store(true)

	sub, err := c.exec.Subscribe(ctx, c.cfg.Channel)
	if err != nil {
		c.active.Store(false)
		c.registry.Rollback(ctx, c.id)
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Channel, err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hb := liveness.NewHeartbeat(c.registry, c.id, c.active.Load, c.logger)

	c.running.Store(true)
	c.loops.Add(2)
	go func() {
		defer c.loops.Done()
		hb.Run(hbCtx)
	}()
	go func() {
		defer c.loops.Done()
		defer stopHeartbeat()
		c.deliver(ctx, sub)
	}()

	c.logger.Info("Consumer started", slog.String("channel", c.cfg.Channel))
	return nil
}

// Wait blocks until the delivery loop, the heartbeat and all in-flight
// deliveries have finished.
func (c *Consumer[T]) Wait() {
	c.loops.Wait()
	c.inflight.Wait()
}

func (c *Consumer[T]) deliver(ctx context.Context, sub storage.Subscription) {
	defer c.running.Store(false)
	defer sub.Close()

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					c.teardown(ErrSubscriptionClosed)
				}
				return
			}
			if !c.active.Load() {
				c.teardown(ErrNotActive)
				return
			}

			c.inflight.Add(1)
			go func(payload []byte) {
				defer c.inflight.Done()
				_, _ = c.Handle(ctx, payload)
			}(msg.Payload)
		}
	}
}

func (c *Consumer[T]) teardown(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()

	c.logger.Error("Consumer subscription torn down", slog.String("error", err.Error()))
}

// CheckActive queries the registry and caches the result in the active
// flag. On a backend error the flag is left unchanged.
func (c *Consumer[T]) CheckActive(ctx context.Context) (bool, error) {
	active, err := c.registry.IsActive(ctx, c.id)
	if err != nil {
		return false, err
	}
	c.active.Store(active)
	return active, nil
}

// Handle runs one payload through the pipeline. Faults are logged here and
// returned for callers that want them.
func (c *Consumer[T]) Handle(ctx context.Context, payload []byte) (Outcome, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "consumer.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("consumer.id", c.id),
			attribute.String("messaging.destination", c.cfg.Channel),
		))
	defer span.End()

	c.metrics.RecordReceived(ctx, c.id)

	outcome, msgID, err := c.handle(ctx, payload)

	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if msgID != "" {
		span.SetAttributes(attribute.String("message.id", msgID))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logFault(payload, msgID, err)
	}
	c.metrics.RecordOutcome(ctx, c.id, outcome, time.Since(start))

	return outcome, err
}

func (c *Consumer[T]) handle(ctx context.Context, payload []byte) (Outcome, string, error) {
	msg, err := c.handler.Parse(payload)
	if err != nil {
		return Dropped, "", fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := c.handler.Validate(msg); err != nil {
		return Dropped, "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	msgID := c.handler.Identify(msg)

	// An expired consumer still races for this message; the flag only
	// gates the next delivery.
	active, err := c.CheckActive(ctx)
	if err != nil {
		return Dropped, msgID, fmt.Errorf("liveness check failed: %w", err)
	}
	if !active {
		c.logger.Warn("Consumer no longer registered", slog.String("message_id", msgID))
	}

	key := lock.Key(msgID)
	acquired, err := c.locker.Acquire(ctx, key, c.id)
	if err != nil {
		return Dropped, msgID, err
	}
	if !acquired {
		c.logger.Debug("Message locked by another consumer", slog.String("message_id", msgID))
		return Skipped, msgID, nil
	}

	// From here on a failure leaves the lock to expire on its own.
	processed, err := c.handler.Process(ctx, msg, c.id)
	if err != nil {
		return Dropped, msgID, fmt.Errorf("%w: %w", ErrTransform, err)
	}

	entryID, err := c.handler.Record(ctx, processed)
	if err != nil {
		return Dropped, msgID, fmt.Errorf("%w: %w", ErrRecord, err)
	}
	if entryID == "" {
		return Dropped, msgID, fmt.Errorf("%w: empty entry id", ErrRecord)
	}

	if _, err := c.locker.Release(ctx, key); err != nil {
		c.logger.Warn("Failed to release lock",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}

	c.logger.Debug("Message processed",
		slog.String("message_id", msgID),
		slog.String("entry_id", entryID))
	return Processed, msgID, nil
}

func (c *Consumer[T]) logFault(payload []byte, msgID string, err error) {
	attrs := []any{slog.String("error", err.Error())}
	if msgID != "" {
		attrs = append(attrs, slog.String("message_id", msgID))
	}

	switch {
	case errors.Is(err, ErrParse):
		c.logger.Warn("Dropping unparsable message", append(attrs, slog.String("payload", string(payload)))...)
	case errors.Is(err, ErrValidation):
		c.logger.Warn("Dropping invalid message", append(attrs, slog.String("payload", string(payload)))...)
	default:
		c.logger.Error("Message processing failed", attrs...)
	}
}
