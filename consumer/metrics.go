// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"time"
)

// Outcome is the result of a single delivery.
type Outcome int

const (
	// Processed means the message was transformed and recorded by this
	// consumer.
	Processed Outcome = iota
	// Skipped means another consumer holds the message lock.
	Skipped
	// Dropped means the delivery ended with a fault.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Skipped:
		return "skipped"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Metrics receives pipeline measurements.
type Metrics interface {
	RecordReceived(ctx context.Context, consumerID string)
	RecordOutcome(ctx context.Context, consumerID string, outcome Outcome, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordReceived(context.Context, string) {}

func (noopMetrics) RecordOutcome(context.Context, string, Outcome, time.Duration) {}
