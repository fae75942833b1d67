// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import "context"

// Handler bundles the per-message-kind operations a Consumer drives each
// delivery through.
type Handler[T any] interface {
	// Parse decodes a raw broadcast payload.
	Parse(payload []byte) (T, error)

	// Validate checks the required-field contract.
	Validate(msg T) error

	// Identify returns the identity used to derive the lock key.
	Identify(msg T) string

	// Process transforms msg on behalf of the consumer with consumerID.
	Process(ctx context.Context, msg T, consumerID string) (T, error)

	// Record appends the processed message to the processed log and
	// returns the new entry id.
	Record(ctx context.Context, msg T) (string, error)
}
