// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import "errors"

// Per-delivery faults. Lock faults are reported with lock.ErrLockFault and
// registration faults with liveness.ErrRegistration.
var (
	ErrParse              = errors.New("failed to parse message")
	ErrValidation         = errors.New("message validation failed")
	ErrNotActive          = errors.New("consumer is not active")
	ErrTransform          = errors.New("failed to process message")
	ErrRecord             = errors.New("failed to record message")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrAlreadyStarted     = errors.New("consumer already started")
)
