// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package lock implements a per-key mutual exclusion lock with TTL based
// auto-release on top of a storage.KeyStore.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fluxgroup/storage"
)

// DefaultTTL bounds how long a crashed holder can keep a key locked.
const DefaultTTL = 30 * time.Second

// ErrLockFault is returned when a lock key was created but its expiry could
// not be set.
var ErrLockFault = errors.New("lock fault")

// Key returns the lock key for a message identity.
func Key(identity string) string {
	return fmt.Sprintf("lock:%s", identity)
}

// Config configures a Locker.
type Config struct {
	TTL time.Duration
}

// Locker acquires and releases lock keys.
type Locker struct {
	exec   *storage.Executor
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a locker.
func New(exec *storage.Executor, cfg Config, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Locker{
		exec:   exec,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

// TTL returns the lock duration.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// Acquire tries to take key on behalf of owner.
//
// It returns (true, nil) when the lock was taken, (false, nil) when another
// holder has it and (false, err) with err wrapping ErrLockFault otherwise.
func (l *Locker) Acquire(ctx context.Context, key, owner string) (bool, error) {
	acquired, err := storage.Call(ctx, l.exec, "lock acquire", func(ctx context.Context, s storage.Store) (bool, error) {
		if keys, ok := s.Keys().(storage.AtomicKeyStore); ok {
			return keys.SetNXWithTTL(ctx, key, owner, l.ttl)
		}
		return l.acquireTwoStep(ctx, s.Keys(), key, owner)
	})
	if err != nil {
		if errors.Is(err, ErrLockFault) {
			return false, err
		}
		return false, fmt.Errorf("%w: %s: %w", ErrLockFault, key, err)
	}
	return acquired, nil
}

// acquireTwoStep creates the key and then sets its expiry. When the expiry
// step fails the key is deleted so it cannot outlive its holder.
func (l *Locker) acquireTwoStep(ctx context.Context, keys storage.KeyStore, key, owner string) (bool, error) {
	created, err := keys.SetNX(ctx, key, owner)
	if err != nil || !created {
		return false, err
	}

	ok, err := keys.Expire(ctx, key, l.ttl)
	if err == nil && ok {
		return true, nil
	}
	if err == nil {
		err = errors.New("key vanished before its expiry was set")
	}

	if _, derr := keys.Del(ctx, key); derr != nil {
		l.logger.Error("Failed to delete lock key without expiry",
			slog.String("key", key),
			slog.String("error", derr.Error()))
	}
	return false, fmt.Errorf("%w: %s: %w", ErrLockFault, key, err)
}

// Release deletes key. It reports whether a key was removed and performs no
// ownership check.
func (l *Locker) Release(ctx context.Context, key string) (bool, error) {
	return storage.Call(ctx, l.exec, "lock release", func(ctx context.Context, s storage.Store) (bool, error) {
		return s.Keys().Del(ctx, key)
	})
}
