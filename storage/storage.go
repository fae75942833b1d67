// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed       = errors.New("store closed")
	ErrUnavailable  = errors.New("backend unavailable")
	ErrInvalidTTL   = errors.New("ttl must be positive")
	ErrInvalidRange = errors.New("invalid stream range start")
)

// Store is the composite coordination backend. Every consumer of the group
// talks to the same Store instance (or to the same remote backend through
// its own client).
type Store interface {
	// Keys returns the plain key/value store used for locks.
	Keys() KeyStore

	// Members returns the membership store used for consumer liveness.
	Members() MemberStore

	// Channels returns the broadcast publish/subscribe store.
	Channels() ChannelStore

	// Streams returns the append-only log store.
	Streams() StreamStore

	// Close releases all backend resources.
	Close() error
}

// KeyStore provides string keys with optional expiry.
type KeyStore interface {
	// SetNX creates key with value only if it does not exist.
	// Returns true if the key was created.
	SetNX(ctx context.Context, key, value string) (bool, error)

	// Expire sets the time to live of an existing key.
	// Returns false if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Del removes key. Returns true if a key was removed.
	Del(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)
}

// AtomicKeyStore is implemented by key stores able to create a key together
// with its expiry in a single step.
type AtomicKeyStore interface {
	SetNXWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// MemberStore provides named sets whose members expire independently.
type MemberStore interface {
	// Add stores member in set. Returns true if the member was newly created,
	// false if an existing member was updated.
	Add(ctx context.Context, set, member, value string) (bool, error)

	// Expire sets the time to live of an existing member.
	// Returns false if the member does not exist; it is never recreated.
	Expire(ctx context.Context, set, member string, ttl time.Duration) (bool, error)

	// Exists reports whether member is present and not expired.
	Exists(ctx context.Context, set, member string) (bool, error)

	// Remove deletes member. Returns true if a member was removed.
	Remove(ctx context.Context, set, member string) (bool, error)

	// List returns the live members of set.
	List(ctx context.Context, set string) ([]string, error)
}

// ChannelStore provides fan-out broadcast. Every subscription registered at
// publish time receives every message; nothing is buffered for absent
// subscribers.
type ChannelStore interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers a subscription. The subscription is active when
	// Subscribe returns.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a live broadcast subscription.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription ends.
	Messages() <-chan *Message

	// Close ends the subscription.
	Close() error
}

// Message is a broadcast message as delivered to a subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// StreamStore provides append-only ordered logs.
type StreamStore interface {
	// Append adds an entry and returns its generated id. Ids are
	// monotonically increasing within a stream.
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)

	// Len returns the number of entries in stream.
	Len(ctx context.Context, stream string) (int64, error)

	// Range returns up to count entries starting at id start (inclusive).
	// An empty start reads from the beginning; count <= 0 means no limit.
	Range(ctx context.Context, stream, start string, count int64) ([]*Entry, error)
}

// Entry is a single stream entry.
type Entry struct {
	ID     string
	Fields map[string]string
}
