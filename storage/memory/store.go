// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxgroup/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite in-memory store. Expired entries are removed
// lazily on access.
type Store struct {
	keys     *KeyStore
	members  *MemberStore
	channels *ChannelStore
	streams  *StreamStore

	mu     sync.Mutex
	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return NewWithLogger(nil)
}

// NewWithLogger creates a new in-memory store reporting dropped broadcast
// messages to logger.
func NewWithLogger(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		keys:     NewKeyStore(),
		members:  NewMemberStore(),
		channels: NewChannelStore(logger),
		streams:  NewStreamStore(),
	}
}

// Keys returns the key store.
func (s *Store) Keys() storage.KeyStore {
	return s.keys
}

// Members returns the member store.
func (s *Store) Members() storage.MemberStore {
	return s.members
}

// Channels returns the broadcast store.
func (s *Store) Channels() storage.ChannelStore {
	return s.channels
}

// Streams returns the stream store.
func (s *Store) Streams() storage.StreamStore {
	return s.streams
}

// Close ends all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.channels.closeAll()
	return nil
}

// value is a stored string with an optional deadline.
type value struct {
	data     string
	expireAt time.Time
}

func (v value) expired(now time.Time) bool {
	return !v.expireAt.IsZero() && !now.Before(v.expireAt)
}
