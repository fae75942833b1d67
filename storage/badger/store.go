// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Store = (*Store)(nil)

// Key prefixes separating the logical stores inside one database.
const (
	keyPrefix     = "k/"
	memberPrefix  = "m/"
	channelPrefix = "c/"
	probePrefix   = "p/"
	streamPrefix  = "s/"
	seqPrefix     = "q/"

	separator = "\x00"
)

// maxConflictRetries bounds optimistic transaction retries for updates of
// existing entries.
const maxConflictRetries = 5

// Store is the composite BadgerDB store. It coordinates consumers running
// inside a single process that share the database handle.
type Store struct {
	db *badger.DB

	keys     *KeyStore
	members  *MemberStore
	channels *ChannelStore
	streams  *StreamStore

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir      string        // Directory for BadgerDB data
	InMemory bool          // Keep all data in memory; Dir is ignored
	GCPeriod time.Duration // Value log GC period; defaults to 5 minutes
}

// New creates a new BadgerDB-backed store.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable BadgerDB's internal logging
	// Coordination data is short-lived; durability of every write is not required.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		keys:     NewKeyStore(db),
		members:  NewMemberStore(db),
		channels: NewChannelStore(db, logger),
		streams:  NewStreamStore(db),
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	period := cfg.GCPeriod
	if period <= 0 {
		period = 5 * time.Minute
	}
	if cfg.InMemory {
		close(s.gcDone)
	} else {
		go s.runGC(period)
	}

	return s, nil
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

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Signal GC goroutine to stop
	close(s.gcStopCh)
	<-s.gcDone

	s.channels.closeAll()
	seqErr := s.streams.release()

	return errors.Join(seqErr, s.db.Close())
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC(period time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Returns an error when nothing was rewritten, which is fine.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}

// update runs fn in a read-write transaction, retrying on conflicts.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// expiresAt converts ttl into Badger's unix-seconds deadline, rounding up
// so that sub-second TTLs do not expire immediately.
func expiresAt(ttl time.Duration) uint64 {
	deadline := time.Now().Add(ttl)
	secs := deadline.Unix()
	if deadline.Nanosecond() > 0 {
		secs++
	}
	return uint64(secs)
}
