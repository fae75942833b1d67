// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/absmach/fluxgroup/storage"
	"github.com/dgraph-io/badger/v4"
)

// seqBandwidth is the number of ids leased from a Badger sequence at once.
const seqBandwidth = 128

var _ storage.StreamStore = (*StreamStore)(nil)

// StreamStore implements storage.StreamStore using BadgerDB. Entry ids come
// from a per-stream Badger sequence, so they stay monotonic across restarts
// (gaps are possible).
//
// Key format: s/{stream}\x00{id:020d}
type StreamStore struct {
	db *badger.DB

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// NewStreamStore creates a new BadgerDB stream store.
func NewStreamStore(db *badger.DB) *StreamStore {
	return &StreamStore{
		db:   db,
		seqs: make(map[string]*badger.Sequence),
	}
}

// Append adds an entry to stream.
func (s *StreamStore) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}

	id, err := s.next(stream)
	if err != nil {
		return "", err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(stream, id), data)
	})
	if err != nil {
		return "", err
	}

	return strconv.FormatUint(id, 10), nil
}

// Len returns the number of entries in stream.
func (s *StreamStore) Len(ctx context.Context, stream string) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = streamKeyPrefix(stream)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Range returns entries starting at start.
func (s *StreamStore) Range(ctx context.Context, stream, start string, count int64) ([]*storage.Entry, error) {
	prefix := streamKeyPrefix(stream)
	seek := prefix
	if start != "" {
		id, err := strconv.ParseUint(start, 10, 64)
		if err != nil {
			return nil, storage.ErrInvalidRange
		}
		seek = entryKey(stream, id)
	}

	var entries []*storage.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.Valid(); it.Next() {
			if count > 0 && int64(len(entries)) >= count {
				break
			}

			item := it.Item()
			id, err := strconv.ParseUint(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt stream key %q: %w", item.Key(), err)
			}

			err = item.Value(func(val []byte) error {
				e := &storage.Entry{ID: strconv.FormatUint(id, 10)}
				if err := json.Unmarshal(val, &e.Fields); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}
		}
		return nil
	})

	return entries, err
}

// next returns the next id of stream. Ids start at 1.
func (s *StreamStore) next(stream string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.seqs[stream]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte(seqPrefix+stream), seqBandwidth)
		if err != nil {
			return 0, fmt.Errorf("failed to open stream sequence: %w", err)
		}
		s.seqs[stream] = seq
	}

	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (s *StreamStore) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence %s: %w", name, err))
		}
		delete(s.seqs, name)
	}
	return errors.Join(errs...)
}

func streamKeyPrefix(stream string) []byte {
	return []byte(streamPrefix + stream + separator)
}

func entryKey(stream string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", streamPrefix, stream, separator, id))
}
