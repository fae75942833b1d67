// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"maps"
	"sort"
	"strconv"
	"sync"

	"github.com/absmach/fluxgroup/storage"
)

var _ storage.StreamStore = (*StreamStore)(nil)

// StreamStore is an in-memory append-only log. Entry ids are decimal
// sequence numbers starting at 1.
type StreamStore struct {
	mu      sync.RWMutex
	streams map[string][]*storage.Entry
	seq     map[string]uint64
}

// NewStreamStore creates a new in-memory stream store.
func NewStreamStore() *StreamStore {
	return &StreamStore{
		streams: make(map[string][]*storage.Entry),
		seq:     make(map[string]uint64),
	}
}

// Append adds an entry to stream.
func (s *StreamStore) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[stream]++
	id := strconv.FormatUint(s.seq[stream], 10)
	s.streams[stream] = append(s.streams[stream], &storage.Entry{
		ID:     id,
		Fields: maps.Clone(fields),
	})
	return id, nil
}

// Len returns the number of entries in stream.
func (s *StreamStore) Len(ctx context.Context, stream string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.streams[stream])), nil
}

// Range returns entries starting at start.
func (s *StreamStore) Range(ctx context.Context, stream, start string, count int64) ([]*storage.Entry, error) {
	var from uint64
	if start != "" {
		n, err := strconv.ParseUint(start, 10, 64)
		if err != nil {
			return nil, storage.ErrInvalidRange
		}
		from = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.streams[stream]
	i := sort.Search(len(entries), func(i int) bool {
		id, _ := strconv.ParseUint(entries[i].ID, 10, 64)
		return id >= from
	})

	var result []*storage.Entry
	for ; i < len(entries); i++ {
		if count > 0 && int64(len(result)) >= count {
			break
		}
		e := entries[i]
		result = append(result, &storage.Entry{ID: e.ID, Fields: maps.Clone(e.Fields)})
	}
	return result, nil
}
