// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/absmach/fluxgroup/storage"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var _ storage.StreamStore = (*StreamStore)(nil)

// StreamStore implements storage.StreamStore with one key per entry. An
// entry id is the revision that created it, so ids of a stream increase in
// append order.
type StreamStore struct {
	client *clientv3.Client
	prefix string
}

func (s *StreamStore) streamPrefix(stream string) string {
	return s.prefix + stream + "/"
}

// Append writes a new entry and returns its id.
func (s *StreamStore) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry: %w", err)
	}

	resp, err := s.client.Put(ctx, s.streamPrefix(stream)+uuid.NewString(), string(data))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.Header.Revision, 10), nil
}

// Len counts the entries of stream.
func (s *StreamStore) Len(ctx context.Context, stream string) (int64, error) {
	resp, err := s.client.Get(ctx, s.streamPrefix(stream), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Range returns up to count entries starting at id start, inclusive.
func (s *StreamStore) Range(ctx context.Context, stream, start string, count int64) ([]*storage.Entry, error) {
	var minRev int64
	if start != "" {
		rev, err := strconv.ParseInt(start, 10, 64)
		if err != nil || rev < 0 {
			return nil, fmt.Errorf("%w: %s", storage.ErrInvalidRange, start)
		}
		minRev = rev
	}

	opts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	}
	if minRev > 0 {
		opts = append(opts, clientv3.WithMinCreateRev(minRev))
	}
	if count > 0 {
		opts = append(opts, clientv3.WithLimit(count))
	}

	resp, err := s.client.Get(ctx, s.streamPrefix(stream), opts...)
	if err != nil {
		return nil, err
	}

	entries := make([]*storage.Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var fields map[string]string
		if err := json.Unmarshal(kv.Value, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode entry %d: %w", kv.CreateRevision, err)
		}
		entries = append(entries, &storage.Entry{
			ID:     strconv.FormatInt(kv.CreateRevision, 10),
			Fields: fields,
		})
	}
	return entries, nil
}
