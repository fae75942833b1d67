// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/absmach/fluxgroup/storage"
	goredis "github.com/redis/go-redis/v9"
)

var _ storage.StreamStore = (*StreamStore)(nil)

// StreamStore implements storage.StreamStore with Redis streams.
type StreamStore struct {
	client *goredis.Client
}

// Append runs XADD with an auto-generated id.
func (s *StreamStore) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

// Len runs XLEN.
func (s *StreamStore) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.XLen(ctx, stream).Result()
}

// Range runs XRANGE from start (inclusive) to the end of the stream.
func (s *StreamStore) Range(ctx context.Context, stream, start string, count int64) ([]*storage.Entry, error) {
	if start == "" {
		start = "-"
	}

	var (
		msgs []goredis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, stream, start, "+", count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, stream, start, "+").Result()
	}
	if err != nil {
		if strings.Contains(err.Error(), "Invalid stream ID") {
			return nil, fmt.Errorf("%w: %s", storage.ErrInvalidRange, start)
		}
		return nil, err
	}

	entries := make([]*storage.Entry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			fields[k] = fmt.Sprint(v)
		}
		entries = append(entries, &storage.Entry{ID: m.ID, Fields: fields})
	}
	return entries, nil
}
