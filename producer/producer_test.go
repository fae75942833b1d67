// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/message"
	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/memory"
	"github.com/absmach/fluxgroup/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPublisher(t *testing.T, cfg Config) (*Publisher, storage.Subscription) {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	sub, err := store.Channels().Subscribe(context.Background(), cfg.Channel)
	require.NoError(t, err)

	exec := storage.NewExecutor(store, storage.BreakerConfig{}, testutil.Logger())
	p, err := New(exec, cfg, testutil.Logger())
	require.NoError(t, err)
	return p, sub
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{BatchSize: 0}, nil)
	assert.Error(t, err)

	_, err = New(nil, Config{BatchSize: 1, MinPause: time.Second, MaxPause: time.Millisecond}, nil)
	assert.Error(t, err)
}

func TestPublisher_PublishBatch(t *testing.T) {
	cfg := DefaultConfig()
	p, sub := newPublisher(t, cfg)

	n, err := p.PublishBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	seen := make(map[string]bool)
	for range 10 {
		msg := <-sub.Messages()
		var m message.Message
		require.NoError(t, json.Unmarshal(msg.Payload, &m))
		_, err := uuid.Parse(m.ID)
		require.NoError(t, err)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 10, "every message gets a fresh id")
}

func TestPublisher_RunStopsAfterDuration(t *testing.T) {
	cfg := Config{
		Channel:   "produced",
		BatchSize: 5,
		Duration:  300 * time.Millisecond,
		MinPause:  10 * time.Millisecond,
		MaxPause:  20 * time.Millisecond,
	}
	p, _ := newPublisher(t, cfg)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.Batches)
	assert.Equal(t, stats.Batches*cfg.BatchSize, stats.Messages)
	assert.GreaterOrEqual(t, stats.Elapsed, cfg.Duration)
	assert.Less(t, stats.Elapsed, 2*time.Second)
}

func TestPublisher_RateLimit(t *testing.T) {
	cfg := Config{
		Channel:   "limited",
		BatchSize: 10,
		Rate:      10,
	}
	p, _ := newPublisher(t, cfg)

	ctx := context.Background()
	start := time.Now()
	_, err := p.PublishBatch(ctx, 10)
	require.NoError(t, err)
	_, err = p.PublishBatch(ctx, 5)
	require.NoError(t, err)

	// The first 10 use the burst; the next 5 wait about 100ms each.
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestPublisher_Pause(t *testing.T) {
	p := &Publisher{cfg: Config{MinPause: 100 * time.Millisecond, MaxPause: 500 * time.Millisecond}}
	for range 50 {
		d := p.pause()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 500*time.Millisecond)
	}

	p.cfg.MaxPause = p.cfg.MinPause
	assert.Equal(t, 100*time.Millisecond, p.pause())
}
