// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/memory"
	"github.com/absmach/fluxgroup/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samples struct {
	mu     sync.Mutex
	values []float64
}

func (s *samples) RecordThroughput(_ context.Context, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
}

func (s *samples) get() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.values...)
}

func TestNew_DefaultInterval(t *testing.T) {
	r := New(nil, Config{Stream: "s"}, nil, nil)
	assert.Equal(t, DefaultInterval, r.interval)
}

func TestReporter_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	defer store.Close()
	exec := storage.NewExecutor(store, storage.BreakerConfig{}, testutil.Logger())

	for range 4 {
		_, err := store.Streams().Append(ctx, "processed", map[string]string{"message_id": "x"})
		require.NoError(t, err)
	}

	rec := &samples{}
	interval := 100 * time.Millisecond
	r := New(exec, Config{Stream: "processed", Interval: interval}, rec, testutil.Logger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(rec.get()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	first := rec.get()[0]
	assert.InDelta(t, 4/interval.Seconds(), first, 0.001)

	// Nothing appended since: the next sample reports only the delta.
	require.Eventually(t, func() bool {
		return len(rec.get()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, rec.get()[1])

	cancel()
	<-done
}
