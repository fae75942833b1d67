// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	}, storetest.Options{TTL: 100 * time.Millisecond})
}

func TestStore_CloseEndsSubscriptions(t *testing.T) {
	s := New()
	sub, err := s.Channels().Subscribe(context.Background(), "ch")
	require.NoError(t, err)

	require.NoError(t, s.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)

	// Close is idempotent.
	assert.NoError(t, s.Close())
}

func TestChannelStore_SubscriptionEndsWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.Channels().Subscribe(ctx, "ch")
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Messages():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestMemberStore_AddKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemberStore()

	_, err := m.Add(ctx, "set", "a", "v1")
	require.NoError(t, err)
	ok, err := m.Expire(ctx, "set", "a", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	created, err := m.Add(ctx, "set", "a", "v2")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Eventually(t, func() bool {
		exists, _ := m.Exists(ctx, "set", "a")
		return !exists
	}, time.Second, 10*time.Millisecond)
}

func TestStreamStore_InvalidStart(t *testing.T) {
	_, err := NewStreamStore().Range(context.Background(), "s", "not-a-number", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidRange)
}
