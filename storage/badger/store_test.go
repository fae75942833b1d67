// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{Dir: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	}, storetest.Options{TTL: time.Second, Wait: 5 * time.Second})
}

func TestStore_InMemory(t *testing.T) {
	store, err := New(Config{InMemory: true}, nil)
	require.NoError(t, err)
	defer store.Close()

	ok, err := store.Keys().SetNX(context.Background(), "k", "v")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Close(t *testing.T) {
	store := newTestStore(t)

	// Close should not error
	err := store.Close()
	assert.NoError(t, err)

	// Double close should be safe
	err = store.Close()
	assert.NoError(t, err)
}

func TestStreamStore_IDsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(Config{Dir: dir}, nil)
	require.NoError(t, err)
	first, err := store.Streams().Append(ctx, "processed", map[string]string{"message_id": "a"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = New(Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer store.Close()

	second, err := store.Streams().Append(ctx, "processed", map[string]string{"message_id": "b"})
	require.NoError(t, err)

	entries, err := store.Streams().Range(ctx, "processed", "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].ID)
	assert.Equal(t, second, entries[1].ID)
}

func TestExpiresAtRoundsUp(t *testing.T) {
	before := uint64(time.Now().Unix())
	deadline := expiresAt(100 * time.Millisecond)
	assert.GreaterOrEqual(t, deadline, before+1)
}
