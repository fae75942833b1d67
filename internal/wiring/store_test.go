// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wiring

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/config"
	"github.com/absmach/fluxgroup/storage/badger"
	"github.com/absmach/fluxgroup/storage/memory"
	"github.com/absmach/fluxgroup/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	logger := testutil.Logger()

	t.Run("memory", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Type = config.StorageMemory

		store, err := NewStore(ctx, cfg, logger)
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("badger in memory", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Type = config.StorageBadger
		cfg.Badger.InMemory = true

		store, err := NewStore(ctx, cfg, logger)
		require.NoError(t, err)
		defer store.Close()

		assert.IsType(t, &badger.Store{}, store)

		created, err := store.Keys().SetNX(ctx, "lock:a", "c1")
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("badger on disk", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Type = config.StorageBadger
		cfg.Badger.Dir = t.TempDir()

		store, err := NewStore(ctx, cfg, logger)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Type = "mongo"

		_, err := NewStore(ctx, cfg, logger)
		assert.ErrorContains(t, err, "unknown storage type")
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Redis.Addr = testutil.FreeAddr(t)
		cfg.Redis.DialTimeout = 200 * time.Millisecond

		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		_, err := NewStore(ctx, cfg, logger)
		assert.Error(t, err)
	})
}

func TestBreakerConfig(t *testing.T) {
	cfg := config.Default().Storage.Breaker
	got := BreakerConfig(cfg)

	assert.True(t, got.Enabled)
	assert.Equal(t, 5, got.FailureThreshold)
	assert.Equal(t, 10*time.Second, got.ResetTimeout)
}
