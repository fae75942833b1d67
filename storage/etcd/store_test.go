// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/storetest"
	"github.com/absmach/fluxgroup/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedConfig(t *testing.T) EmbedConfig {
	t.Helper()
	return EmbedConfig{
		Name:       "test",
		DataDir:    t.TempDir(),
		ClientAddr: testutil.FreeAddr(t),
		PeerAddr:   testutil.FreeAddr(t),
	}
}

func TestStore(t *testing.T) {
	cfg := embedConfig(t)
	server, err := startEmbedded(cfg, testutil.Logger())
	require.NoError(t, err)
	defer server.Close()

	storetest.Run(t, func(t *testing.T) storage.Store {
		store, err := New(context.Background(), Config{
			Endpoints: []string{cfg.ClientAddr},
			Prefix:    "/storetest",
		}, testutil.Logger())
		require.NoError(t, err)
		return store
	}, storetest.Options{TTL: 2 * time.Second, Wait: 10 * time.Second})
}

func TestNew_Embedded(t *testing.T) {
	ctx := context.Background()
	cfg := embedConfig(t)

	store, err := New(ctx, Config{Embedded: &cfg}, testutil.Logger())
	require.NoError(t, err)

	ok, err := store.Keys().SetNX(ctx, "lock:x", "owner")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestNew_NoEndpoints(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestStreamStore_InvalidStart(t *testing.T) {
	s := &StreamStore{}
	_, err := s.Range(context.Background(), "processed", "1-0", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidRange)
}

func TestLeaseTTL(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want int64
	}{
		{ttl: 100 * time.Millisecond, want: 1},
		{ttl: time.Second, want: 1},
		{ttl: 1500 * time.Millisecond, want: 2},
		{ttl: 30 * time.Second, want: 30},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, leaseTTL(tc.ttl), tc.ttl.String())
	}
}
