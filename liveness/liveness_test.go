// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package liveness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/memory"
	"github.com/absmach/fluxgroup/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExpire = errors.New("expire failed")

type failingMembers struct {
	storage.MemberStore
}

func (failingMembers) Expire(context.Context, string, string, time.Duration) (bool, error) {
	return false, errExpire
}

type failingStore struct {
	*memory.Store
}

func (s failingStore) Members() storage.MemberStore {
	return failingMembers{MemberStore: s.Store.Members()}
}

func newRegistry(t *testing.T, store storage.Store, cfg Config) *Registry {
	t.Helper()
	t.Cleanup(func() { _ = store.Close() })

	exec := storage.NewExecutor(store, storage.BreakerConfig{}, testutil.Logger())
	return NewRegistry(exec, cfg, testutil.Logger())
}

func TestNewRegistry_Defaults(t *testing.T) {
	r := newRegistry(t, memory.New(), Config{})
	assert.Equal(t, DefaultConfig(), r.Config())
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := newRegistry(t, store, DefaultConfig())

	require.NoError(t, r.Register(ctx, "c1"))
	require.NoError(t, r.Register(ctx, "c2"))

	active, err := r.IsActive(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = r.IsActive(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, active)

	members, err := r.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, members)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t, memory.New(), Config{TTL: time.Minute, Interval: time.Second})

	require.NoError(t, r.Register(ctx, "c1"))

	err := r.Register(ctx, "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistration)
	assert.ErrorContains(t, err, "already registered")

	// The first registration is left in place.
	active, err := r.IsActive(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRegistry_Rollback(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t, memory.New(), DefaultConfig())

	require.NoError(t, r.Register(ctx, "c1"))
	r.Rollback(ctx, "c1")

	active, err := r.IsActive(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, active)

	// The id can register again once rolled back.
	require.NoError(t, r.Register(ctx, "c1"))
}

func TestRegistry_RegisterExpires(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t, memory.New(), Config{TTL: 100 * time.Millisecond, Interval: 50 * time.Millisecond})

	require.NoError(t, r.Register(ctx, "c1"))

	assert.Eventually(t, func() bool {
		active, err := r.IsActive(ctx, "c1")
		return err == nil && !active
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistry_RegisterFailureRemovesMember(t *testing.T) {
	ctx := context.Background()
	store := failingStore{Store: memory.New()}
	r := newRegistry(t, store, DefaultConfig())

	err := r.Register(ctx, "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistration)
	assert.ErrorIs(t, err, errExpire)

	exists, err := store.Store.Members().Exists(ctx, DefaultSet, "c1")
	require.NoError(t, err)
	assert.False(t, exists, "member without expiry must not survive a failed registration")
}

func TestRegistry_RefreshDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t, memory.New(), Config{TTL: 100 * time.Millisecond, Interval: 50 * time.Millisecond})

	r.Refresh(ctx, "ghost")
	r.exec.Wait()

	active, err := r.IsActive(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestHeartbeat_KeepsMemberAlive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRegistry(t, memory.New(), Config{TTL: 200 * time.Millisecond, Interval: 40 * time.Millisecond})
	require.NoError(t, r.Register(ctx, "c1"))

	hb := NewHeartbeat(r, "c1", func() bool { return true }, testutil.Logger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hb.Run(ctx)
	}()

	time.Sleep(600 * time.Millisecond)
	active, err := r.IsActive(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, active)

	cancel()
	<-done
}

func TestHeartbeat_SkipsWhenInactive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRegistry(t, memory.New(), Config{TTL: 150 * time.Millisecond, Interval: 30 * time.Millisecond})
	require.NoError(t, r.Register(ctx, "c1"))

	var active atomic.Bool
	hb := NewHeartbeat(r, "c1", active.Load, testutil.Logger())
	go hb.Run(ctx)

	assert.Eventually(t, func() bool {
		ok, err := r.IsActive(ctx, "c1")
		return err == nil && !ok
	}, 2*time.Second, 20*time.Millisecond)

	// Turning the flag back on must not bring the expired member back.
	active.Store(true)
	time.Sleep(150 * time.Millisecond)
	ok, err := r.IsActive(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}
