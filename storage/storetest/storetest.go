// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storetest provides a behavioural test suite shared by all
// storage.Store implementations.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Options tunes the suite to backend timing characteristics.
type Options struct {
	// TTL is the expiry used by expiration tests. Backends with second
	// granularity need at least a second.
	TTL time.Duration

	// Wait bounds how long the suite waits for expiry and delivery.
	Wait time.Duration
}

// Factory returns a store ready for use. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory, opts Options) {
	if opts.TTL <= 0 {
		opts.TTL = 200 * time.Millisecond
	}
	if opts.Wait <= 0 {
		opts.Wait = opts.TTL*5 + time.Second
	}

	t.Run("Keys", func(t *testing.T) { testKeys(t, newStore, opts) })
	t.Run("KeysExpire", func(t *testing.T) { testKeysExpire(t, newStore, opts) })
	t.Run("KeysAtomic", func(t *testing.T) { testKeysAtomic(t, newStore, opts) })
	t.Run("KeysConcurrentSetNX", func(t *testing.T) { testKeysConcurrent(t, newStore) })
	t.Run("Members", func(t *testing.T) { testMembers(t, newStore) })
	t.Run("MembersExpire", func(t *testing.T) { testMembersExpire(t, newStore, opts) })
	t.Run("Channels", func(t *testing.T) { testChannels(t, newStore, opts) })
	t.Run("ChannelsNoBuffering", func(t *testing.T) { testChannelsNoBuffering(t, newStore) })
	t.Run("Streams", func(t *testing.T) { testStreams(t, newStore) })
}

func open(t *testing.T, newStore Factory) storage.Store {
	t.Helper()

	s := newStore(t)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func unique(name string) string {
	return "storetest:" + name + ":" + uuid.NewString()
}

func testKeys(t *testing.T, newStore Factory, opts Options) {
	s := open(t, newStore)
	ctx := context.Background()
	key := unique("key")

	ok, err := s.Keys().SetNX(ctx, key, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Keys().SetNX(ctx, key, "b")
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX must not overwrite")

	exists, err := s.Keys().Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := s.Keys().Del(ctx, key)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Keys().Del(ctx, key)
	require.NoError(t, err)
	assert.False(t, removed)

	exists, err = s.Keys().Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = s.Keys().Expire(ctx, key, opts.TTL)
	require.NoError(t, err)
	assert.False(t, ok, "expire on a missing key")
}

func testKeysExpire(t *testing.T, newStore Factory, opts Options) {
	s := open(t, newStore)
	ctx := context.Background()
	key := unique("expire")

	ok, err := s.Keys().SetNX(ctx, key, "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Keys().Expire(ctx, key, opts.TTL)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		exists, err := s.Keys().Exists(ctx, key)
		return err == nil && !exists
	}, opts.Wait, 50*time.Millisecond)

	ok, err = s.Keys().SetNX(ctx, key, "b")
	require.NoError(t, err)
	assert.True(t, ok, "key must be creatable after expiry")
}

func testKeysAtomic(t *testing.T, newStore Factory, opts Options) {
	s := open(t, newStore)
	atomicKeys, ok := s.Keys().(storage.AtomicKeyStore)
	if !ok {
		t.Skip("key store has no atomic create-with-expiry")
	}

	ctx := context.Background()
	key := unique("atomic")

	created, err := atomicKeys.SetNXWithTTL(ctx, key, "a", opts.TTL)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = atomicKeys.SetNXWithTTL(ctx, key, "b", opts.TTL)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Eventually(t, func() bool {
		exists, err := s.Keys().Exists(ctx, key)
		return err == nil && !exists
	}, opts.Wait, 50*time.Millisecond)
}

func testKeysConcurrent(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	key := unique("race")

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.Keys().SetNX(ctx, key, "x")
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func testMembers(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	set := unique("set")

	created, err := s.Members().Add(ctx, set, "m1", "active")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Members().Add(ctx, set, "m1", "active")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.Members().Add(ctx, set, "m2", "active")
	require.NoError(t, err)

	exists, err := s.Members().Exists(ctx, set, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	members, err := s.Members().List(ctx, set)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, members)

	removed, err := s.Members().Remove(ctx, set, "m1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Members().Remove(ctx, set, "m1")
	require.NoError(t, err)
	assert.False(t, removed)

	exists, err = s.Members().Exists(ctx, set, "m1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testMembersExpire(t *testing.T, newStore Factory, opts Options) {
	s := open(t, newStore)
	ctx := context.Background()
	set := unique("liveness")

	ok, err := s.Members().Expire(ctx, set, "ghost", opts.TTL)
	require.NoError(t, err)
	assert.False(t, ok, "expire must not create a member")

	_, err = s.Members().Add(ctx, set, "m1", "active")
	require.NoError(t, err)

	ok, err = s.Members().Expire(ctx, set, "m1", opts.TTL)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		exists, err := s.Members().Exists(ctx, set, "m1")
		return err == nil && !exists
	}, opts.Wait, 50*time.Millisecond)

	ok, err = s.Members().Expire(ctx, set, "m1", opts.TTL)
	require.NoError(t, err)
	assert.False(t, ok, "expired member must not be resurrected")

	members, err := s.Members().List(ctx, set)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testChannels(t *testing.T, newStore Factory, opts Options) {
	s := open(t, newStore)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := unique("channel")
	other := unique("other")

	sub1, err := s.Channels().Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := s.Channels().Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, s.Channels().Publish(ctx, other, []byte("ignored")))
	require.NoError(t, s.Channels().Publish(ctx, channel, []byte("hello")))

	for _, sub := range []storage.Subscription{sub1, sub2} {
		select {
		case msg, ok := <-sub.Messages():
			require.True(t, ok)
			assert.Equal(t, channel, msg.Channel)
			assert.Equal(t, "hello", string(msg.Payload))
		case <-time.After(opts.Wait):
			t.Fatal("subscriber did not receive the broadcast")
		}
	}

	require.NoError(t, sub1.Close())
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub1.Messages():
			return !ok
		default:
			return false
		}
	}, opts.Wait, 10*time.Millisecond)
}

func testChannelsNoBuffering(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := unique("unbuffered")
	require.NoError(t, s.Channels().Publish(ctx, channel, []byte("early")))

	sub, err := s.Channels().Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Channels().Publish(ctx, channel, []byte("late")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "late", string(msg.Payload), "messages published before subscribing must not be delivered")
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not receive the broadcast")
	}
}

func testStreams(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	stream := unique("stream")

	n, err := s.Streams().Len(ctx, stream)
	require.NoError(t, err)
	assert.Zero(t, n)

	var ids []string
	for _, v := range []string{"a", "b", "c"} {
		id, err := s.Streams().Append(ctx, stream, map[string]string{"message_id": v})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}

	n, err = s.Streams().Len(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	entries, err := s.Streams().Range(ctx, stream, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID)
	}
	assert.Equal(t, "a", entries[0].Fields["message_id"])
	assert.Equal(t, "c", entries[2].Fields["message_id"])

	entries, err = s.Streams().Range(ctx, stream, ids[1], 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Fields["message_id"])

	entries, err = s.Streams().Range(ctx, stream, "", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
