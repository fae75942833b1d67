// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package group_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absmach/fluxgroup/consumer"
	"github.com/absmach/fluxgroup/group"
	"github.com/absmach/fluxgroup/liveness"
	"github.com/absmach/fluxgroup/lock"
	"github.com/absmach/fluxgroup/message"
	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/badger"
	"github.com/absmach/fluxgroup/storage/memory"
	"github.com/absmach/fluxgroup/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenMembers struct {
	storage.MemberStore
}

func (brokenMembers) Expire(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("expire failed")
}

type brokenStore struct {
	*memory.Store
}

func (s brokenStore) Members() storage.MemberStore {
	return brokenMembers{MemberStore: s.Store.Members()}
}

type fixture struct {
	store    storage.Store
	exec     *storage.Executor
	registry *liveness.Registry
	group    *group.Group[message.Message]
}

func newFixture(t *testing.T, store storage.Store, size int) *fixture {
	t.Helper()
	t.Cleanup(func() { _ = store.Close() })

	logger := testutil.Logger()
	exec := storage.NewExecutor(store, storage.DefaultBreakerConfig(), logger)
	registry := liveness.NewRegistry(exec, liveness.DefaultConfig(), logger)
	locker := lock.New(exec, lock.Config{TTL: time.Minute}, logger)

	cfg := group.DefaultConfig()
	cfg.Size = size
	g, err := group.New(cfg, message.NewHandler(exec, ""), exec, registry, locker, logger)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		exec:     exec,
		registry: registry,
		group:    g,
	}
}

func (f *fixture) publish(t *testing.T) message.Message {
	t.Helper()
	m := message.New()
	data, err := m.Encode()
	require.NoError(t, err)
	require.NoError(t, f.store.Channels().Publish(context.Background(), consumer.DefaultChannel, data))
	return m
}

func (f *fixture) processed(t *testing.T) []message.Message {
	t.Helper()
	entries, err := f.store.Streams().Range(context.Background(), message.DefaultStream, "", 0)
	require.NoError(t, err)

	msgs := make([]message.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, message.FromEntry(e))
	}
	return msgs
}

func TestNew_InvalidSize(t *testing.T) {
	exec := storage.NewExecutor(memory.New(), storage.BreakerConfig{}, nil)
	_, err := group.New(group.Config{Size: 0}, message.NewHandler(exec, ""), exec, nil, nil, nil)
	assert.ErrorIs(t, err, group.ErrInvalidSize)
}

func TestGroup_ProcessesEachMessageOnce(t *testing.T) {
	stores := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store {
			return memory.New()
		},
		"badger": func(t *testing.T) storage.Store {
			s, err := badger.New(badger.Config{Dir: t.TempDir()}, testutil.Logger())
			require.NoError(t, err)
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			f := newFixture(t, newStore(t), 5)
			require.NoError(t, f.group.Start(ctx))
			assert.Equal(t, 5, f.group.Running())

			members, err := f.registry.Members(ctx)
			require.NoError(t, err)
			assert.Len(t, members, 5)

			consumerIDs := make(map[string]bool)
			for _, st := range f.group.Status() {
				consumerIDs[st.ID] = true
			}
			require.Len(t, consumerIDs, 5, "consumer ids must be unique")

			const total = 100
			published := make(map[string]bool, total)
			for range total {
				published[f.publish(t).ID] = true
			}

			require.Eventually(t, func() bool {
				return len(f.processed(t)) >= total
			}, 15*time.Second, 50*time.Millisecond)

			// Let stragglers finish before checking for duplicates.
			time.Sleep(200 * time.Millisecond)
			processed := f.processed(t)
			require.Len(t, processed, total)

			seen := make(map[string]bool, total)
			for _, m := range processed {
				assert.False(t, seen[m.ID], "message %s processed twice", m.ID)
				seen[m.ID] = true
				assert.True(t, published[m.ID])
				assert.NotEmpty(t, m.Result)
				assert.True(t, consumerIDs[m.ConsumerID], "unknown consumer %s", m.ConsumerID)
			}

			cancel()
			f.group.Wait()
			assert.Zero(t, f.group.Running())
		})
	}
}

func TestGroup_NoConsumerNoProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, memory.New(), 3)
	early := f.publish(t)

	require.NoError(t, f.group.Start(ctx))
	late := f.publish(t)

	require.Eventually(t, func() bool {
		return len(f.processed(t)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	processed := f.processed(t)
	require.Len(t, processed, 1)
	assert.Equal(t, late.ID, processed[0].ID)
	assert.NotEqual(t, early.ID, processed[0].ID)
}

func TestGroup_NotActiveAffectsOnlyThatConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, memory.New(), 3)
	require.NoError(t, f.group.Start(ctx))

	expired := f.group.Consumers()[0]
	_, err := f.store.Members().Remove(ctx, liveness.DefaultSet, expired.ID())
	require.NoError(t, err)

	// The delivery that discovers the expiry is still contended for as usual.
	f.publish(t)
	require.Eventually(t, func() bool {
		return !expired.Active() && len(f.processed(t)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.publish(t)
	require.Eventually(t, func() bool {
		return !expired.Running()
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, expired.Err(), consumer.ErrNotActive)
	assert.Equal(t, 2, f.group.Running())

	// The remaining consumers still handle the delivery that tore it down.
	require.Eventually(t, func() bool {
		return len(f.processed(t)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	before := len(f.processed(t))
	for range 10 {
		f.publish(t)
	}
	require.Eventually(t, func() bool {
		return len(f.processed(t)) == before+10
	}, 2*time.Second, 10*time.Millisecond)

	for _, m := range f.processed(t)[before:] {
		assert.NotEqual(t, expired.ID(), m.ConsumerID)
	}
}

func TestGroup_RegistrationFailure(t *testing.T) {
	f := newFixture(t, brokenStore{Store: memory.New()}, 2)

	err := f.group.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, liveness.ErrRegistration)
	assert.Zero(t, f.group.Running())
}
