// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"
)

const (
	// publishedTTL keeps broadcast entries around long enough for every
	// subscriber callback to run, after which GC reclaims them.
	publishedTTL = time.Minute

	subscriptionBuffer = 4096
	probeInterval      = 10 * time.Millisecond
	subscribeTimeout   = 5 * time.Second
)

var errSubscribeTimeout = errors.New("subscription was not registered in time")

var _ storage.ChannelStore = (*ChannelStore)(nil)

// ChannelStore implements broadcast on top of Badger's key subscriptions.
// A published message is a short-lived entry under the channel prefix;
// every subscriber watching that prefix is notified of the write.
//
// Key format: c/{channel}\x00{uuid}
type ChannelStore struct {
	db     *badger.DB
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// NewChannelStore creates a new BadgerDB channel store.
func NewChannelStore(db *badger.DB, logger *slog.Logger) *ChannelStore {
	return &ChannelStore{
		db:     db,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

// Publish writes payload under channel, notifying current subscribers.
func (c *ChannelStore) Publish(ctx context.Context, channel string, payload []byte) error {
	key := []byte(channelPrefix + channel + separator + uuid.NewString())
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, payload).WithTTL(publishedTTL)
		return txn.SetEntry(e)
	})
}

// Subscribe registers a subscription on channel. Badger registers
// subscribers asynchronously, so Subscribe writes probe entries until the
// subscriber observes one, guaranteeing the subscription is live on return.
func (c *ChannelStore) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		store:  c,
		ch:     make(chan *storage.Message, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	prefix := []byte(channelPrefix + channel + separator)
	probe := []byte(probePrefix + uuid.NewString())
	ready := make(chan struct{})
	var readyOnce sync.Once

	go func() {
		defer close(sub.done)
		defer close(sub.ch)

		err := c.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				if bytes.Equal(kv.Key, probe) {
					readyOnce.Do(func() { close(ready) })
					continue
				}
				msg := &storage.Message{
					Channel: channel,
					Payload: append([]byte(nil), kv.Value...),
				}
				select {
				case sub.ch <- msg:
				default:
					c.logger.Warn("subscriber buffer full, message dropped", slog.String("channel", channel))
				}
			}
			return nil
		}, []pb.Match{{Prefix: prefix}, {Prefix: probe}})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("badger subscription ended", slog.String("channel", channel), slog.String("error", err.Error()))
		}
	}()

	if err := c.awaitProbe(ctx, probe, ready, sub.done); err != nil {
		_ = sub.Close()
		return nil, err
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (c *ChannelStore) awaitProbe(ctx context.Context, probe []byte, ready, done <-chan struct{}) error {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(subscribeTimeout)
	defer timeout.Stop()

	for {
		err := c.db.Update(func(txn *badger.Txn) error {
			return txn.SetEntry(badger.NewEntry(probe, nil).WithTTL(publishedTTL))
		})
		if err != nil {
			return fmt.Errorf("failed to write subscription probe: %w", err)
		}

		select {
		case <-ready:
			return nil
		case <-done:
			return storage.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return errSubscribeTimeout
		case <-ticker.C:
		}
	}
}

func (c *ChannelStore) forget(sub *subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

func (c *ChannelStore) closeAll() {
	c.mu.Lock()
	all := make([]*subscription, 0, len(c.subs))
	for sub := range c.subs {
		all = append(all, sub)
	}
	c.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
}

type subscription struct {
	store  *ChannelStore
	ch     chan *storage.Message
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Messages() <-chan *storage.Message {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.store.forget(s)
	})
	return nil
}
