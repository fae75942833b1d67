// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/absmach/fluxgroup/storage"
)

// subscriptionBuffer bounds the messages queued for a single subscriber.
const subscriptionBuffer = 4096

var _ storage.ChannelStore = (*ChannelStore)(nil)

// ChannelStore is an in-memory broadcast implementation.
type ChannelStore struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	logger *slog.Logger
}

// NewChannelStore creates a new in-memory channel store.
func NewChannelStore(logger *slog.Logger) *ChannelStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelStore{
		subs:   make(map[string]map[*subscription]struct{}),
		logger: logger,
	}
}

// Publish delivers payload to every current subscriber of channel.
// A subscriber whose buffer is full misses the message.
func (c *ChannelStore) Publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sub := range c.subs[channel] {
		msg := &storage.Message{
			Channel: channel,
			Payload: append([]byte(nil), payload...),
		}
		select {
		case sub.ch <- msg:
		default:
			c.logger.Warn("subscriber buffer full, message dropped", slog.String("channel", channel))
		}
	}
	return nil
}

// Subscribe registers a new subscription on channel. The subscription is
// closed when ctx is done or Close is called.
func (c *ChannelStore) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	sub := &subscription{
		store:   c,
		channel: channel,
		ch:      make(chan *storage.Message, subscriptionBuffer),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if _, ok := c.subs[channel]; !ok {
		c.subs[channel] = make(map[*subscription]struct{})
	}
	c.subs[channel][sub] = struct{}{}
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

func (c *ChannelStore) remove(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[sub.channel][sub]; !ok {
		return
	}
	delete(c.subs[sub.channel], sub)
	close(sub.ch)
}

func (c *ChannelStore) closeAll() {
	c.mu.Lock()
	var all []*subscription
	for _, subs := range c.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
}

type subscription struct {
	store   *ChannelStore
	channel string
	ch      chan *storage.Message
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Messages() <-chan *storage.Message {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.store.remove(s)
	})
	return nil
}
