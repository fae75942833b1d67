// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxgroup/storage"
	goredis "github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 4096

var _ storage.ChannelStore = (*ChannelStore)(nil)

// ChannelStore implements broadcast with Redis PUBLISH/SUBSCRIBE.
type ChannelStore struct {
	client *goredis.Client
	logger *slog.Logger
}

// Publish runs PUBLISH.
func (c *ChannelStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe runs SUBSCRIBE on a dedicated connection and waits for the
// server confirmation before returning.
func (c *ChannelStore) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	ps := c.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &subscription{
		ps:   ps,
		ch:   make(chan *storage.Message, subscriptionBuffer),
		done: make(chan struct{}),
	}

	in := ps.Channel(goredis.WithChannelSize(subscriptionBuffer))
	go func() {
		defer close(sub.ch)
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case sub.ch <- &storage.Message{
					Channel: msg.Channel,
					Payload: []byte(msg.Payload),
				}:
				default:
					c.logger.Warn("Subscriber buffer full, dropping message",
						slog.String("channel", msg.Channel))
				}
			case <-sub.done:
				return
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
		}
	}()

	c.logger.Debug("Subscribed to redis channel", slog.String("channel", channel))
	return sub, nil
}

type subscription struct {
	ps   *goredis.PubSub
	ch   chan *storage.Message
	done chan struct{}
	once sync.Once
	err  error
}

func (s *subscription) Messages() <-chan *storage.Message {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
