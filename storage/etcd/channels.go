// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxgroup/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const subscriptionBuffer = 4096

var _ storage.ChannelStore = (*ChannelStore)(nil)

// ChannelStore implements broadcast over a single key per channel. Every
// Publish is a new revision of that key and every watcher sees each one.
type ChannelStore struct {
	client *clientv3.Client
	prefix string
	logger *slog.Logger
}

// Publish writes payload as the next revision of the channel key.
func (c *ChannelStore) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := c.client.Put(ctx, c.prefix+channel, string(payload))
	return err
}

// Subscribe starts a watch on the channel key and returns once the server
// has confirmed it.
func (c *ChannelStore) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	wctx, cancel := context.WithCancel(ctx)
	wch := c.client.Watch(clientv3.WithRequireLeader(wctx), c.prefix+channel, clientv3.WithCreatedNotify())

	select {
	case resp, ok := <-wch:
		if !ok {
			cancel()
			return nil, fmt.Errorf("watch on %s closed before it was created", channel)
		}
		if err := resp.Err(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to watch %s: %w", channel, err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	sub := &subscription{
		ch:     make(chan *storage.Message, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.ch)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				c.logger.Warn("Channel watch failed",
					slog.String("channel", channel),
					slog.String("error", err.Error()))
				return
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				msg := &storage.Message{Channel: channel, Payload: ev.Kv.Value}
				select {
				case sub.ch <- msg:
				default:
					c.logger.Warn("Subscriber buffer full, dropping message",
						slog.String("channel", channel))
				}
			}
		}
	}()

	return sub, nil
}

type subscription struct {
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
	})
	return nil
}
