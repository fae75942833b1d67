// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fluxgroup/storage"
	goredis "github.com/redis/go-redis/v9"
)

var _ storage.Store = (*Store)(nil)

// Config holds Redis connection settings. Hash field expiry requires Redis
// 7.4 or newer.
type Config struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// Store is the composite Redis store. All capability stores share one
// pooled client; subscriptions hold their own dedicated connection.
type Store struct {
	client *goredis.Client

	keys     *KeyStore
	members  *MemberStore
	channels *ChannelStore
	streams  *StreamStore
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to redis", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))

	return NewFromClient(client, logger), nil
}

// NewFromClient wraps an existing client. The store takes ownership of it.
func NewFromClient(client *goredis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:   client,
		keys:     &KeyStore{client: client},
		members:  &MemberStore{client: client},
		channels: &ChannelStore{client: client, logger: logger},
		streams:  &StreamStore{client: client},
	}
}

// Keys returns the key store.
func (s *Store) Keys() storage.KeyStore {
	return s.keys
}

// Members returns the member store.
func (s *Store) Members() storage.MemberStore {
	return s.members
}

// Channels returns the broadcast store.
func (s *Store) Channels() storage.ChannelStore {
	return s.channels
}

// Streams returns the stream store.
func (s *Store) Streams() storage.StreamStore {
	return s.streams
}

// Close closes the client and its connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
