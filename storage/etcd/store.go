// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/absmach/fluxgroup/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

const defaultPrefix = "/fluxgroup/"

var _ storage.Store = (*Store)(nil)

// Config holds etcd store configuration.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string

	// Prefix namespaces every key written by the store.
	Prefix string

	// Embedded starts an in-process etcd server and connects to it,
	// ignoring Endpoints.
	Embedded *EmbedConfig
}

// Store is the composite etcd store. Expiry is implemented with leases,
// broadcast with watches and streams with create revisions.
type Store struct {
	client *clientv3.Client
	server *embed.Etcd
	logger *slog.Logger

	keys     *KeyStore
	members  *MemberStore
	channels *ChannelStore
	streams  *StreamStore

	closeOnce sync.Once
	closeErr  error
}

// New connects to etcd, starting an embedded server first when configured.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	var server *embed.Etcd
	if cfg.Embedded != nil {
		e, err := startEmbedded(*cfg.Embedded, logger)
		if err != nil {
			return nil, err
		}
		server = e
		cfg.Endpoints = []string{cfg.Embedded.ClientAddr}
	}

	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints are required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Context:     context.WithoutCancel(ctx),
	})
	if err != nil {
		if server != nil {
			server.Close()
		}
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	// clientv3.New does not dial eagerly; surface a bad endpoint here.
	statusCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if _, err := client.Status(statusCtx, cfg.Endpoints[0]); err != nil {
		_ = client.Close()
		if server != nil {
			server.Close()
		}
		return nil, fmt.Errorf("failed to reach etcd at %s: %w", cfg.Endpoints[0], err)
	}

	logger.Info("Connected to etcd", slog.Any("endpoints", cfg.Endpoints), slog.String("prefix", cfg.Prefix))

	return &Store{
		client:   client,
		server:   server,
		logger:   logger,
		keys:     &KeyStore{client: client, prefix: cfg.Prefix + "k/"},
		members:  &MemberStore{client: client, prefix: cfg.Prefix + "m/"},
		channels: &ChannelStore{client: client, prefix: cfg.Prefix + "c/", logger: logger},
		streams:  &StreamStore{client: client, prefix: cfg.Prefix + "s/"},
	}, nil
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

// Close closes the client and stops the embedded server, if any.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
		if s.server != nil {
			s.server.Close()
			s.logger.Info("Embedded etcd stopped")
		}
	})
	return s.closeErr
}

// leaseTTL converts ttl to whole lease seconds, rounding up. The server
// may still raise it to its minimum lease TTL.
func leaseTTL(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// attachLease grants a lease and binds it to key if key exists. The lease is
// revoked when the key is missing.
func attachLease(ctx context.Context, client *clientv3.Client, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}

	lease, err := client.Grant(ctx, leaseTTL(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to grant lease: %w", err)
	}

	resp, err := client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), ">", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithIgnoreValue(), clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		revoke(client, lease.ID)
		return false, err
	}
	if !resp.Succeeded {
		revoke(client, lease.ID)
		return false, nil
	}
	return true, nil
}

func revoke(client *clientv3.Client, id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = client.Revoke(ctx, id)
}

func exists(ctx context.Context, client *clientv3.Client, key string) (bool, error) {
	resp, err := client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	return resp.Count > 0, nil
}

func del(ctx context.Context, client *clientv3.Client, key string) (bool, error) {
	resp, err := client.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	return resp.Deleted > 0, nil
}
