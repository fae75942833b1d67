// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fluxgroup/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	_ storage.KeyStore       = (*KeyStore)(nil)
	_ storage.AtomicKeyStore = (*KeyStore)(nil)
)

// KeyStore implements storage.KeyStore with transactional puts.
type KeyStore struct {
	client *clientv3.Client
	prefix string
}

// SetNX puts key only if it has never been created or has been deleted.
func (k *KeyStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	return k.putIfAbsent(ctx, k.prefix+key, value)
}

// SetNXWithTTL creates key bound to a fresh lease in one transaction.
func (k *KeyStore) SetNXWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}

	lease, err := k.client.Grant(ctx, leaseTTL(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to grant lease: %w", err)
	}

	created, err := k.putIfAbsent(ctx, k.prefix+key, value, clientv3.WithLease(lease.ID))
	if err != nil || !created {
		revoke(k.client, lease.ID)
	}
	return created, err
}

// Expire binds key to a new lease.
func (k *KeyStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return attachLease(ctx, k.client, k.prefix+key, ttl)
}

// Del deletes key.
func (k *KeyStore) Del(ctx context.Context, key string) (bool, error) {
	return del(ctx, k.client, k.prefix+key)
}

// Exists reports whether key is present.
func (k *KeyStore) Exists(ctx context.Context, key string) (bool, error) {
	return exists(ctx, k.client, k.prefix+key)
}

func (k *KeyStore) putIfAbsent(ctx context.Context, key, value string, opts ...clientv3.OpOption) (bool, error) {
	resp, err := k.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value, opts...)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}
