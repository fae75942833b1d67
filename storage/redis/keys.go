// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"time"

	"github.com/absmach/fluxgroup/storage"
	goredis "github.com/redis/go-redis/v9"
)

var (
	_ storage.KeyStore       = (*KeyStore)(nil)
	_ storage.AtomicKeyStore = (*KeyStore)(nil)
)

// KeyStore implements storage.KeyStore with plain Redis strings.
type KeyStore struct {
	client *goredis.Client
}

// SetNX runs SETNX.
func (k *KeyStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	return k.client.SetNX(ctx, key, value, 0).Result()
}

// SetNXWithTTL runs SET key value NX PX ttl.
func (k *KeyStore) SetNXWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	return k.client.SetNX(ctx, key, value, ttl).Result()
}

// Expire runs PEXPIRE.
func (k *KeyStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	return k.client.PExpire(ctx, key, ttl).Result()
}

// Del runs DEL.
func (k *KeyStore) Del(ctx context.Context, key string) (bool, error) {
	n, err := k.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists runs EXISTS.
func (k *KeyStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := k.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
