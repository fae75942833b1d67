// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/absmach/fluxgroup/storage"
)

var (
	_ storage.KeyStore       = (*KeyStore)(nil)
	_ storage.AtomicKeyStore = (*KeyStore)(nil)
)

// KeyStore is an in-memory implementation of storage.KeyStore.
type KeyStore struct {
	mu   sync.Mutex
	data map[string]value
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		data: make(map[string]value),
	}
}

// SetNX creates key if it is absent.
func (k *KeyStore) SetNX(ctx context.Context, key, val string) (bool, error) {
	return k.setNX(key, val, 0)
}

// SetNXWithTTL creates key with an expiry if it is absent.
func (k *KeyStore) SetNXWithTTL(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	return k.setNX(key, val, ttl)
}

func (k *KeyStore) setNX(key, val string, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	if v, ok := k.data[key]; ok && !v.expired(now) {
		return false, nil
	}

	v := value{data: val}
	if ttl > 0 {
		v.expireAt = now.Add(ttl)
	}
	k.data[key] = v
	return true, nil
}

// Expire sets the expiry of an existing key.
func (k *KeyStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	v, ok := k.data[key]
	if !ok {
		return false, nil
	}
	if v.expired(now) {
		delete(k.data, key)
		return false, nil
	}
	v.expireAt = now.Add(ttl)
	k.data[key] = v
	return true, nil
}

// Del removes key.
func (k *KeyStore) Del(ctx context.Context, key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	v, ok := k.data[key]
	if !ok {
		return false, nil
	}
	delete(k.data, key)
	return !v.expired(time.Now()), nil
}

// Exists reports whether key is live.
func (k *KeyStore) Exists(ctx context.Context, key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	v, ok := k.data[key]
	if !ok {
		return false, nil
	}
	if v.expired(time.Now()) {
		delete(k.data, key)
		return false, nil
	}
	return true, nil
}
