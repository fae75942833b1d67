// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"errors"
	"time"

	"github.com/absmach/fluxgroup/storage"
	"github.com/dgraph-io/badger/v4"
)

var (
	_ storage.KeyStore       = (*KeyStore)(nil)
	_ storage.AtomicKeyStore = (*KeyStore)(nil)
)

// KeyStore implements storage.KeyStore using BadgerDB.
//
// Key format: k/{key}
type KeyStore struct {
	db *badger.DB
}

// NewKeyStore creates a new BadgerDB key store.
func NewKeyStore(db *badger.DB) *KeyStore {
	return &KeyStore{db: db}
}

// SetNX creates key if it is absent.
func (k *KeyStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	return k.setNX(key, value, 0)
}

// SetNXWithTTL creates key with an expiry if it is absent.
func (k *KeyStore) SetNXWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	return k.setNX(key, value, ttl)
}

// setNX relies on Badger's serializable transactions: of two transactions
// creating the same key concurrently, the later commit fails with
// ErrConflict.
func (k *KeyStore) setNX(key, value string, ttl time.Duration) (bool, error) {
	created := false
	err := k.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyKey(key))
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		e := badger.NewEntry(keyKey(key), []byte(value))
		if ttl > 0 {
			e.ExpiresAt = expiresAt(ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

// Expire sets the expiry of an existing key.
func (k *KeyStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	return expire(k.db, keyKey(key), ttl)
}

// Del removes key.
func (k *KeyStore) Del(ctx context.Context, key string) (bool, error) {
	return del(k.db, keyKey(key))
}

// Exists reports whether key is live.
func (k *KeyStore) Exists(ctx context.Context, key string) (bool, error) {
	return exists(k.db, keyKey(key))
}

func keyKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func expire(db *badger.DB, key []byte, ttl time.Duration) (bool, error) {
	found := false
	err := update(db, func(txn *badger.Txn) error {
		found = false
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		e := badger.NewEntry(key, val)
		e.ExpiresAt = expiresAt(ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func del(db *badger.DB, key []byte) (bool, error) {
	found := false
	err := update(db, func(txn *badger.Txn) error {
		found = false
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func exists(db *badger.DB, key []byte) (bool, error) {
	found := false
	err := db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}
