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

var _ storage.MemberStore = (*MemberStore)(nil)

// MemberStore implements storage.MemberStore using BadgerDB. Each member is
// a separate entry so that it can carry its own TTL.
//
// Key format: m/{set}\x00{member}
type MemberStore struct {
	db *badger.DB
}

// NewMemberStore creates a new BadgerDB member store.
func NewMemberStore(db *badger.DB) *MemberStore {
	return &MemberStore{db: db}
}

// Add stores member in set. Updating an existing member keeps its expiry.
func (m *MemberStore) Add(ctx context.Context, set, member, value string) (bool, error) {
	key := memberKey(set, member)
	created := false

	err := update(m.db, func(txn *badger.Txn) error {
		created = false
		e := badger.NewEntry(key, []byte(value))

		item, err := txn.Get(key)
		switch {
		case err == nil:
			e.ExpiresAt = item.ExpiresAt()
		case errors.Is(err, badger.ErrKeyNotFound):
			created = true
		default:
			return err
		}

		return txn.SetEntry(e)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Expire sets the expiry of an existing member.
func (m *MemberStore) Expire(ctx context.Context, set, member string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	return expire(m.db, memberKey(set, member), ttl)
}

// Exists reports whether member is live.
func (m *MemberStore) Exists(ctx context.Context, set, member string) (bool, error) {
	return exists(m.db, memberKey(set, member))
}

// Remove deletes member.
func (m *MemberStore) Remove(ctx context.Context, set, member string) (bool, error) {
	return del(m.db, memberKey(set, member))
}

// List returns the live members of set in key order.
func (m *MemberStore) List(ctx context.Context, set string) ([]string, error) {
	prefix := []byte(memberPrefix + set + separator)
	var members []string

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false // We only need keys
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			members = append(members, string(key[len(prefix):]))
		}
		return nil
	})

	return members, err
}

func memberKey(set, member string) []byte {
	return []byte(memberPrefix + set + separator + member)
}
