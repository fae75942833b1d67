// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/absmach/fluxgroup/storage"
)

var _ storage.MemberStore = (*MemberStore)(nil)

// MemberStore is an in-memory implementation of storage.MemberStore.
type MemberStore struct {
	mu   sync.Mutex
	sets map[string]map[string]value
}

// NewMemberStore creates a new in-memory member store.
func NewMemberStore() *MemberStore {
	return &MemberStore{
		sets: make(map[string]map[string]value),
	}
}

// Add stores member in set.
func (m *MemberStore) Add(ctx context.Context, set, member, val string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.sets[set]
	if !ok {
		members = make(map[string]value)
		m.sets[set] = members
	}

	old, exists := members[member]
	created := !exists || old.expired(time.Now())
	if created {
		members[member] = value{data: val}
		return true, nil
	}

	// Updating the value keeps the current expiry.
	old.data = val
	members[member] = old
	return false, nil
}

// Expire sets the expiry of an existing member.
func (m *MemberStore) Expire(ctx context.Context, set, member string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.live(set, member)
	if !ok {
		return false, nil
	}
	v.expireAt = time.Now().Add(ttl)
	m.sets[set][member] = v
	return true, nil
}

// Exists reports whether member is live.
func (m *MemberStore) Exists(ctx context.Context, set, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(set, member)
	return ok, nil
}

// Remove deletes member.
func (m *MemberStore) Remove(ctx context.Context, set, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(set, member)
	if ok {
		delete(m.sets[set], member)
	}
	return ok, nil
}

// List returns the live members of set in lexical order.
func (m *MemberStore) List(ctx context.Context, set string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	result := make([]string, 0, len(m.sets[set]))
	for member, v := range m.sets[set] {
		if v.expired(now) {
			delete(m.sets[set], member)
			continue
		}
		result = append(result, member)
	}
	sort.Strings(result)
	return result, nil
}

// live returns the member value, evicting it if expired. Caller holds mu.
func (m *MemberStore) live(set, member string) (value, bool) {
	members, ok := m.sets[set]
	if !ok {
		return value{}, false
	}
	v, ok := members[member]
	if !ok {
		return value{}, false
	}
	if v.expired(time.Now()) {
		delete(members, member)
		return value{}, false
	}
	return v, true
}
