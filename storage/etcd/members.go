// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/absmach/fluxgroup/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var _ storage.MemberStore = (*MemberStore)(nil)

// MemberStore implements storage.MemberStore with one key per member under
// a per-set prefix. Each member carries its own lease.
type MemberStore struct {
	client *clientv3.Client
	prefix string
}

func (m *MemberStore) setPrefix(set string) string {
	return m.prefix + set + "/"
}

func (m *MemberStore) key(set, member string) string {
	return m.setPrefix(set) + member
}

// Add writes the member value. Updating an existing member keeps its lease.
func (m *MemberStore) Add(ctx context.Context, set, member, value string) (bool, error) {
	key := m.key(set, member)
	resp, err := m.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value)).
		Else(clientv3.OpPut(key, value, clientv3.WithIgnoreLease())).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// Expire binds the member to a new lease. Missing members are not created.
func (m *MemberStore) Expire(ctx context.Context, set, member string, ttl time.Duration) (bool, error) {
	return attachLease(ctx, m.client, m.key(set, member), ttl)
}

// Exists reports whether the member is present.
func (m *MemberStore) Exists(ctx context.Context, set, member string) (bool, error) {
	return exists(ctx, m.client, m.key(set, member))
}

// Remove deletes the member.
func (m *MemberStore) Remove(ctx context.Context, set, member string) (bool, error) {
	return del(ctx, m.client, m.key(set, member))
}

// List returns the members of set in lexical order.
func (m *MemberStore) List(ctx context.Context, set string) ([]string, error) {
	prefix := m.setPrefix(set)
	resp, err := m.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		members = append(members, strings.TrimPrefix(string(kv.Key), prefix))
	}
	sort.Strings(members)
	return members, nil
}
