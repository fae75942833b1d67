// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/absmach/fluxgroup/storage"
	goredis "github.com/redis/go-redis/v9"
)

// HPEXPIRE reply codes per field.
const (
	fieldExpireSet = 1
	fieldMissing   = -2
)

var _ storage.MemberStore = (*MemberStore)(nil)

// MemberStore implements storage.MemberStore as a Redis hash with per-field
// expiry (HPEXPIRE).
type MemberStore struct {
	client *goredis.Client
}

// Add runs HSET.
func (m *MemberStore) Add(ctx context.Context, set, member, value string) (bool, error) {
	n, err := m.client.HSet(ctx, set, member, value).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Expire runs HPEXPIRE on a single field. Redis never creates the field.
func (m *MemberStore) Expire(ctx context.Context, set, member string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}

	res, err := m.client.HPExpire(ctx, set, ttl, member).Result()
	if err != nil {
		return false, err
	}
	if len(res) != 1 {
		return false, fmt.Errorf("unexpected HPEXPIRE reply length %d", len(res))
	}

	switch res[0] {
	case fieldExpireSet:
		return true, nil
	case fieldMissing:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected HPEXPIRE reply %d", res[0])
	}
}

// Exists runs HEXISTS.
func (m *MemberStore) Exists(ctx context.Context, set, member string) (bool, error) {
	return m.client.HExists(ctx, set, member).Result()
}

// Remove runs HDEL.
func (m *MemberStore) Remove(ctx context.Context, set, member string) (bool, error) {
	n, err := m.client.HDel(ctx, set, member).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List runs HKEYS.
func (m *MemberStore) List(ctx context.Context, set string) ([]string, error) {
	members, err := m.client.HKeys(ctx, set).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}
