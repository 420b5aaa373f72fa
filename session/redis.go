// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMarkerTTL bounds how long an unconsumed marker survives in
// Redis. The marker is session-scoped, not durable state.
const DefaultMarkerTTL = 30 * time.Minute

// RedisMailbox stores markers in Redis so a session can survive a full
// page navigation or process restart.
type RedisMailbox struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed mailbox. The prefix namespaces keys per
// session; ttl <= 0 selects DefaultMarkerTTL.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *RedisMailbox {
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	return &RedisMailbox{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMailbox) key(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + ":" + key
}

// Put stores the marker with the configured TTL.
func (m *RedisMailbox) Put(ctx context.Context, key string, marker Marker) error {
	payload, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to encode marker: %w", err)
	}
	if err := m.client.Set(ctx, m.key(key), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store marker: %w", err)
	}
	return nil
}

// TakeAndClear uses GETDEL so read and delete are one atomic operation
// on the server.
func (m *RedisMailbox) TakeAndClear(ctx context.Context, key string) (Marker, bool, error) {
	payload, err := m.client.GetDel(ctx, m.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("failed to take marker: %w", err)
	}

	var marker Marker
	if err := json.Unmarshal(payload, &marker); err != nil {
		return Marker{}, false, fmt.Errorf("failed to decode marker: %w", err)
	}
	return marker, true, nil
}
