package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
)

// DefaultSnapshotTTL is how long a mirrored snapshot is kept without being refreshed.
const DefaultSnapshotTTL = 48 * time.Hour

// Mirror keeps a copy of the last committed catalog snapshot in redis so a
// fresh instance can serve lookups before its first successful refresh.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror creates a mirror on top of an already connected client.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{
		client: client,
		ttl:    DefaultSnapshotTTL,
	}
}

// SaveSnapshot replaces the mirrored snapshot atomically (MULTI/EXEC).
func (m *Mirror) SaveSnapshot(ctx context.Context, payloads []domain.ServicePayload, refreshedAt time.Time) error {
	if payloads == nil {
		payloads = []domain.ServicePayload{}
	}
	data, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SnapshotKey(), data, m.ttl)
		pipe.HSet(ctx, SnapshotMetaKey(),
			"count", len(payloads),
			"refreshed_at", refreshedAt.UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, SnapshotMetaKey(), m.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot returns the mirrored payloads and when they were committed.
// A missing snapshot is not an error: it yields nil payloads.
func (m *Mirror) LoadSnapshot(ctx context.Context) ([]domain.ServicePayload, time.Time, error) {
	data, err := m.client.Get(ctx, SnapshotKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var payloads []domain.ServicePayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	var refreshedAt time.Time
	if raw, err := m.client.HGet(ctx, SnapshotMetaKey(), "refreshed_at").Result(); err == nil {
		refreshedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}

	return payloads, refreshedAt, nil
}

// SnapshotSize returns the record count of the mirrored snapshot, 0 if absent.
func (m *Mirror) SnapshotSize(ctx context.Context) (int, error) {
	raw, err := m.client.HGet(ctx, SnapshotMetaKey(), "count").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get snapshot size: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot size %q: %w", raw, err)
	}
	return n, nil
}

// Ping checks the connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
