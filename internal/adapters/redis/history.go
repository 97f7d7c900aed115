// Package redis keeps per-user feedback timestamps in Redis so several
// service replicas share one cooldown.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ewilliams-labs/mend/internal/core/ports"
)

const (
	keyPrefix  = "mend:feedback:last:"
	defaultTTL = 24 * time.Hour
)

// History implements ports.FeedbackHistory.
type History struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ ports.FeedbackHistory = (*History)(nil)

// NewClient creates a Redis client from a URL (e.g., "redis://localhost:6379/0").
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewHistory stores timestamps with the given TTL; zero uses 24h. The TTL
// must exceed the feedback cooldown.
func NewHistory(rdb *redis.Client, ttl time.Duration) *History {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &History{rdb: rdb, ttl: ttl}
}

func historyKey(uid string) string {
	return keyPrefix + uid
}

func (h *History) LastFeedbackTime(ctx context.Context, uid string) (time.Time, bool, error) {
	raw, err := h.rdb.Get(ctx, historyKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: get last feedback: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: parse last feedback %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (h *History) RecordFeedback(ctx context.Context, uid string, at time.Time) error {
	if err := h.rdb.Set(ctx, historyKey(uid), at.UnixMilli(), h.ttl).Err(); err != nil {
		return fmt.Errorf("redis: record feedback: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (h *History) Ping(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}
