// Package cache publishes device-health snapshots to Redis so dashboards and
// sibling services can read trust state without calling into this process.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/health"
)

const keyPrefix = "health:"

type HealthCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewHealthCache(rdb *redis.Client, ttl time.Duration) *HealthCache {
	return &HealthCache{rdb: rdb, ttl: ttl}
}

// Publish writes one device snapshot; the TTL keeps stale entries from
// outliving a crashed publisher.
func (c *HealthCache) Publish(ctx context.Context, h health.DeviceHealth) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keyPrefix+h.DeviceID, b, c.ttl).Err()
}

// PublishAll writes every snapshot, returning the first error after trying
// all of them.
func (c *HealthCache) PublishAll(ctx context.Context, snapshots []health.DeviceHealth) error {
	var firstErr error
	for _, h := range snapshots {
		if err := c.Publish(ctx, h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get reads a snapshot back; used by readiness probes and tests.
func (c *HealthCache) Get(ctx context.Context, deviceID string) (health.DeviceHealth, bool, error) {
	b, err := c.rdb.Get(ctx, keyPrefix+deviceID).Bytes()
	if err == redis.Nil {
		return health.DeviceHealth{}, false, nil
	}
	if err != nil {
		return health.DeviceHealth{}, false, err
	}
	var h health.DeviceHealth
	if err := json.Unmarshal(b, &h); err != nil {
		return health.DeviceHealth{}, false, err
	}
	return h, true, nil
}
