// Package tagcache caches tag associations in Redis.
package tagcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotside-studios/closet-nfc/closet"
)

// DefaultTTL bounds how stale a cached association can be.
const DefaultTTL = 30 * time.Second

const keyPrefix = "closet:tag:"

// KV is the subset of the Redis command set the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache implements closet.Cache.
type Cache struct {
	kv  KV
	ttl time.Duration
}

var _ closet.Cache = (*Cache)(nil)

func New(kv KV, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{kv: kv, ttl: ttl}
}

// Dial connects to the Redis server at url. It returns nil, nil when url is
// empty, which leaves caching disabled.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func key(tagID string) string {
	return keyPrefix + tagID
}

func (c *Cache) Get(ctx context.Context, tagID string) (*closet.Association, error) {
	raw, err := c.kv.Get(ctx, key(tagID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", tagID, err)
	}
	var a closet.Association
	if err := json.Unmarshal(raw, &a); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, nil
	}
	return &a, nil
}

func (c *Cache) Set(ctx context.Context, a *closet.Association) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode association: %w", err)
	}
	if err := c.kv.Set(ctx, key(a.TagID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", a.TagID, err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, tagIDs ...string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	keys := make([]string, len(tagIDs))
	for i, id := range tagIDs {
		keys[i] = key(id)
	}
	if err := c.kv.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	return nil
}
