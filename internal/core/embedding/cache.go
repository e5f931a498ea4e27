package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheEntry is what the cache holds for one (text, model) pair.
type CacheEntry struct {
	Vector     []float32 `json:"vector"`
	TokenCount int       `json:"token_count"`
}

type Cache interface {
	// Get reports a miss as (nil, false, nil).
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error
}

// CacheKey is sha256(text‖model), hex encoded.
func CacheKey(text, model string) string {
	sum := sha256.Sum256([]byte(text + model))
	return hex.EncodeToString(sum[:])
}

type RedisCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, prefix: "emb:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

var _ Cache = (*RedisCache)(nil)
