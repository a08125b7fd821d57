package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyFormat = "cache:%s:%s"

// RedisCacheRepository stores last-known-good authority responses with a TTL
// per entity kind. Expiry is native to Redis, so an expired entry simply reads
// back as a miss.
type RedisCacheRepository struct {
	client *redis.Client
	ttls   map[string]time.Duration
	// defaultTTL applies to kinds without an explicit entry.
	defaultTTL time.Duration
}

func NewRedisCacheRepository(client *redis.Client, ttls map[string]time.Duration, defaultTTL time.Duration) *RedisCacheRepository {
	return &RedisCacheRepository{client: client, ttls: ttls, defaultTTL: defaultTTL}
}

func (r *RedisCacheRepository) ttl(kind string) time.Duration {
	if ttl, ok := r.ttls[kind]; ok {
		return ttl
	}
	return r.defaultTTL
}

func (r *RedisCacheRepository) Get(ctx context.Context, kind string, key string) (json.RawMessage, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf(cacheKeyFormat, kind, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache %s/%s: %w", kind, key, err)
	}
	return json.RawMessage(data), nil
}

func (r *RedisCacheRepository) Put(ctx context.Context, kind string, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	err = r.client.Set(ctx, fmt.Sprintf(cacheKeyFormat, kind, key), data, r.ttl(kind)).Err()
	if err != nil {
		return fmt.Errorf("failed to write cache %s/%s: %w", kind, key, err)
	}
	return nil
}
