package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "mailsift:api:"
	cacheGenKey    = cacheKeyPrefix + "generation"
)

// Cache stores rendered analytics responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
	// Invalidate makes every earlier Set unreachable.
	Invalidate(ctx context.Context) error
}

// RedisCache namespaces entries under a generation counter, so invalidation
// is a single INCR and stale entries age out through their TTL.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, cacheGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) key(ctx context.Context, key string) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	return cacheKeyPrefix + strconv.FormatInt(gen, 10) + ":" + key, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k, err := c.key(ctx, key)
	if err != nil {
		return nil, false, err
	}
	body, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	k, err := c.key(ctx, key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, body, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, cacheGenKey).Err()
}

// noCache is used when no redis address is configured.
type noCache struct{}

func (noCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (noCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (noCache) Invalidate(context.Context) error                          { return nil }
