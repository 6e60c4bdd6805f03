package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docutag/interlinker/logger"
)

// RedisCache shares fetched bodies across processes. Entries expire after ttl;
// the size cap is the server's maxmemory policy.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *logger.Logger
}

// NewRedisCache connects to the Redis instance at redisURL (redis://host:port/db)
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, log *logger.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "interlinker:fetch:",
		log:    logger.OrNop(log),
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == nil {
		return data, true
	}
	if !errors.Is(err, redis.Nil) {
		c.log.Warn("redis cache get failed", "key", key, "error", err)
	}
	return nil, false
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, c.prefix+key, value, c.ttl).Err(); err != nil {
		c.log.Warn("redis cache set failed", "key", key, "error", err)
	}
}

// Close releases the underlying connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
