// Package cache wraps go-redis with the pooling defaults production
// used, backing the distributed token bucket in internal/recognize.
// Redis is optional: the rate limiter degrades to single-process
// behavior when it is unavailable, the way a production Redis
// integration did.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient wraps redis.Client with centralized connection pooling.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to addr (host:port); pass "" to skip (callers
// should treat a nil *RedisClient as "no distributed cache available").
func NewRedisClient(addr, password string, log *zap.Logger) (*RedisClient, error) {
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log.Info("redis connected", zap.String("address", addr))
	return &RedisClient{client: client}, nil
}

func (rc *RedisClient) Close() error {
	if rc == nil || rc.client == nil {
		return nil
	}
	return rc.client.Close()
}

func (rc *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return rc.client.Get(ctx, key).Result()
}

func (rc *RedisClient) Set(ctx context.Context, key string, value interface{}) error {
	return rc.client.Set(ctx, key, value, 0).Err()
}

func (rc *RedisClient) SetEx(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rc.client.Set(ctx, key, value, ttl).Err()
}

// IncrBy atomically increments key by delta, useful for a distributed
// token-bucket counter shared across Monitor processes.
func (rc *RedisClient) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return rc.client.IncrBy(ctx, key, delta).Result()
}

func (rc *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return rc.client.Expire(ctx, key, ttl).Err()
}

func (rc *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rc.client.TTL(ctx, key).Result()
}

func (rc *RedisClient) Del(ctx context.Context, keys ...string) error {
	return rc.client.Del(ctx, keys...).Err()
}

func (rc *RedisClient) Ping(ctx context.Context) error {
	if rc == nil || rc.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	return rc.client.Ping(ctx).Err()
}

// Eval runs a Lua script, used by the token bucket for an atomic
// refill-and-take check (see internal/recognize/ratelimit.go).
func (rc *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return rc.client.Eval(ctx, script, keys, args...).Result()
}
