// Package cache keeps short-lived copies of computed read models.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Cache interface {
	// Get decodes the cached value into v and reports whether it was found.
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	// Invalidate drops every key under the prefix.
	Invalidate(ctx context.Context, prefix string) error
	Close() error
}

type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
}

func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.Error("redis ping err", zap.Error(err))
		client.Close()
		return nil, err
	}
	logger.Log.Info("redis cache is ready", zap.String("addr", addr), zap.Duration("ttl", ttl))
	return &RedisCache{client: client, ttl: ttl, namespace: "lessonadmin:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := c.client.Get(ctx, c.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		logger.Log.Error("cache get error", zap.String("key", key), zap.Error(err))
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.namespace+key, raw, c.ttl).Err(); err != nil {
		logger.Log.Error("cache set error", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, c.namespace+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Log.Error("cache invalidate error - scan failed", zap.String("prefix", prefix), zap.Error(err))
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop never stores anything. Used when no cache address is configured.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, any) error         { return nil }
func (Nop) Invalidate(context.Context, string) error       { return nil }
func (Nop) Close() error                                   { return nil }
