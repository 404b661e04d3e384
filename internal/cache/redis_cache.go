package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"shopledger/backend/internal/domain"
)

const (
	guardPrefix   = "billguard:"
	balancePrefix = "balance:"
)

// RedisGuard backs the duplicate-submission guard with redis so the window
// holds across server instances.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Remember(ctx context.Context, fingerprint string, window time.Duration) (bool, error) {
	return g.client.SetNX(ctx, guardPrefix+fingerprint, "1", window).Result()
}

func (g *RedisGuard) Forget(ctx context.Context, fingerprint string) error {
	return g.client.Del(ctx, guardPrefix+fingerprint).Err()
}

type RedisBalanceCache struct {
	client *redis.Client
}

func NewRedisBalanceCache(client *redis.Client) *RedisBalanceCache {
	return &RedisBalanceCache{client: client}
}

func (c *RedisBalanceCache) Get(ctx context.Context, key string) (*domain.Balance, bool) {
	raw, err := c.client.Get(ctx, balancePrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var b domain.Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false
	}
	return &b, true
}

func (c *RedisBalanceCache) Set(ctx context.Context, key string, balance domain.Balance, ttl time.Duration) {
	raw, err := json.Marshal(balance)
	if err != nil {
		return
	}
	c.client.Set(ctx, balancePrefix+key, raw, ttl)
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, key string) {
	c.client.Del(ctx, balancePrefix+key)
}

func (c *RedisBalanceCache) InvalidateAll(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, balancePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}
