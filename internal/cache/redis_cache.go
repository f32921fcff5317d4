package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokopos/backend/internal/eligibility"
)

type RedisEligibilityCache struct {
	client *redis.Client
}

func NewRedisEligibilityCache(addr string, password string, db int) *RedisEligibilityCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisEligibilityCache{client: client}
}

func (c *RedisEligibilityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisEligibilityCache) Close() error {
	return c.client.Close()
}

func cacheKey(saleID string) string {
	return "eligibility:" + saleID
}

func (c *RedisEligibilityCache) Get(ctx context.Context, saleID string) (*eligibility.Report, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(saleID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report eligibility.Report
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisEligibilityCache) Set(ctx context.Context, saleID string, report *eligibility.Report, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(saleID), payload, ttl).Err()
}

func (c *RedisEligibilityCache) Invalidate(ctx context.Context, saleID string) error {
	return c.client.Del(ctx, cacheKey(saleID)).Err()
}
