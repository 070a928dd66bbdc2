package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kedaipos/backend/internal/domain"
)

type RedisCreditCache struct {
	client redis.UniversalClient
}

func NewRedisCreditCache(client redis.UniversalClient) *RedisCreditCache {
	return &RedisCreditCache{client: client}
}

func (c *RedisCreditCache) Get(ctx context.Context, key string) (*domain.CreditAgingReport, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.CreditAgingReport
	if err := json.Unmarshal(val, &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisCreditCache) Set(ctx context.Context, key string, value *domain.CreditAgingReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCreditCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, creditGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Invalidate bumps the generation; reports under older generations expire
// with their TTL.
func (c *RedisCreditCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, creditGenerationKey).Err()
}
