package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dukani/backend/internal/domain"
)

type RedisPriceCache struct {
	client redis.UniversalClient
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisPriceCache(client redis.UniversalClient) *RedisPriceCache {
	return &RedisPriceCache{client: client}
}

func (c *RedisPriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPriceCache) Get(ctx context.Context, storeID int64, productID int64) (*domain.StorePrice, bool, error) {
	val, err := c.client.Get(ctx, PriceKey(storeID, productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var price domain.StorePrice
	if err := json.Unmarshal(val, &price); err != nil {
		return nil, false, err
	}
	return &price, true, nil
}

func (c *RedisPriceCache) Set(ctx context.Context, price domain.StorePrice, ttl time.Duration) error {
	payload, err := json.Marshal(price)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, PriceKey(price.StoreID, price.ProductID), payload, ttl).Err()
}

func (c *RedisPriceCache) Delete(ctx context.Context, storeID int64, productID int64) error {
	return c.client.Del(ctx, PriceKey(storeID, productID)).Err()
}
