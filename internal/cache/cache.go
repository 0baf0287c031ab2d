package cache

import (
	"context"
	"fmt"
	"time"

	"dukani/backend/internal/domain"
)

// PriceCache holds store price rows for quoting. A miss is not an error.
type PriceCache interface {
	Get(ctx context.Context, storeID int64, productID int64) (*domain.StorePrice, bool, error)
	Set(ctx context.Context, price domain.StorePrice, ttl time.Duration) error
	Delete(ctx context.Context, storeID int64, productID int64) error
}

func PriceKey(storeID int64, productID int64) string {
	return fmt.Sprintf("price:%d:%d", storeID, productID)
}

type NoopPriceCache struct{}

func (NoopPriceCache) Get(_ context.Context, _ int64, _ int64) (*domain.StorePrice, bool, error) {
	return nil, false, nil
}

func (NoopPriceCache) Set(_ context.Context, _ domain.StorePrice, _ time.Duration) error {
	return nil
}

func (NoopPriceCache) Delete(_ context.Context, _ int64, _ int64) error {
	return nil
}
