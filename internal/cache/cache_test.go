package cache

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
)

func TestPriceKeyIsScopedPerStore(t *testing.T) {
	if PriceKey(1, 7) == PriceKey(2, 7) {
		t.Fatalf("expected distinct keys across stores")
	}
	if got := PriceKey(3, 42); got != "price:3:42" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNoopPriceCacheAlwaysMisses(t *testing.T) {
	var c NoopPriceCache
	if err := c.Set(context.Background(), domain.StorePrice{StoreID: 1, ProductID: 1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), 1, 1); ok || err != nil {
		t.Fatalf("expected miss, got ok=%t err=%v", ok, err)
	}
}

func TestRedisPriceCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("DUKANI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set DUKANI_TEST_REDIS_ADDR to run redis cache test")
	}
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() {
		_ = client.Close()
	})
	c := NewRedisPriceCache(client)
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	storeID := time.Now().UnixNano()
	price := domain.StorePrice{
		StoreID:            storeID,
		ProductID:          9,
		ProductCode:        "DUKA_" + strconv.Itoa(9),
		RetailPrice:        decimal.RequireFromString("150.50"),
		WholesalePrice:     decimal.RequireFromString("140"),
		WholesaleThreshold: 12,
	}
	if err := c.Set(ctx, price, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, storeID, 9)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%t err=%v", ok, err)
	}
	if !got.RetailPrice.Equal(price.RetailPrice) || got.WholesaleThreshold != 12 {
		t.Fatalf("unexpected cached price %+v", got)
	}

	if err := c.Delete(ctx, storeID, 9); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, storeID, 9); ok {
		t.Fatalf("expected miss after delete")
	}
}
