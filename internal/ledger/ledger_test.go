package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
)

var day1 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func makeBatch(id int64, qty int, cost string, received time.Time, expiry *time.Time) domain.StockBatch {
	return domain.StockBatch{
		ID:               id,
		ProductID:        1,
		Quantity:         qty,
		OriginalQuantity: qty,
		BuyingPrice:      decimal.RequireFromString(cost),
		ShippingCost:     decimal.Zero,
		HandlingCost:     decimal.Zero,
		ReceivedDate:     received,
		ExpiryDate:       expiry,
		IsActive:         true,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestAvailable(t *testing.T) {
	t.Run("orders by received date then id", func(t *testing.T) {
		batches := []domain.StockBatch{
			makeBatch(3, 1, "5", day1.AddDate(0, 0, 1), nil),
			makeBatch(2, 1, "5", day1, nil),
			makeBatch(1, 1, "5", day1, nil),
		}
		got := Available(batches, day1)
		require.Len(t, got, 3)
		assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})
	})

	t.Run("skips inactive, empty and expired batches", func(t *testing.T) {
		inactive := makeBatch(1, 4, "5", day1, nil)
		inactive.IsActive = false
		empty := makeBatch(2, 0, "5", day1, nil)
		expired := makeBatch(3, 4, "5", day1, timePtr(day1.AddDate(0, 0, -1)))
		ok := makeBatch(4, 4, "5", day1, nil)

		got := Available([]domain.StockBatch{inactive, empty, expired, ok}, day1)
		require.Len(t, got, 1)
		assert.Equal(t, int64(4), got[0].ID)
	})

	t.Run("expiry day itself is still sellable", func(t *testing.T) {
		expiresToday := makeBatch(1, 4, "5", day1, timePtr(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)))
		lateOnExpiryDay := time.Date(2026, 3, 5, 23, 59, 0, 0, time.UTC)

		assert.Len(t, Available([]domain.StockBatch{expiresToday}, lateOnExpiryDay), 1)
		assert.Empty(t, Available([]domain.StockBatch{expiresToday}, lateOnExpiryDay.Add(2*time.Minute)))
	})

	t.Run("repeated queries return the same order", func(t *testing.T) {
		batches := []domain.StockBatch{
			makeBatch(2, 3, "5", day1, nil),
			makeBatch(1, 3, "5", day1.AddDate(0, 0, 2), nil),
		}
		first := Available(batches, day1)
		second := Available(batches, day1)
		assert.Equal(t, first, second)
	})
}

func TestAllocateFIFO(t *testing.T) {
	b1 := makeBatch(1, 5, "10", day1, nil)
	b2 := makeBatch(2, 10, "12", day1.AddDate(0, 0, 1), nil)

	t.Run("spans batches oldest first", func(t *testing.T) {
		draws, err := Allocate([]domain.StockBatch{b1, b2}, 8)
		require.NoError(t, err)
		require.Len(t, draws, 2)
		assert.Equal(t, int64(1), draws[0].Batch.ID)
		assert.Equal(t, 5, draws[0].Quantity)
		assert.Equal(t, int64(2), draws[1].Batch.ID)
		assert.Equal(t, 3, draws[1].Quantity)
		assert.True(t, decimal.RequireFromString("10.75").Equal(WeightedCost(draws)))
	})

	t.Run("fails on shortfall", func(t *testing.T) {
		_, err := Allocate([]domain.StockBatch{b1, b2}, 20)
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrInsufficientStock))
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := Allocate([]domain.StockBatch{b1}, 0)
		assert.True(t, errors.Is(err, store.ErrValidation))
	})
}

func TestPoolSequentialDraws(t *testing.T) {
	pool := NewPool([]domain.StockBatch{
		makeBatch(1, 5, "10", day1, nil),
		makeBatch(2, 10, "12", day1.AddDate(0, 0, 1), nil),
	})

	first, err := pool.Take(4)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 5, first[0].Before)

	second, err := pool.Take(3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 1, second[0].Before)
	assert.Equal(t, 1, second[0].Quantity)
	assert.Equal(t, 10, second[1].Before)
	assert.Equal(t, 2, second[1].Quantity)

	_, err = pool.Take(9)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 8, pool.Remaining())
}

func TestWeightedCostUsesLandedCost(t *testing.T) {
	b := makeBatch(1, 3, "10", day1, nil)
	b.ShippingCost = decimal.RequireFromString("1.5")
	b.HandlingCost = decimal.RequireFromString("0.25")
	other := makeBatch(2, 3, "7", day1, nil)

	draws, err := Allocate([]domain.StockBatch{b, other}, 4)
	require.NoError(t, err)
	// (3*11.75 + 1*7) / 4
	assert.Equal(t, "10.5625", WeightedCost(draws).StringFixed(CostPlaces))
}

func TestExpired(t *testing.T) {
	stale := makeBatch(1, 2, "5", day1, timePtr(day1.AddDate(0, 0, -2)))
	fresh := makeBatch(2, 2, "5", day1, timePtr(day1.AddDate(0, 0, 2)))
	drained := makeBatch(3, 0, "5", day1, timePtr(day1.AddDate(0, 0, -2)))

	got := Expired([]domain.StockBatch{stale, fresh, drained}, day1)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}
