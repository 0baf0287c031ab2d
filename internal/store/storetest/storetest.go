// Package storetest runs one contract suite against every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
)

type fixture struct {
	store   domain.Store
	user    domain.User
	product domain.Product
}

var (
	base = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	runs atomic.Int64
)

func seed(t *testing.T, repo store.Repository) fixture {
	t.Helper()
	ctx := context.Background()
	n := runs.Add(1) + time.Now().UnixNano()%100000*100
	var f fixture
	err := repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.InsertUser(ctx, domain.User{
			Username:        fmt.Sprintf("boss-%d", n),
			FirstName:       "Amina",
			LastName:        "Otieno",
			Password:        "hash",
			Role:            domain.RoleBoss,
			SalaryAmount:    decimal.Zero,
			SalaryFrequency: domain.FrequencyMonthly,
			IsActive:        true,
			CreatedAt:       base,
		})
		if err != nil {
			return err
		}
		st, err := tx.InsertStore(ctx, domain.Store{
			StoreCode:    fmt.Sprintf("T%06d", n%1000000),
			Name:         fmt.Sprintf("Test Duka %d", n),
			BusinessType: domain.BusinessRetail,
			OwnerID:      &u.ID,
			Country:      "KE",
			CurrencyCode: "KES",
			Symbol:       "KSh",
			Password:     "pinhash",
			CreatedAt:    base,
		})
		if err != nil {
			return err
		}
		seq, err := tx.NextProductSeq(ctx, st.ID)
		if err != nil {
			return err
		}
		p, err := tx.InsertProduct(ctx, domain.Product{
			ProductCode:       st.StoreCode + "_0001",
			Name:              "Sugar 1kg",
			StoreID:           st.ID,
			StoreCode:         st.StoreCode,
			SequenceNumber:    seq,
			LowStockThreshold: domain.DefaultLowThreshold,
			Unit:              "pkt",
			CreatedAt:         base,
			UpdatedAt:         base,
		})
		if err != nil {
			return err
		}
		f = fixture{store: *st, user: *u, product: *p}
		return nil
	})
	require.NoError(t, err)
	return f
}

func receive(t *testing.T, repo store.Repository, f fixture, qty int, cost string, received time.Time) domain.StockBatch {
	t.Helper()
	var out domain.StockBatch
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		b, err := tx.InsertBatch(ctx, domain.StockBatch{
			ProductID:        f.product.ID,
			ProductCode:      f.product.ProductCode,
			StoreID:          f.store.ID,
			StoreCode:        f.store.StoreCode,
			BatchNumber:      "B-" + cost,
			Quantity:         qty,
			OriginalQuantity: qty,
			BuyingPrice:      decimal.RequireFromString(cost),
			ShippingCost:     decimal.Zero,
			HandlingCost:     decimal.Zero,
			ReceivedDate:     received,
			IsActive:         true,
		})
		if err != nil {
			return err
		}
		out = *b
		return tx.AdjustProductStock(ctx, f.product.ID, qty)
	})
	require.NoError(t, err)
	return out
}

// Run exercises the Repository contract. newRepo must return an empty store.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("rollback discards every write", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		boom := errors.New("boom")

		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.InsertBatch(ctx, domain.StockBatch{
				ProductID: f.product.ID, ProductCode: f.product.ProductCode,
				StoreID: f.store.ID, StoreCode: f.store.StoreCode,
				BatchNumber: "X", Quantity: 3, OriginalQuantity: 3,
				BuyingPrice: decimal.NewFromInt(4), ReceivedDate: base, IsActive: true,
			}); err != nil {
				return err
			}
			if err := tx.AdjustProductStock(ctx, f.product.ID, 3); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		batches, err := repo.ListBatches(context.Background(), f.product.ID, true)
		require.NoError(t, err)
		assert.Empty(t, batches)
		p, err := repo.GetProduct(context.Background(), f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, p.StockQuantity)
	})

	t.Run("deplete is compare and swap", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		b := receive(t, repo, f, 10, "12", base)

		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.DepleteBatch(ctx, b.ID, 9, 2)
		})
		require.ErrorIs(t, err, store.ErrContention)

		err = repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.DepleteBatch(ctx, b.ID, 10, 10)
		})
		require.NoError(t, err)

		all, err := repo.ListBatches(context.Background(), f.product.ID, true)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, 0, all[0].Quantity)
		assert.False(t, all[0].IsActive)
		assert.Equal(t, 10, all[0].OriginalQuantity)

		active, err := repo.ListBatches(context.Background(), f.product.ID, false)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("deactivate keeps the remainder", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		b := receive(t, repo, f, 6, "12", base)

		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.DeactivateBatch(ctx, b.ID, 5)
		})
		require.ErrorIs(t, err, store.ErrContention)

		err = repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.DeactivateBatch(ctx, b.ID, 6)
		})
		require.NoError(t, err)

		all, err := repo.ListBatches(context.Background(), f.product.ID, true)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, 6, all[0].Quantity)
		assert.False(t, all[0].IsActive)

		active, err := repo.ListBatches(context.Background(), f.product.ID, false)
		require.NoError(t, err)
		assert.Empty(t, active)

		err = repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			total, err := tx.ActiveBatchQuantity(ctx, f.product.ID)
			assert.Equal(t, 0, total)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("product stock never goes negative", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.AdjustProductStock(ctx, f.product.ID, -1)
		})
		require.ErrorIs(t, err, store.ErrInsufficientStock)
	})

	t.Run("product sequence is monotonic", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		var second int
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			var err error
			second, err = tx.NextProductSeq(ctx, f.store.ID)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, f.product.SequenceNumber+1, second)
	})

	t.Run("duplicate product name in one store", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.InsertProduct(ctx, domain.Product{
				ProductCode: f.store.StoreCode + "_0099", Name: f.product.Name,
				StoreID: f.store.ID, StoreCode: f.store.StoreCode, SequenceNumber: 99,
				CreatedAt: base, UpdatedAt: base,
			})
			return err
		})
		require.ErrorIs(t, err, store.ErrDuplicate)
		assert.True(t, errors.Is(err, store.ErrValidation))
	})

	t.Run("price upsert keeps one row", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		for _, retail := range []string{"150", "175"} {
			err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				_, err := tx.UpsertPrice(ctx, domain.StorePrice{
					StoreID: f.store.ID, ProductID: f.product.ID, ProductCode: f.product.ProductCode,
					RetailPrice: decimal.RequireFromString(retail), WholesalePrice: decimal.NewFromInt(140),
					WholesaleThreshold: 10,
				})
				return err
			})
			require.NoError(t, err)
		}
		price, err := repo.GetPrice(context.Background(), f.store.ID, f.product.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(175).Equal(price.RetailPrice))
		assert.Equal(t, 10, price.WholesaleThreshold)
	})

	t.Run("sale margins use landed cost and profit", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		b1 := receive(t, repo, f, 5, "10", base)
		b2 := receive(t, repo, f, 10, "12", base.Add(24*time.Hour))
		soldAt := base.Add(48 * time.Hour)

		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			sale, err := tx.InsertSale(ctx, domain.Sale{
				StoreID: f.store.ID, StoreCode: f.store.StoreCode, UserID: f.user.ID,
				TotalPrice: decimal.NewFromInt(120), PaymentMethod: domain.PaymentCash, CreatedAt: soldAt,
			})
			if err != nil {
				return err
			}
			item, err := tx.InsertSaleItem(ctx, domain.SaleItem{
				SaleID: sale.ID, ProductID: f.product.ID, ProductCode: f.product.ProductCode,
				Quantity: 8, UnitPrice: decimal.NewFromInt(15), CostPrice: decimal.RequireFromString("10.75"),
			})
			if err != nil {
				return err
			}
			for _, draw := range []struct {
				batch domain.StockBatch
				qty   int
			}{{b1, 5}, {b2, 3}} {
				if err := tx.DepleteBatch(ctx, draw.batch.ID, draw.batch.Quantity, draw.qty); err != nil {
					return err
				}
				if _, err := tx.InsertAllocation(ctx, domain.SaleBatchAllocation{
					SaleID: sale.ID, SaleItemID: item.ID, ProductID: f.product.ID,
					BatchID: draw.batch.ID, Quantity: draw.qty, AllocatedAt: soldAt,
				}); err != nil {
					return err
				}
			}
			return tx.AdjustProductStock(ctx, f.product.ID, -8)
		})
		require.NoError(t, err)

		m, err := repo.SaleMargins(context.Background(), f.store.ID, base, soldAt.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, m.Sales)
		assert.Equal(t, "120.00", m.Revenue.StringFixed(2))
		assert.Equal(t, "86.00", m.CostOfGoods.StringFixed(2))
		assert.Equal(t, "34.00", m.GrossProfit.StringFixed(2))

		sales, err := repo.ListSales(context.Background(), f.store.ID, base, soldAt.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, sales, 1)
		require.Len(t, sales[0].Items, 1)
		assert.Len(t, sales[0].Items[0].Allocations, 2)

		outside, err := repo.ListSales(context.Background(), f.store.ID, soldAt.Add(time.Hour), soldAt.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, outside)
	})

	t.Run("sale margins stay exact with fractional costs", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		soldAt := base.Add(time.Hour)

		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			b, err := tx.InsertBatch(ctx, domain.StockBatch{
				ProductID: f.product.ID, ProductCode: f.product.ProductCode,
				StoreID: f.store.ID, StoreCode: f.store.StoreCode, BatchNumber: "B-frac",
				Quantity: 3, OriginalQuantity: 3,
				BuyingPrice:  decimal.RequireFromString("0.1"),
				ShippingCost: decimal.RequireFromString("0.2"),
				HandlingCost: decimal.Zero,
				ReceivedDate: base, IsActive: true,
			})
			if err != nil {
				return err
			}
			sale, err := tx.InsertSale(ctx, domain.Sale{
				StoreID: f.store.ID, StoreCode: f.store.StoreCode, UserID: f.user.ID,
				TotalPrice: decimal.NewFromInt(3), PaymentMethod: domain.PaymentCash, CreatedAt: soldAt,
			})
			if err != nil {
				return err
			}
			item, err := tx.InsertSaleItem(ctx, domain.SaleItem{
				SaleID: sale.ID, ProductID: f.product.ID, ProductCode: f.product.ProductCode,
				Quantity: 3, UnitPrice: decimal.NewFromInt(1), CostPrice: decimal.RequireFromString("0.3"),
			})
			if err != nil {
				return err
			}
			if err := tx.DepleteBatch(ctx, b.ID, 3, 3); err != nil {
				return err
			}
			_, err = tx.InsertAllocation(ctx, domain.SaleBatchAllocation{
				SaleID: sale.ID, SaleItemID: item.ID, ProductID: f.product.ID,
				BatchID: b.ID, Quantity: 3, AllocatedAt: soldAt,
			})
			return err
		})
		require.NoError(t, err)

		m, err := repo.SaleMargins(context.Background(), f.store.ID, base, soldAt.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("0.9").Equal(m.CostOfGoods), "cost of goods %s", m.CostOfGoods)
		assert.True(t, decimal.RequireFromString("2.1").Equal(m.GrossProfit), "gross profit %s", m.GrossProfit)
		assert.True(t, decimal.NewFromInt(3).Equal(m.Revenue), "revenue %s", m.Revenue)
	})

	t.Run("one debt per sale", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			sale, err := tx.InsertSale(ctx, domain.Sale{
				StoreID: f.store.ID, StoreCode: f.store.StoreCode, UserID: f.user.ID,
				TotalPrice: decimal.NewFromInt(50), PaymentMethod: domain.PaymentDebt, CreatedAt: base,
			})
			if err != nil {
				return err
			}
			debt := domain.Debt{
				SaleID: sale.ID, StoreID: f.store.ID, StoreCode: f.store.StoreCode, UserID: f.user.ID,
				DebtorName: "Juma", DebtorPhone: "+254712345678", AmountOwed: decimal.NewFromInt(50), CreatedAt: base,
			}
			if _, err := tx.InsertDebt(ctx, debt); err != nil {
				return err
			}
			_, err = tx.InsertDebt(ctx, debt)
			return err
		})
		require.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("outbox drains in order and marks synced", func(t *testing.T) {
		repo := newRepo(t)
		f := seed(t, repo)
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			for i := 0; i < 3; i++ {
				if err := tx.AppendOutbox(ctx, domain.OutboxEvent{
					StoreID: f.store.ID, Entity: domain.EntityProduct, EntityID: f.product.ID,
					Op: domain.OutboxOpUpdate, Payload: `{}`, CreatedAt: base,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		pending, err := repo.ListPendingOutbox(context.Background(), 2)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Less(t, pending[0].ID, pending[1].ID)

		require.NoError(t, repo.MarkOutboxPublished(context.Background(), []int64{pending[0].ID, pending[1].ID}, base))
		rest, err := repo.ListPendingOutbox(context.Background(), 10)
		require.NoError(t, err)
		assert.Len(t, rest, 1)

		require.NoError(t, repo.MarkSynced(context.Background(), domain.EntityProduct, []int64{f.product.ID}))
		p, err := repo.GetProduct(context.Background(), f.product.ID)
		require.NoError(t, err)
		assert.True(t, p.Synced)

		assert.ErrorIs(t, repo.MarkSynced(context.Background(), "pg_catalog", []int64{1}), store.ErrValidation)
	})
}
