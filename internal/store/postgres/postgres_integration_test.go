package postgres

import (
	"context"
	"os"
	"testing"

	"dukani/backend/internal/store"
	"dukani/backend/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	databaseURL := os.Getenv("DUKANI_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DUKANI_TEST_DATABASE_URL to run postgres integration test")
	}

	storetest.Run(t, func(t *testing.T) store.Repository {
		ctx := context.Background()
		s, err := New(ctx, databaseURL)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		if _, err := s.DB().ExecContext(ctx, `
			TRUNCATE outbox_events, other_payments, system_costs, business_costs,
				debt_payments, debts, sale_batch_allocations, sale_items, sales,
				stock_batches, store_product_prices, products, user_commissions,
				user_stores, stores, users
			RESTART IDENTITY CASCADE
		`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() {
			_ = s.Close()
		})
		return s
	})
}
