package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
)

type tx struct {
	s  *Store
	tx *sqlx.Tx
}

func (t *tx) insert(ctx context.Context, table string, columns string, arg any) (int64, error) {
	rows, err := sqlx.NamedQueryContext(ctx, t.tx, insertStatement(table, columns), arg)
	if err != nil {
		return 0, t.s.classify(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, t.s.classify(err)
		}
		return 0, fmt.Errorf("insert %s returned no id", table)
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Err()
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.s.rebind(query), args...)
	if err != nil {
		return nil, t.s.classify(err)
	}
	return res, nil
}

// execOne fails with ifNone when the statement touches no row.
func (t *tx) execOne(ctx context.Context, ifNone error, query string, args ...any) error {
	res, err := t.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ifNone
	}
	return nil
}

func (t *tx) forUpdate() string {
	return t.s.dialect.LockSuffix
}

func (t *tx) InsertStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	id, err := t.insert(ctx, "stores", storeColumns, st)
	if err != nil {
		return nil, err
	}
	st.ID = id
	return &st, nil
}

func (t *tx) GetStore(ctx context.Context, id int64) (*domain.Store, error) {
	var st domain.Store
	if err := t.s.get(ctx, t.tx, &st, `SELECT `+storeColumns+` FROM stores WHERE id = ?`+t.forUpdate(), id); err != nil {
		return nil, err
	}
	return &st, nil
}

func (t *tx) NextProductSeq(ctx context.Context, storeID int64) (int, error) {
	var seq int
	err := t.s.get(ctx, t.tx, &seq, `
		UPDATE stores SET next_product_seq = next_product_seq + 1
		WHERE id = ?
		RETURNING next_product_seq
	`, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, store.ErrUnknownStore
		}
		return 0, err
	}
	return seq, nil
}

func (t *tx) InsertUser(ctx context.Context, u domain.User) (*domain.User, error) {
	id, err := t.insert(ctx, "users", userColumns, u)
	if err != nil {
		return nil, err
	}
	u.ID = id
	return &u, nil
}

func (t *tx) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := t.s.get(ctx, t.tx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *tx) InsertUserStore(ctx context.Context, us domain.UserStore) (*domain.UserStore, error) {
	id, err := t.insert(ctx, "user_stores", `id, user_id, store_id, store_code, synced`, us)
	if err != nil {
		return nil, err
	}
	us.ID = id
	return &us, nil
}

func (t *tx) SetCurrentStore(ctx context.Context, userID int64, storeID int64, storeCode string) error {
	return t.execOne(ctx, store.ErrUnknownUser, `
		UPDATE users SET current_store_id = ?, current_store_code = ?, synced = FALSE
		WHERE id = ?
	`, storeID, storeCode, userID)
}

func (t *tx) MarkStoreHasBoss(ctx context.Context, storeID int64) error {
	return t.execOne(ctx, store.ErrUnknownStore, `UPDATE stores SET has_boss = TRUE, synced = FALSE WHERE id = ?`, storeID)
}

func (t *tx) InsertCommission(ctx context.Context, c domain.UserCommission) (*domain.UserCommission, error) {
	id, err := t.insert(ctx, "user_commissions", commissionColumns, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

func (t *tx) DeactivateCommissions(ctx context.Context, userID int64) error {
	_, err := t.exec(ctx, `UPDATE user_commissions SET is_active = FALSE, synced = FALSE WHERE user_id = ? AND is_active = TRUE`, userID)
	return err
}

func (t *tx) InsertProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	id, err := t.insert(ctx, "products", productColumns, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

func (t *tx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	if err := t.s.get(ctx, t.tx, &p, `SELECT `+productColumns+` FROM products WHERE id = ?`+t.forUpdate(), id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) AdjustProductStock(ctx context.Context, productID int64, delta int) error {
	err := t.execOne(ctx, store.ErrInsufficientStock, `
		UPDATE products
		SET stock_quantity = stock_quantity + ?, updated_at = ?, synced = FALSE
		WHERE id = ? AND stock_quantity + ? >= 0
	`, delta, time.Now().UTC(), productID, delta)
	if errors.Is(err, store.ErrInsufficientStock) {
		return fmt.Errorf("product %d adjust %d: %w", productID, delta, err)
	}
	return err
}

func (t *tx) UpsertPrice(ctx context.Context, p domain.StorePrice) (*domain.StorePrice, error) {
	var id int64
	err := t.s.get(ctx, t.tx, &id, `
		INSERT INTO store_product_prices (store_id, product_id, product_code, retail_price, wholesale_price, wholesale_threshold, synced)
		VALUES (?, ?, ?, ?, ?, ?, FALSE)
		ON CONFLICT (store_id, product_id) DO UPDATE SET
			retail_price = excluded.retail_price,
			wholesale_price = excluded.wholesale_price,
			wholesale_threshold = excluded.wholesale_threshold,
			synced = FALSE
		RETURNING id
	`, p.StoreID, p.ProductID, p.ProductCode, p.RetailPrice, p.WholesalePrice, p.WholesaleThreshold)
	if err != nil {
		return nil, err
	}
	p.ID = id
	p.Synced = false
	return &p, nil
}

func (t *tx) GetPrice(ctx context.Context, storeID int64, productID int64) (*domain.StorePrice, error) {
	var p domain.StorePrice
	if err := t.s.get(ctx, t.tx, &p, `SELECT `+priceColumns+` FROM store_product_prices WHERE store_id = ? AND product_id = ?`, storeID, productID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) InsertBatch(ctx context.Context, b domain.StockBatch) (*domain.StockBatch, error) {
	id, err := t.insert(ctx, "stock_batches", batchColumns, b)
	if err != nil {
		return nil, err
	}
	b.ID = id
	return &b, nil
}

func (t *tx) GetBatch(ctx context.Context, id int64) (*domain.StockBatch, error) {
	var b domain.StockBatch
	if err := t.s.get(ctx, t.tx, &b, `SELECT `+batchColumns+` FROM stock_batches WHERE id = ?`+t.forUpdate(), id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *tx) LockActiveBatches(ctx context.Context, productID int64) ([]domain.StockBatch, error) {
	out := make([]domain.StockBatch, 0)
	err := t.s.selectAll(ctx, t.tx, &out, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE product_id = ? AND is_active = TRUE AND quantity > 0
		ORDER BY received_date ASC, id ASC`+t.forUpdate(), productID)
	return out, err
}

func (t *tx) ListActiveStoreBatches(ctx context.Context, storeID int64) ([]domain.StockBatch, error) {
	out := make([]domain.StockBatch, 0)
	err := t.s.selectAll(ctx, t.tx, &out, `
		SELECT `+batchColumns+`
		FROM stock_batches
		WHERE store_id = ? AND is_active = TRUE
		ORDER BY received_date ASC, id ASC`+t.forUpdate(), storeID)
	return out, err
}

func (t *tx) DepleteBatch(ctx context.Context, batchID int64, expected int, qty int) error {
	if qty > expected {
		return fmt.Errorf("batch %d holds %d, requested %d: %w", batchID, expected, qty, store.ErrInsufficientStock)
	}
	return t.execOne(ctx, fmt.Errorf("batch %d no longer holds %d: %w", batchID, expected, store.ErrContention), `
		UPDATE stock_batches
		SET quantity = quantity - ?,
			is_active = CASE WHEN quantity - ? = 0 THEN FALSE ELSE is_active END,
			synced = FALSE
		WHERE id = ? AND quantity = ? AND is_active = TRUE
	`, qty, qty, batchID, expected)
}

func (t *tx) DeactivateBatch(ctx context.Context, batchID int64, expected int) error {
	return t.execOne(ctx, fmt.Errorf("batch %d no longer holds %d: %w", batchID, expected, store.ErrContention), `
		UPDATE stock_batches
		SET is_active = FALSE, synced = FALSE
		WHERE id = ? AND quantity = ? AND is_active = TRUE
	`, batchID, expected)
}

func (t *tx) ActiveBatchQuantity(ctx context.Context, productID int64) (int, error) {
	var total int
	err := t.s.get(ctx, t.tx, &total, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_batches
		WHERE product_id = ? AND is_active = TRUE
	`, productID)
	return total, err
}

func (t *tx) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	id, err := t.insert(ctx, "sales", saleColumns, sale)
	if err != nil {
		return nil, err
	}
	sale.ID = id
	sale.Items = nil
	return &sale, nil
}

func (t *tx) InsertSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	id, err := t.insert(ctx, "sale_items", saleItemColumns, item)
	if err != nil {
		return nil, err
	}
	item.ID = id
	item.Allocations = nil
	return &item, nil
}

func (t *tx) InsertAllocation(ctx context.Context, a domain.SaleBatchAllocation) (*domain.SaleBatchAllocation, error) {
	id, err := t.insert(ctx, "sale_batch_allocations", allocationColumns, a)
	if err != nil {
		return nil, err
	}
	a.ID = id
	return &a, nil
}

func (t *tx) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return t.s.loadSale(ctx, t.tx, id, t.forUpdate())
}

func (t *tx) InsertDebt(ctx context.Context, d domain.Debt) (*domain.Debt, error) {
	id, err := t.insert(ctx, "debts", debtColumns, d)
	if err != nil {
		return nil, err
	}
	d.ID = id
	return &d, nil
}

func (t *tx) GetDebt(ctx context.Context, id int64) (*domain.Debt, error) {
	var d domain.Debt
	if err := t.s.get(ctx, t.tx, &d, `SELECT `+debtColumns+` FROM debts WHERE id = ?`+t.forUpdate(), id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *tx) DebtPaidTotal(ctx context.Context, debtID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.s.get(ctx, t.tx, &total, `SELECT COALESCE(SUM(amount), 0) FROM debt_payments WHERE debt_id = ?`, debtID)
	return total, err
}

func (t *tx) InsertDebtPayment(ctx context.Context, p domain.DebtPayment) (*domain.DebtPayment, error) {
	id, err := t.insert(ctx, "debt_payments", debtPaymentColumns, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

func (t *tx) ListDebtorDebts(ctx context.Context, storeID int64, name string, phone string) ([]domain.Debt, error) {
	out := make([]domain.Debt, 0)
	err := t.s.selectAll(ctx, t.tx, &out, `
		SELECT `+debtColumns+`
		FROM debts
		WHERE store_id = ? AND debtor_phone = ? AND LOWER(debtor_name) = LOWER(?)
		ORDER BY created_at ASC, id ASC`+t.forUpdate(), storeID, phone, name)
	return out, err
}

func (t *tx) InsertBusinessCost(ctx context.Context, c domain.BusinessCost) (*domain.BusinessCost, error) {
	id, err := t.insert(ctx, "business_costs", businessCostColumns, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

func (t *tx) InsertSystemCost(ctx context.Context, c domain.SystemCost) (*domain.SystemCost, error) {
	id, err := t.insert(ctx, "system_costs", systemCostColumns, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

func (t *tx) InsertOtherPayment(ctx context.Context, p domain.OtherPayment) (*domain.OtherPayment, error) {
	id, err := t.insert(ctx, "other_payments", otherPaymentColumns, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

func (t *tx) AppendOutbox(ctx context.Context, e domain.OutboxEvent) error {
	_, err := t.insert(ctx, "outbox_events", `id, store_id, entity, entity_id, op, payload, created_at, published_at`, e)
	return err
}
