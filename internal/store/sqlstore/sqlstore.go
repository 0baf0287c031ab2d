// Package sqlstore implements store.Repository over database/sql with sqlx.
// The postgres and sqlite packages supply the driver, schema and error mapping.
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
	"dukani/backend/internal/ledger"
	"dukani/backend/internal/store"
)

// Dialect captures what differs between the SQL engines.
type Dialect struct {
	Name string
	Bind int
	// LockSuffix is appended to SELECTs that read rows for update.
	LockSuffix string
	TxOptions  *sql.TxOptions
	// Classify maps a driver error onto the store sentinels. It returns nil
	// when the error is not one it recognizes.
	Classify func(err error) error
}

type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

func New(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs each statement in order. Statements must be idempotent.
func (s *Store) Migrate(ctx context.Context, statements []string) error {
	for i, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migration %d: %w", s.dialect.Name, i, err)
		}
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return sqlx.Rebind(s.dialect.Bind, query)
}

func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		store.ErrNotFound,
		store.ErrValidation,
		store.ErrInsufficientStock,
		store.ErrOverPayment,
		store.ErrContention,
		store.ErrReferentialIntegrity,
		store.ErrInvariant,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if s.dialect.Classify != nil {
		if mapped := s.dialect.Classify(err); mapped != nil {
			return fmt.Errorf("%w: %v", mapped, err)
		}
	}
	return err
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, s.dialect.TxOptions)
	if err != nil {
		return s.classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{s: s, tx: sqlTx}); err != nil {
		return s.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, q sqlx.QueryerContext, dest any, query string, args ...any) error {
	if err := sqlx.GetContext(ctx, q, dest, s.rebind(query), args...); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Store) selectAll(ctx context.Context, q sqlx.QueryerContext, dest any, query string, args ...any) error {
	if err := sqlx.SelectContext(ctx, q, dest, s.rebind(query), args...); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Store) GetStore(ctx context.Context, id int64) (*domain.Store, error) {
	var st domain.Store
	if err := s.get(ctx, s.db, &st, `SELECT `+storeColumns+` FROM stores WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetStoreByCode(ctx context.Context, code string) (*domain.Store, error) {
	var st domain.Store
	if err := s.get(ctx, s.db, &st, `SELECT `+storeColumns+` FROM stores WHERE store_code = ?`, code); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	out := make([]domain.Store, 0)
	err := s.selectAll(ctx, s.db, &out, `SELECT `+storeColumns+` FROM stores ORDER BY id`)
	return out, err
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := s.get(ctx, s.db, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := s.get(ctx, s.db, &u, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER(?)`, username); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUserStores(ctx context.Context, userID int64) ([]domain.UserStore, error) {
	out := make([]domain.UserStore, 0)
	err := s.selectAll(ctx, s.db, &out, `
		SELECT id, user_id, store_id, store_code, synced
		FROM user_stores
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	return out, err
}

func (s *Store) ListStoreUsers(ctx context.Context, storeID int64) ([]domain.User, error) {
	out := make([]domain.User, 0)
	err := s.selectAll(ctx, s.db, &out, `
		SELECT `+prefixed("u", userColumns)+`
		FROM users u
		JOIN user_stores us ON us.user_id = u.id
		WHERE us.store_id = ?
		ORDER BY us.id
	`, storeID)
	return out, err
}

func (s *Store) ListCommissions(ctx context.Context, userID int64) ([]domain.UserCommission, error) {
	out := make([]domain.UserCommission, 0)
	err := s.selectAll(ctx, s.db, &out, `SELECT `+commissionColumns+` FROM user_commissions WHERE user_id = ? ORDER BY id`, userID)
	return out, err
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	if err := s.get(ctx, s.db, &p, `SELECT `+productColumns+` FROM products WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, storeID int64) ([]domain.Product, error) {
	out := make([]domain.Product, 0)
	err := s.selectAll(ctx, s.db, &out, `SELECT `+productColumns+` FROM products WHERE store_id = ? ORDER BY id`, storeID)
	return out, err
}

func (s *Store) GetPrice(ctx context.Context, storeID int64, productID int64) (*domain.StorePrice, error) {
	var p domain.StorePrice
	if err := s.get(ctx, s.db, &p, `SELECT `+priceColumns+` FROM store_product_prices WHERE store_id = ? AND product_id = ?`, storeID, productID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListBatches(ctx context.Context, productID int64, includeInactive bool) ([]domain.StockBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM stock_batches WHERE product_id = ?`
	if !includeInactive {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY received_date ASC, id ASC`

	out := make([]domain.StockBatch, 0)
	err := s.selectAll(ctx, s.db, &out, query, productID)
	return out, err
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*domain.StockBatch, error) {
	var b domain.StockBatch
	if err := s.get(ctx, s.db, &b, `SELECT `+batchColumns+` FROM stock_batches WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return s.loadSale(ctx, s.db, id, "")
}

func (s *Store) loadSale(ctx context.Context, q sqlx.QueryerContext, id int64, suffix string) (*domain.Sale, error) {
	var sale domain.Sale
	if err := s.get(ctx, q, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = ?`+suffix, id); err != nil {
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := s.attachItems(ctx, q, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) attachItems(ctx context.Context, q sqlx.QueryerContext, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}

	itemsQuery, args, err := sqlx.In(`SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	items := make([]domain.SaleItem, 0)
	if err := s.selectAll(ctx, q, &items, itemsQuery, args...); err != nil {
		return err
	}

	allocQuery, args, err := sqlx.In(`SELECT `+allocationColumns+` FROM sale_batch_allocations WHERE sale_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	allocations := make([]domain.SaleBatchAllocation, 0)
	if err := s.selectAll(ctx, q, &allocations, allocQuery, args...); err != nil {
		return err
	}

	byItem := make(map[int64][]domain.SaleBatchAllocation, len(items))
	for _, a := range allocations {
		byItem[a.SaleItemID] = append(byItem[a.SaleItemID], a)
	}
	bySale := make(map[int64][]domain.SaleItem, len(sales))
	for _, item := range items {
		item.Allocations = byItem[item.ID]
		if item.Allocations == nil {
			item.Allocations = []domain.SaleBatchAllocation{}
		}
		bySale[item.SaleID] = append(bySale[item.SaleID], item)
	}
	for i := range sales {
		sales[i].Items = bySale[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return nil
}

func (s *Store) ListSales(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0)
	if err := s.selectAll(ctx, s.db, &out, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE store_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY id
	`, storeID, from.UTC(), to.UTC()); err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaleMargins reads the generated landed_cost and profit columns. Sums are
// rounded to ledger.CostPlaces since SQLite computes them in floating point.
func (s *Store) SaleMargins(ctx context.Context, storeID int64, from time.Time, to time.Time) (store.Margins, error) {
	var m store.Margins
	var head struct {
		Sales   int             `db:"sales"`
		Revenue decimal.Decimal `db:"revenue"`
	}
	if err := s.get(ctx, s.db, &head, `
		SELECT COUNT(*) AS sales, COALESCE(SUM(total_price), 0) AS revenue
		FROM sales
		WHERE store_id = ? AND created_at >= ? AND created_at < ?
	`, storeID, from.UTC(), to.UTC()); err != nil {
		return store.Margins{}, err
	}
	m.Sales = head.Sales
	m.Revenue = head.Revenue.Round(ledger.CostPlaces)

	var gross decimal.Decimal
	if err := s.get(ctx, s.db, &gross, `
		SELECT COALESCE(SUM(si.quantity * si.profit), 0)
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE s.store_id = ? AND s.created_at >= ? AND s.created_at < ?
	`, storeID, from.UTC(), to.UTC()); err != nil {
		return store.Margins{}, err
	}
	m.GrossProfit = gross.Round(ledger.CostPlaces)

	var cogs decimal.Decimal
	if err := s.get(ctx, s.db, &cogs, `
		SELECT COALESCE(SUM(a.quantity * b.landed_cost), 0)
		FROM sale_batch_allocations a
		JOIN stock_batches b ON b.id = a.batch_id
		JOIN sales s ON s.id = a.sale_id
		WHERE s.store_id = ? AND s.created_at >= ? AND s.created_at < ?
	`, storeID, from.UTC(), to.UTC()); err != nil {
		return store.Margins{}, err
	}
	m.CostOfGoods = cogs.Round(ledger.CostPlaces)
	return m, nil
}

func (s *Store) SalesBySeller(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]store.SellerSales, error) {
	var rows []struct {
		UserID  int64           `db:"user_id"`
		Sales   int             `db:"sales"`
		Revenue decimal.Decimal `db:"revenue"`
	}
	if err := s.selectAll(ctx, s.db, &rows, `
		SELECT user_id, COUNT(*) AS sales, COALESCE(SUM(total_price), 0) AS revenue
		FROM sales
		WHERE store_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY user_id
		ORDER BY user_id
	`, storeID, from.UTC(), to.UTC()); err != nil {
		return nil, err
	}
	out := make([]store.SellerSales, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.SellerSales{UserID: r.UserID, Sales: r.Sales, Revenue: r.Revenue})
	}
	return out, nil
}

func (s *Store) GetDebt(ctx context.Context, id int64) (*domain.Debt, error) {
	var d domain.Debt
	if err := s.get(ctx, s.db, &d, `SELECT `+debtColumns+` FROM debts WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDebts(ctx context.Context, storeID int64) ([]domain.Debt, error) {
	out := make([]domain.Debt, 0)
	err := s.selectAll(ctx, s.db, &out, `SELECT `+debtColumns+` FROM debts WHERE store_id = ? ORDER BY id`, storeID)
	return out, err
}

func (s *Store) ListDebtPayments(ctx context.Context, debtID int64) ([]domain.DebtPayment, error) {
	out := make([]domain.DebtPayment, 0)
	err := s.selectAll(ctx, s.db, &out, `SELECT `+debtPaymentColumns+` FROM debt_payments WHERE debt_id = ? ORDER BY id`, debtID)
	return out, err
}

func (s *Store) ListBusinessCosts(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.BusinessCost, error) {
	out := make([]domain.BusinessCost, 0)
	err := s.selectAll(ctx, s.db, &out, `
		SELECT `+businessCostColumns+`
		FROM business_costs
		WHERE store_id = ? AND cost_date >= ? AND cost_date < ?
		ORDER BY id
	`, storeID, from.UTC(), to.UTC())
	return out, err
}

func (s *Store) ListSystemCosts(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.SystemCost, error) {
	out := make([]domain.SystemCost, 0)
	err := s.selectAll(ctx, s.db, &out, `
		SELECT `+systemCostColumns+`
		FROM system_costs
		WHERE store_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY id
	`, storeID, from.UTC(), to.UTC())
	return out, err
}

func (s *Store) ListOtherPayments(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.OtherPayment, error) {
	out := make([]domain.OtherPayment, 0)
	err := s.selectAll(ctx, s.db, &out, `
		SELECT `+otherPaymentColumns+`
		FROM other_payments
		WHERE store_id = ? AND payment_date >= ? AND payment_date < ?
		ORDER BY id
	`, storeID, from.UTC(), to.UTC())
	return out, err
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit < 1 {
		limit = 100
	}
	out := make([]domain.OutboxEvent, 0, limit)
	err := s.selectAll(ctx, s.db, &out, `
		SELECT id, store_id, entity, entity_id, op, payload, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	return out, err
}

func (s *Store) MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE outbox_events SET published_at = ? WHERE id IN (?) AND published_at IS NULL`, at.UTC(), ids)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Store) MarkSynced(ctx context.Context, entity string, ids []int64) error {
	if !domain.OneOf(entity, domain.SyncedEntities) {
		return fmt.Errorf("entity %q: %w", entity, store.ErrValidation)
	}
	if len(ids) == 0 {
		return nil
	}
	// entity is checked against a closed set above
	query, args, err := sqlx.In(`UPDATE `+entity+` SET synced = TRUE WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return s.classify(err)
	}
	return nil
}
