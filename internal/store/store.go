package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation error")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOverPayment          = errors.New("payment exceeds remaining balance")
	ErrContention           = errors.New("concurrent update contention")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrInvariant            = errors.New("stock invariant violated")

	ErrPriceTierMismatch = fmt.Errorf("price tier mismatch: %w", ErrValidation)
	ErrDuplicate         = fmt.Errorf("duplicate record: %w", ErrValidation)
	ErrUnknownStore      = fmt.Errorf("unknown store: %w", ErrReferentialIntegrity)
	ErrUnknownProduct    = fmt.Errorf("unknown product: %w", ErrReferentialIntegrity)
	ErrUnknownUser       = fmt.Errorf("unknown user: %w", ErrReferentialIntegrity)
)

// Margins aggregates sales of one store over a time range.
type Margins struct {
	Sales       int
	Revenue     decimal.Decimal
	CostOfGoods decimal.Decimal
	GrossProfit decimal.Decimal
}

type SellerSales struct {
	UserID  int64
	Sales   int
	Revenue decimal.Decimal
}

// Repository exposes committed state. Every write goes through RunInTx.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetStore(ctx context.Context, id int64) (*domain.Store, error)
	GetStoreByCode(ctx context.Context, code string) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)

	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUserStores(ctx context.Context, userID int64) ([]domain.UserStore, error)
	ListStoreUsers(ctx context.Context, storeID int64) ([]domain.User, error)
	ListCommissions(ctx context.Context, userID int64) ([]domain.UserCommission, error)

	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID int64) ([]domain.Product, error)
	GetPrice(ctx context.Context, storeID int64, productID int64) (*domain.StorePrice, error)
	ListBatches(ctx context.Context, productID int64, includeInactive bool) ([]domain.StockBatch, error)
	GetBatch(ctx context.Context, id int64) (*domain.StockBatch, error)

	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.Sale, error)
	SaleMargins(ctx context.Context, storeID int64, from time.Time, to time.Time) (Margins, error)
	SalesBySeller(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]SellerSales, error)

	GetDebt(ctx context.Context, id int64) (*domain.Debt, error)
	ListDebts(ctx context.Context, storeID int64) ([]domain.Debt, error)
	ListDebtPayments(ctx context.Context, debtID int64) ([]domain.DebtPayment, error)

	ListBusinessCosts(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.BusinessCost, error)
	ListSystemCosts(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.SystemCost, error)
	ListOtherPayments(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.OtherPayment, error)

	ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error
	MarkSynced(ctx context.Context, entity string, ids []int64) error

	Close() error
}

// Tx is one unit of work. Reads through a Tx lock the rows they return
// where the backend supports row locks.
type Tx interface {
	InsertStore(ctx context.Context, s domain.Store) (*domain.Store, error)
	GetStore(ctx context.Context, id int64) (*domain.Store, error)
	NextProductSeq(ctx context.Context, storeID int64) (int, error)

	InsertUser(ctx context.Context, u domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	InsertUserStore(ctx context.Context, us domain.UserStore) (*domain.UserStore, error)
	SetCurrentStore(ctx context.Context, userID int64, storeID int64, storeCode string) error
	MarkStoreHasBoss(ctx context.Context, storeID int64) error
	InsertCommission(ctx context.Context, c domain.UserCommission) (*domain.UserCommission, error)
	DeactivateCommissions(ctx context.Context, userID int64) error

	InsertProduct(ctx context.Context, p domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	AdjustProductStock(ctx context.Context, productID int64, delta int) error
	UpsertPrice(ctx context.Context, p domain.StorePrice) (*domain.StorePrice, error)
	GetPrice(ctx context.Context, storeID int64, productID int64) (*domain.StorePrice, error)

	InsertBatch(ctx context.Context, b domain.StockBatch) (*domain.StockBatch, error)
	GetBatch(ctx context.Context, id int64) (*domain.StockBatch, error)
	LockActiveBatches(ctx context.Context, productID int64) ([]domain.StockBatch, error)
	ListActiveStoreBatches(ctx context.Context, storeID int64) ([]domain.StockBatch, error)
	// DepleteBatch subtracts qty when the batch still holds expected units,
	// deactivating it at zero. A changed quantity yields ErrContention.
	DepleteBatch(ctx context.Context, batchID int64, expected int, qty int) error
	// DeactivateBatch retires an active batch that still holds expected units.
	// The remainder stays on the row as the written-off amount.
	DeactivateBatch(ctx context.Context, batchID int64, expected int) error
	ActiveBatchQuantity(ctx context.Context, productID int64) (int, error)

	InsertSale(ctx context.Context, s domain.Sale) (*domain.Sale, error)
	InsertSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)
	InsertAllocation(ctx context.Context, a domain.SaleBatchAllocation) (*domain.SaleBatchAllocation, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)

	InsertDebt(ctx context.Context, d domain.Debt) (*domain.Debt, error)
	GetDebt(ctx context.Context, id int64) (*domain.Debt, error)
	DebtPaidTotal(ctx context.Context, debtID int64) (decimal.Decimal, error)
	InsertDebtPayment(ctx context.Context, p domain.DebtPayment) (*domain.DebtPayment, error)
	// ListDebtorDebts returns a debtor's debts oldest first.
	ListDebtorDebts(ctx context.Context, storeID int64, name string, phone string) ([]domain.Debt, error)

	InsertBusinessCost(ctx context.Context, c domain.BusinessCost) (*domain.BusinessCost, error)
	InsertSystemCost(ctx context.Context, c domain.SystemCost) (*domain.SystemCost, error)
	InsertOtherPayment(ctx context.Context, p domain.OtherPayment) (*domain.OtherPayment, error)

	AppendOutbox(ctx context.Context, e domain.OutboxEvent) error
}
