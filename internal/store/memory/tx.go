package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/ledger"
	"dukani/backend/internal/store"
)

type memTx struct {
	s    *Store
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func put[T any](tx *memTx, m map[int64]T, id int64, v T) {
	prev, existed := m[id]
	m[id] = v
	tx.undo = append(tx.undo, func() {
		if existed {
			m[id] = prev
			return
		}
		delete(m, id)
	})
}

func (tx *memTx) InsertStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	for _, existing := range tx.s.stores {
		if existing.StoreCode == st.StoreCode {
			return nil, fmt.Errorf("store code %s: %w", st.StoreCode, store.ErrDuplicate)
		}
		if strings.EqualFold(existing.Name, st.Name) {
			return nil, fmt.Errorf("store name %s: %w", st.Name, store.ErrDuplicate)
		}
	}
	if st.OwnerID != nil {
		if _, ok := tx.s.users[*st.OwnerID]; !ok {
			return nil, store.ErrUnknownUser
		}
	}
	st.ID = tx.s.nextID(domain.EntityStore)
	put(tx, tx.s.stores, st.ID, st)
	return &st, nil
}

func (tx *memTx) GetStore(_ context.Context, id int64) (*domain.Store, error) {
	st, ok := tx.s.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (tx *memTx) NextProductSeq(_ context.Context, storeID int64) (int, error) {
	st, ok := tx.s.stores[storeID]
	if !ok {
		return 0, store.ErrUnknownStore
	}
	st.NextProductSeq++
	put(tx, tx.s.stores, st.ID, st)
	return st.NextProductSeq, nil
}

func (tx *memTx) InsertUser(_ context.Context, u domain.User) (*domain.User, error) {
	for _, existing := range tx.s.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return nil, fmt.Errorf("username %s: %w", u.Username, store.ErrDuplicate)
		}
		if u.Email != nil && existing.Email != nil && strings.EqualFold(*existing.Email, *u.Email) {
			return nil, fmt.Errorf("email %s: %w", *u.Email, store.ErrDuplicate)
		}
	}
	u.ID = tx.s.nextID(domain.EntityUser)
	put(tx, tx.s.users, u.ID, u)
	return &u, nil
}

func (tx *memTx) GetUser(_ context.Context, id int64) (*domain.User, error) {
	u, ok := tx.s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (tx *memTx) InsertUserStore(_ context.Context, us domain.UserStore) (*domain.UserStore, error) {
	if _, ok := tx.s.users[us.UserID]; !ok {
		return nil, store.ErrUnknownUser
	}
	if _, ok := tx.s.stores[us.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	for _, existing := range tx.s.userStores {
		if existing.UserID == us.UserID && existing.StoreID == us.StoreID {
			return nil, fmt.Errorf("user %d store %d: %w", us.UserID, us.StoreID, store.ErrDuplicate)
		}
	}
	us.ID = tx.s.nextID(domain.EntityUserStore)
	put(tx, tx.s.userStores, us.ID, us)
	return &us, nil
}

func (tx *memTx) SetCurrentStore(_ context.Context, userID int64, storeID int64, storeCode string) error {
	u, ok := tx.s.users[userID]
	if !ok {
		return store.ErrUnknownUser
	}
	u.CurrentStoreID = &storeID
	u.CurrentStoreCode = &storeCode
	put(tx, tx.s.users, u.ID, u)
	return nil
}

func (tx *memTx) MarkStoreHasBoss(_ context.Context, storeID int64) error {
	st, ok := tx.s.stores[storeID]
	if !ok {
		return store.ErrUnknownStore
	}
	st.HasBoss = true
	put(tx, tx.s.stores, st.ID, st)
	return nil
}

func (tx *memTx) InsertCommission(_ context.Context, c domain.UserCommission) (*domain.UserCommission, error) {
	if _, ok := tx.s.users[c.UserID]; !ok {
		return nil, store.ErrUnknownUser
	}
	c.ID = tx.s.nextID(domain.EntityCommission)
	put(tx, tx.s.commissions, c.ID, c)
	return &c, nil
}

func (tx *memTx) DeactivateCommissions(_ context.Context, userID int64) error {
	for id, c := range tx.s.commissions {
		if c.UserID == userID && c.IsActive {
			c.IsActive = false
			put(tx, tx.s.commissions, id, c)
		}
	}
	return nil
}

func (tx *memTx) InsertProduct(_ context.Context, p domain.Product) (*domain.Product, error) {
	if _, ok := tx.s.stores[p.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	if p.ParentProductID != nil {
		if _, ok := tx.s.products[*p.ParentProductID]; !ok {
			return nil, store.ErrUnknownProduct
		}
	}
	for _, existing := range tx.s.products {
		if existing.StoreID != p.StoreID {
			continue
		}
		if strings.EqualFold(existing.Name, p.Name) {
			return nil, fmt.Errorf("product name %s: %w", p.Name, store.ErrDuplicate)
		}
		if existing.SequenceNumber == p.SequenceNumber || existing.ProductCode == p.ProductCode {
			return nil, fmt.Errorf("product code %s: %w", p.ProductCode, store.ErrDuplicate)
		}
	}
	p.ID = tx.s.nextID(domain.EntityProduct)
	put(tx, tx.s.products, p.ID, p)
	return &p, nil
}

func (tx *memTx) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := tx.s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (tx *memTx) AdjustProductStock(_ context.Context, productID int64, delta int) error {
	p, ok := tx.s.products[productID]
	if !ok {
		return store.ErrUnknownProduct
	}
	if p.StockQuantity+delta < 0 {
		return fmt.Errorf("product %d stock %d adjust %d: %w", productID, p.StockQuantity, delta, store.ErrInsufficientStock)
	}
	p.StockQuantity += delta
	put(tx, tx.s.products, p.ID, p)
	return nil
}

func (tx *memTx) UpsertPrice(_ context.Context, price domain.StorePrice) (*domain.StorePrice, error) {
	if _, ok := tx.s.stores[price.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	if _, ok := tx.s.products[price.ProductID]; !ok {
		return nil, store.ErrUnknownProduct
	}
	if existing, err := tx.s.findPrice(price.StoreID, price.ProductID); err == nil {
		price.ID = existing.ID
	} else {
		price.ID = tx.s.nextID(domain.EntityPrice)
	}
	put(tx, tx.s.prices, price.ID, price)
	return &price, nil
}

func (tx *memTx) GetPrice(_ context.Context, storeID int64, productID int64) (*domain.StorePrice, error) {
	return tx.s.findPrice(storeID, productID)
}

func (tx *memTx) InsertBatch(_ context.Context, b domain.StockBatch) (*domain.StockBatch, error) {
	if _, ok := tx.s.products[b.ProductID]; !ok {
		return nil, store.ErrUnknownProduct
	}
	if _, ok := tx.s.stores[b.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	b.ID = tx.s.nextID(domain.EntityBatch)
	put(tx, tx.s.batches, b.ID, b)
	return &b, nil
}

func (tx *memTx) GetBatch(_ context.Context, id int64) (*domain.StockBatch, error) {
	b, ok := tx.s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (tx *memTx) LockActiveBatches(_ context.Context, productID int64) ([]domain.StockBatch, error) {
	out := make([]domain.StockBatch, 0)
	for _, b := range tx.s.batches {
		if b.ProductID == productID && b.IsActive && b.Quantity > 0 {
			out = append(out, b)
		}
	}
	ledger.SortFIFO(out)
	return out, nil
}

func (tx *memTx) ListActiveStoreBatches(_ context.Context, storeID int64) ([]domain.StockBatch, error) {
	out := make([]domain.StockBatch, 0)
	for _, b := range tx.s.batches {
		if b.StoreID == storeID && b.IsActive {
			out = append(out, b)
		}
	}
	ledger.SortFIFO(out)
	return out, nil
}

func (tx *memTx) DepleteBatch(_ context.Context, batchID int64, expected int, qty int) error {
	b, ok := tx.s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if !b.IsActive || b.Quantity != expected {
		return fmt.Errorf("batch %d holds %d, expected %d: %w", batchID, b.Quantity, expected, store.ErrContention)
	}
	if qty > b.Quantity {
		return fmt.Errorf("batch %d holds %d, requested %d: %w", batchID, b.Quantity, qty, store.ErrInsufficientStock)
	}
	b.Quantity -= qty
	if b.Quantity == 0 {
		b.IsActive = false
	}
	put(tx, tx.s.batches, b.ID, b)
	return nil
}

func (tx *memTx) DeactivateBatch(_ context.Context, batchID int64, expected int) error {
	b, ok := tx.s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if !b.IsActive || b.Quantity != expected {
		return fmt.Errorf("batch %d holds %d, expected %d: %w", batchID, b.Quantity, expected, store.ErrContention)
	}
	b.IsActive = false
	put(tx, tx.s.batches, b.ID, b)
	return nil
}

func (tx *memTx) ActiveBatchQuantity(_ context.Context, productID int64) (int, error) {
	total := 0
	for _, b := range tx.s.batches {
		if b.ProductID == productID && b.IsActive {
			total += b.Quantity
		}
	}
	return total, nil
}

func (tx *memTx) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if _, ok := tx.s.stores[sale.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	if _, ok := tx.s.users[sale.UserID]; !ok {
		return nil, store.ErrUnknownUser
	}
	sale.ID = tx.s.nextID(domain.EntitySale)
	sale.Items = nil
	put(tx, tx.s.sales, sale.ID, sale)
	return &sale, nil
}

func (tx *memTx) InsertSaleItem(_ context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if _, ok := tx.s.sales[item.SaleID]; !ok {
		return nil, fmt.Errorf("sale %d: %w", item.SaleID, store.ErrReferentialIntegrity)
	}
	if _, ok := tx.s.products[item.ProductID]; !ok {
		return nil, store.ErrUnknownProduct
	}
	item.ID = tx.s.nextID(domain.EntitySaleItem)
	item.Allocations = nil
	put(tx, tx.s.saleItems, item.ID, item)
	return &item, nil
}

func (tx *memTx) InsertAllocation(_ context.Context, a domain.SaleBatchAllocation) (*domain.SaleBatchAllocation, error) {
	if _, ok := tx.s.saleItems[a.SaleItemID]; !ok {
		return nil, fmt.Errorf("sale item %d: %w", a.SaleItemID, store.ErrReferentialIntegrity)
	}
	if _, ok := tx.s.batches[a.BatchID]; !ok {
		return nil, fmt.Errorf("batch %d: %w", a.BatchID, store.ErrReferentialIntegrity)
	}
	a.ID = tx.s.nextID(domain.EntityAllocation)
	put(tx, tx.s.allocations, a.ID, a)
	return &a, nil
}

func (tx *memTx) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	return tx.s.loadSale(id)
}

func (tx *memTx) InsertDebt(_ context.Context, d domain.Debt) (*domain.Debt, error) {
	if _, ok := tx.s.sales[d.SaleID]; !ok {
		return nil, fmt.Errorf("sale %d: %w", d.SaleID, store.ErrReferentialIntegrity)
	}
	for _, existing := range tx.s.debts {
		if existing.SaleID == d.SaleID {
			return nil, fmt.Errorf("debt for sale %d: %w", d.SaleID, store.ErrDuplicate)
		}
	}
	d.ID = tx.s.nextID(domain.EntityDebt)
	put(tx, tx.s.debts, d.ID, d)
	return &d, nil
}

func (tx *memTx) GetDebt(_ context.Context, id int64) (*domain.Debt, error) {
	d, ok := tx.s.debts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (tx *memTx) DebtPaidTotal(_ context.Context, debtID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range tx.s.debtPayments {
		if p.DebtID == debtID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (tx *memTx) InsertDebtPayment(_ context.Context, p domain.DebtPayment) (*domain.DebtPayment, error) {
	if _, ok := tx.s.debts[p.DebtID]; !ok {
		return nil, fmt.Errorf("debt %d: %w", p.DebtID, store.ErrReferentialIntegrity)
	}
	p.ID = tx.s.nextID(domain.EntityDebtPayment)
	put(tx, tx.s.debtPayments, p.ID, p)
	return &p, nil
}

func (tx *memTx) ListDebtorDebts(_ context.Context, storeID int64, name string, phone string) ([]domain.Debt, error) {
	out := make([]domain.Debt, 0)
	for _, d := range sortedValues(tx.s.debts, func(d domain.Debt) int64 { return d.ID }) {
		if d.StoreID == storeID && d.DebtorPhone == phone && strings.EqualFold(d.DebtorName, name) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (tx *memTx) InsertBusinessCost(_ context.Context, c domain.BusinessCost) (*domain.BusinessCost, error) {
	if _, ok := tx.s.stores[c.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	c.ID = tx.s.nextID(domain.EntityBusinessCost)
	put(tx, tx.s.businessCosts, c.ID, c)
	return &c, nil
}

func (tx *memTx) InsertSystemCost(_ context.Context, c domain.SystemCost) (*domain.SystemCost, error) {
	if _, ok := tx.s.stores[c.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	c.ID = tx.s.nextID(domain.EntitySystemCost)
	put(tx, tx.s.systemCosts, c.ID, c)
	return &c, nil
}

func (tx *memTx) InsertOtherPayment(_ context.Context, p domain.OtherPayment) (*domain.OtherPayment, error) {
	if _, ok := tx.s.stores[p.StoreID]; !ok {
		return nil, store.ErrUnknownStore
	}
	if p.SaleID != nil {
		if _, ok := tx.s.sales[*p.SaleID]; !ok {
			return nil, fmt.Errorf("sale %d: %w", *p.SaleID, store.ErrReferentialIntegrity)
		}
	}
	p.ID = tx.s.nextID(domain.EntityOtherPayment)
	put(tx, tx.s.otherPayments, p.ID, p)
	return &p, nil
}

func (tx *memTx) AppendOutbox(_ context.Context, e domain.OutboxEvent) error {
	e.ID = tx.s.nextID("outbox_events")
	put(tx, tx.s.outbox, e.ID, e)
	return nil
}
