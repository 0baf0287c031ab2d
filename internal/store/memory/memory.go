package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/ledger"
	"dukani/backend/internal/store"
)

// Store keeps every table in maps. RunInTx holds the write lock for the whole
// unit of work and undoes its mutations when fn fails.
type Store struct {
	mu            sync.RWMutex
	seq           map[string]int64
	stores        map[int64]domain.Store
	users         map[int64]domain.User
	userStores    map[int64]domain.UserStore
	commissions   map[int64]domain.UserCommission
	products      map[int64]domain.Product
	prices        map[int64]domain.StorePrice
	batches       map[int64]domain.StockBatch
	sales         map[int64]domain.Sale
	saleItems     map[int64]domain.SaleItem
	allocations   map[int64]domain.SaleBatchAllocation
	debts         map[int64]domain.Debt
	debtPayments  map[int64]domain.DebtPayment
	businessCosts map[int64]domain.BusinessCost
	systemCosts   map[int64]domain.SystemCost
	otherPayments map[int64]domain.OtherPayment
	outbox        map[int64]domain.OutboxEvent
}

func New() *Store {
	return &Store{
		seq:           make(map[string]int64),
		stores:        make(map[int64]domain.Store),
		users:         make(map[int64]domain.User),
		userStores:    make(map[int64]domain.UserStore),
		commissions:   make(map[int64]domain.UserCommission),
		products:      make(map[int64]domain.Product),
		prices:        make(map[int64]domain.StorePrice),
		batches:       make(map[int64]domain.StockBatch),
		sales:         make(map[int64]domain.Sale),
		saleItems:     make(map[int64]domain.SaleItem),
		allocations:   make(map[int64]domain.SaleBatchAllocation),
		debts:         make(map[int64]domain.Debt),
		debtPayments:  make(map[int64]domain.DebtPayment),
		businessCosts: make(map[int64]domain.BusinessCost),
		systemCosts:   make(map[int64]domain.SystemCost),
		otherPayments: make(map[int64]domain.OtherPayment),
		outbox:        make(map[int64]domain.OutboxEvent),
	}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(ctx, tx)
}

func (s *Store) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *Store) GetStore(_ context.Context, id int64) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) GetStoreByCode(_ context.Context, code string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.stores {
		if st.StoreCode == code {
			st := st
			return &st, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := sortedValues(s.stores, func(st domain.Store) int64 { return st.ID })
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUserStores(_ context.Context, userID int64) ([]domain.UserStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserStore, 0)
	for _, us := range sortedValues(s.userStores, func(us domain.UserStore) int64 { return us.ID }) {
		if us.UserID == userID {
			out = append(out, us)
		}
	}
	return out, nil
}

func (s *Store) ListStoreUsers(_ context.Context, storeID int64) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0)
	for _, us := range sortedValues(s.userStores, func(us domain.UserStore) int64 { return us.ID }) {
		if us.StoreID != storeID {
			continue
		}
		if u, ok := s.users[us.UserID]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) ListCommissions(_ context.Context, userID int64) ([]domain.UserCommission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserCommission, 0)
	for _, c := range sortedValues(s.commissions, func(c domain.UserCommission) int64 { return c.ID }) {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, storeID int64) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0)
	for _, p := range sortedValues(s.products, func(p domain.Product) int64 { return p.ID }) {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) GetPrice(_ context.Context, storeID int64, productID int64) (*domain.StorePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findPrice(storeID, productID)
}

func (s *Store) findPrice(storeID int64, productID int64) (*domain.StorePrice, error) {
	for _, p := range s.prices {
		if p.StoreID == storeID && p.ProductID == productID {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListBatches(_ context.Context, productID int64, includeInactive bool) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockBatch, 0)
	for _, b := range sortedValues(s.batches, func(b domain.StockBatch) int64 { return b.ID }) {
		if b.ProductID != productID {
			continue
		}
		if !includeInactive && !b.IsActive {
			continue
		}
		out = append(out, b)
	}
	ledger.SortFIFO(out)
	return out, nil
}

func (s *Store) GetBatch(_ context.Context, id int64) (*domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadSale(id)
}

func (s *Store) loadSale(id int64) (*domain.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Items = s.saleItemsOf(id)
	return &sale, nil
}

func (s *Store) saleItemsOf(saleID int64) []domain.SaleItem {
	items := make([]domain.SaleItem, 0)
	for _, item := range sortedValues(s.saleItems, func(i domain.SaleItem) int64 { return i.ID }) {
		if item.SaleID != saleID {
			continue
		}
		item.Allocations = make([]domain.SaleBatchAllocation, 0)
		for _, a := range sortedValues(s.allocations, func(a domain.SaleBatchAllocation) int64 { return a.ID }) {
			if a.SaleItemID == item.ID {
				item.Allocations = append(item.Allocations, a)
			}
		}
		items = append(items, item)
	}
	return items
}

func (s *Store) ListSales(_ context.Context, storeID int64, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Sale, 0)
	for _, sale := range s.salesInRange(storeID, from, to) {
		sale.Items = s.saleItemsOf(sale.ID)
		out = append(out, sale)
	}
	return out, nil
}

func (s *Store) salesInRange(storeID int64, from time.Time, to time.Time) []domain.Sale {
	out := make([]domain.Sale, 0)
	for _, sale := range sortedValues(s.sales, func(sale domain.Sale) int64 { return sale.ID }) {
		if sale.StoreID == storeID && inRange(sale.CreatedAt, from, to) {
			out = append(out, sale)
		}
	}
	return out
}

func (s *Store) SaleMargins(_ context.Context, storeID int64, from time.Time, to time.Time) (store.Margins, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := store.Margins{Revenue: decimal.Zero, CostOfGoods: decimal.Zero, GrossProfit: decimal.Zero}
	for _, sale := range s.salesInRange(storeID, from, to) {
		m.Sales++
		m.Revenue = m.Revenue.Add(sale.TotalPrice)
		for _, item := range s.saleItemsOf(sale.ID) {
			m.GrossProfit = m.GrossProfit.Add(item.Profit().Mul(decimal.NewFromInt(int64(item.Quantity))))
			for _, a := range item.Allocations {
				b, ok := s.batches[a.BatchID]
				if !ok {
					return store.Margins{}, fmt.Errorf("allocation %d batch %d: %w", a.ID, a.BatchID, store.ErrReferentialIntegrity)
				}
				m.CostOfGoods = m.CostOfGoods.Add(b.LandedCost().Mul(decimal.NewFromInt(int64(a.Quantity))))
			}
		}
	}
	return m, nil
}

func (s *Store) SalesBySeller(_ context.Context, storeID int64, from time.Time, to time.Time) ([]store.SellerSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byUser := map[int64]*store.SellerSales{}
	order := make([]int64, 0)
	for _, sale := range s.salesInRange(storeID, from, to) {
		row, ok := byUser[sale.UserID]
		if !ok {
			row = &store.SellerSales{UserID: sale.UserID, Revenue: decimal.Zero}
			byUser[sale.UserID] = row
			order = append(order, sale.UserID)
		}
		row.Sales++
		row.Revenue = row.Revenue.Add(sale.TotalPrice)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]store.SellerSales, 0, len(order))
	for _, id := range order {
		out = append(out, *byUser[id])
	}
	return out, nil
}

func (s *Store) GetDebt(_ context.Context, id int64) (*domain.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.debts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) ListDebts(_ context.Context, storeID int64) ([]domain.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Debt, 0)
	for _, d := range sortedValues(s.debts, func(d domain.Debt) int64 { return d.ID }) {
		if d.StoreID == storeID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) ListDebtPayments(_ context.Context, debtID int64) ([]domain.DebtPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DebtPayment, 0)
	for _, p := range sortedValues(s.debtPayments, func(p domain.DebtPayment) int64 { return p.ID }) {
		if p.DebtID == debtID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListBusinessCosts(_ context.Context, storeID int64, from time.Time, to time.Time) ([]domain.BusinessCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BusinessCost, 0)
	for _, c := range sortedValues(s.businessCosts, func(c domain.BusinessCost) int64 { return c.ID }) {
		if c.StoreID == storeID && inRange(c.CostDate, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListSystemCosts(_ context.Context, storeID int64, from time.Time, to time.Time) ([]domain.SystemCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SystemCost, 0)
	for _, c := range sortedValues(s.systemCosts, func(c domain.SystemCost) int64 { return c.ID }) {
		if c.StoreID == storeID && inRange(c.CreatedAt, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListOtherPayments(_ context.Context, storeID int64, from time.Time, to time.Time) ([]domain.OtherPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OtherPayment, 0)
	for _, p := range sortedValues(s.otherPayments, func(p domain.OtherPayment) int64 { return p.ID }) {
		if p.StoreID == storeID && inRange(p.PaymentDate, from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OutboxEvent, 0, limit)
	for _, e := range sortedValues(s.outbox, func(e domain.OutboxEvent) int64 { return e.ID }) {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e, ok := s.outbox[id]
		if !ok {
			continue
		}
		published := at.UTC()
		e.PublishedAt = &published
		s.outbox[id] = e
	}
	return nil
}

func (s *Store) MarkSynced(_ context.Context, entity string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch entity {
	case domain.EntityStore:
		markSynced(s.stores, ids, func(v *domain.Store) { v.Synced = true })
	case domain.EntityUser:
		markSynced(s.users, ids, func(v *domain.User) { v.Synced = true })
	case domain.EntityUserStore:
		markSynced(s.userStores, ids, func(v *domain.UserStore) { v.Synced = true })
	case domain.EntityCommission:
		markSynced(s.commissions, ids, func(v *domain.UserCommission) { v.Synced = true })
	case domain.EntityProduct:
		markSynced(s.products, ids, func(v *domain.Product) { v.Synced = true })
	case domain.EntityPrice:
		markSynced(s.prices, ids, func(v *domain.StorePrice) { v.Synced = true })
	case domain.EntityBatch:
		markSynced(s.batches, ids, func(v *domain.StockBatch) { v.Synced = true })
	case domain.EntitySale:
		markSynced(s.sales, ids, func(v *domain.Sale) { v.Synced = true })
	case domain.EntitySaleItem:
		markSynced(s.saleItems, ids, func(v *domain.SaleItem) { v.Synced = true })
	case domain.EntityAllocation:
		markSynced(s.allocations, ids, func(v *domain.SaleBatchAllocation) { v.Synced = true })
	case domain.EntityDebt:
		markSynced(s.debts, ids, func(v *domain.Debt) { v.Synced = true })
	case domain.EntityDebtPayment:
		markSynced(s.debtPayments, ids, func(v *domain.DebtPayment) { v.Synced = true })
	case domain.EntityBusinessCost:
		markSynced(s.businessCosts, ids, func(v *domain.BusinessCost) { v.Synced = true })
	case domain.EntitySystemCost:
		markSynced(s.systemCosts, ids, func(v *domain.SystemCost) { v.Synced = true })
	case domain.EntityOtherPayment:
		markSynced(s.otherPayments, ids, func(v *domain.OtherPayment) { v.Synced = true })
	default:
		return fmt.Errorf("entity %q: %w", entity, store.ErrValidation)
	}
	return nil
}

func markSynced[T any](m map[int64]T, ids []int64, set func(*T)) {
	for _, id := range ids {
		v, ok := m[id]
		if !ok {
			continue
		}
		set(&v)
		m[id] = v
	}
}

func sortedValues[T any](m map[int64]T, id func(T) int64) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}

// inRange is half-open: from <= t < to. A zero bound is unbounded.
func inRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
