package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/ledger"
	"dukani/backend/internal/lock"
	"dukani/backend/internal/store"
)

// plannedLine is one request line with the draws that will satisfy it.
type plannedLine struct {
	req     domain.SaleLineRequest
	product *domain.Product
	draws   []ledger.Draw
}

// RecordSale validates and commits a sale with its items, batch allocations,
// stock decrements and, for DEBT and OTHER sales, the matching debt or other
// payment row. Nothing is written unless every line can be filled.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleReceipt, error) {
	req.UserID = actingUser(ctx, req.UserID)
	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	req.OtherPayment = strings.TrimSpace(req.OtherPayment)

	if !domain.OneOf(req.PaymentMethod, domain.PaymentMethods) {
		return domain.SaleReceipt{}, fmt.Errorf("payment method %q: %w", req.PaymentMethod, store.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return domain.SaleReceipt{}, fmt.Errorf("sale has no lines: %w", store.ErrValidation)
	}
	total := decimal.Zero
	for i, line := range req.Lines {
		if line.ProductID < 1 || line.Quantity < 1 || !line.UnitPrice.IsPositive() {
			return domain.SaleReceipt{}, fmt.Errorf("line %d: %w", i+1, store.ErrValidation)
		}
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	if req.PaymentMethod == domain.PaymentOther && req.OtherPayment == "" {
		return domain.SaleReceipt{}, fmt.Errorf("OTHER payment needs a description: %w", store.ErrValidation)
	}

	st, err := lookupStore(ctx, s.repo, req.StoreID)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	if _, err := lookupUser(ctx, s.repo, req.UserID); err != nil {
		return domain.SaleReceipt{}, err
	}

	var debtor *domain.Debtor
	if req.PaymentMethod == domain.PaymentDebt {
		if req.Debtor == nil || strings.TrimSpace(req.Debtor.Name) == "" {
			return domain.SaleReceipt{}, fmt.Errorf("DEBT sale needs a debtor: %w", store.ErrValidation)
		}
		phone, err := normalizePhone(req.Debtor.Phone, st.Country)
		if err != nil {
			return domain.SaleReceipt{}, err
		}
		debtor = &domain.Debtor{Name: strings.TrimSpace(req.Debtor.Name), Phone: phone}
	}

	// Early checks against committed state. The transaction repeats them
	// under lock.
	keys := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		p, err := s.repo.GetProduct(ctx, line.ProductID)
		if _, err := productInStore(p, err, st.ID, line.ProductID); err != nil {
			return domain.SaleReceipt{}, err
		}
		price, err := s.storedPrice(ctx, st.ID, line.ProductID)
		if err != nil {
			return domain.SaleReceipt{}, err
		}
		if err := checkTier(price, line); err != nil {
			return domain.SaleReceipt{}, err
		}
		keys = append(keys, lock.StockKey(st.ID, line.ProductID))
	}

	var receipt domain.SaleReceipt
	attempts, err := s.locked(ctx, "record_sale", keys, func(ctx context.Context, tx store.Tx) error {
		var err error
		receipt, err = s.recordSale(ctx, tx, *st, req, total, debtor)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrInvariant) {
			s.log.WithFields(logrus.Fields{
				"field":    "service.RecordSale",
				"store_id": st.ID,
				"user_id":  req.UserID,
			}).WithError(err).Error("stock cache drift, sale aborted")
		}
		return domain.SaleReceipt{}, err
	}
	receipt.Attempts = attempts
	return receipt, nil
}

func checkTier(price domain.StorePrice, line domain.SaleLineRequest) error {
	if line.IsWholesale != price.QualifiesForWholesale(line.Quantity) {
		return fmt.Errorf("product %d quantity %d wholesale=%t, threshold %d: %w",
			line.ProductID, line.Quantity, line.IsWholesale, price.WholesaleThreshold, store.ErrPriceTierMismatch)
	}
	return nil
}

func (s *Service) recordSale(ctx context.Context, tx store.Tx, st domain.Store, req domain.SaleRequest, total decimal.Decimal, debtor *domain.Debtor) (domain.SaleReceipt, error) {
	now := s.now()

	// Plan every draw before the first write. Lines for the same product
	// share one pool and draw from it in order.
	pools := map[int64]*ledger.Pool{}
	products := map[int64]*domain.Product{}
	order := make([]int64, 0)
	plan := make([]plannedLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		pool, ok := pools[line.ProductID]
		if !ok {
			p, err := tx.GetProduct(ctx, line.ProductID)
			if p, err = productInStore(p, err, st.ID, line.ProductID); err != nil {
				return domain.SaleReceipt{}, err
			}
			batches, err := tx.LockActiveBatches(ctx, p.ID)
			if err != nil {
				return domain.SaleReceipt{}, err
			}
			pool = ledger.NewPool(ledger.Available(batches, now))
			pools[p.ID] = pool
			products[p.ID] = p
			order = append(order, p.ID)
		}

		price, err := tx.GetPrice(ctx, st.ID, line.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleReceipt{}, fmt.Errorf("product %d has no price in store %d: %w", line.ProductID, st.ID, store.ErrValidation)
		}
		if err != nil {
			return domain.SaleReceipt{}, err
		}
		if err := checkTier(*price, line); err != nil {
			return domain.SaleReceipt{}, err
		}

		draws, err := pool.Take(line.Quantity)
		if err != nil {
			return domain.SaleReceipt{}, fmt.Errorf("product %d: %w", line.ProductID, err)
		}
		plan = append(plan, plannedLine{req: line, product: products[line.ProductID], draws: draws})
	}

	sale, err := tx.InsertSale(ctx, domain.Sale{
		StoreID:       st.ID,
		StoreCode:     st.StoreCode,
		UserID:        req.UserID,
		TotalPrice:    total,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
	})
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	sold := map[int64]int{}
	touched := map[int64]bool{}
	sale.Items = make([]domain.SaleItem, 0, len(plan))
	for _, line := range plan {
		item, err := tx.InsertSaleItem(ctx, domain.SaleItem{
			SaleID:      sale.ID,
			ProductID:   line.product.ID,
			ProductCode: line.product.ProductCode,
			Quantity:    line.req.Quantity,
			UnitPrice:   line.req.UnitPrice,
			IsWholesale: line.req.IsWholesale,
			CostPrice:   ledger.WeightedCost(line.draws),
		})
		if err != nil {
			return domain.SaleReceipt{}, err
		}

		item.Allocations = make([]domain.SaleBatchAllocation, 0, len(line.draws))
		for _, draw := range line.draws {
			if err := tx.DepleteBatch(ctx, draw.Batch.ID, draw.Before, draw.Quantity); err != nil {
				return domain.SaleReceipt{}, err
			}
			allocation, err := tx.InsertAllocation(ctx, domain.SaleBatchAllocation{
				SaleID:      sale.ID,
				SaleItemID:  item.ID,
				ProductID:   line.product.ID,
				BatchID:     draw.Batch.ID,
				Quantity:    draw.Quantity,
				AllocatedAt: now,
			})
			if err != nil {
				return domain.SaleReceipt{}, err
			}
			item.Allocations = append(item.Allocations, *allocation)
			touched[draw.Batch.ID] = true
		}
		sold[line.product.ID] += line.req.Quantity
		sale.Items = append(sale.Items, *item)
	}

	for _, productID := range order {
		if err := tx.AdjustProductStock(ctx, productID, -sold[productID]); err != nil {
			return domain.SaleReceipt{}, err
		}
		if err := checkStock(ctx, tx, productID); err != nil {
			return domain.SaleReceipt{}, err
		}
	}

	receipt := domain.SaleReceipt{Sale: *sale}
	if err := emit(ctx, tx, now, st.ID, domain.EntitySale, sale.ID, domain.OutboxOpInsert, sale); err != nil {
		return domain.SaleReceipt{}, err
	}
	for batchID := range touched {
		b, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return domain.SaleReceipt{}, err
		}
		if err := emit(ctx, tx, now, st.ID, domain.EntityBatch, b.ID, domain.OutboxOpUpdate, b); err != nil {
			return domain.SaleReceipt{}, err
		}
	}
	for _, productID := range order {
		if err := s.emitProduct(ctx, tx, now, productID); err != nil {
			return domain.SaleReceipt{}, err
		}
	}

	switch req.PaymentMethod {
	case domain.PaymentDebt:
		debt, err := tx.InsertDebt(ctx, domain.Debt{
			SaleID:      sale.ID,
			StoreID:     st.ID,
			StoreCode:   st.StoreCode,
			UserID:      req.UserID,
			DebtorName:  debtor.Name,
			DebtorPhone: debtor.Phone,
			AmountOwed:  total,
			CreatedAt:   now,
		})
		if err != nil {
			return domain.SaleReceipt{}, err
		}
		receipt.Debt = debt
		if err := emit(ctx, tx, now, st.ID, domain.EntityDebt, debt.ID, domain.OutboxOpInsert, debt); err != nil {
			return domain.SaleReceipt{}, err
		}
	case domain.PaymentOther:
		saleID := sale.ID
		payment, err := tx.InsertOtherPayment(ctx, domain.OtherPayment{
			SaleID:      &saleID,
			StoreID:     st.ID,
			StoreCode:   st.StoreCode,
			Description: req.OtherPayment,
			PaymentType: saleTenderType,
			Amount:      total,
			PaymentDate: now,
			CreatedAt:   now,
		})
		if err != nil {
			return domain.SaleReceipt{}, err
		}
		receipt.OtherPayment = payment
		if err := emit(ctx, tx, now, st.ID, domain.EntityOtherPayment, payment.ID, domain.OutboxOpInsert, payment); err != nil {
			return domain.SaleReceipt{}, err
		}
	}
	return receipt, nil
}

// checkStock aborts when the cached product stock disagrees with its
// active batches.
func checkStock(ctx context.Context, tx store.Tx, productID int64) error {
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	batches, err := tx.ActiveBatchQuantity(ctx, productID)
	if err != nil {
		return err
	}
	if p.StockQuantity != batches {
		return fmt.Errorf("product %d stock %d, active batches %d: %w", productID, p.StockQuantity, batches, store.ErrInvariant)
	}
	return nil
}

func (s *Service) GetSale(ctx context.Context, storeID int64, saleID int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.StoreID != storeID {
		return domain.Sale{}, store.ErrNotFound
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.Sale, error) {
	from, to, err := s.rangeOrDefault(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, storeID, from, to)
}
