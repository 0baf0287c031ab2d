package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/ledger"
	"dukani/backend/internal/lock"
	"dukani/backend/internal/store"
)

// ReceiveBatch books a new lot. The product's cached stock grows in the same
// transaction.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.StockBatch, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.StockBatch{}, err
	}
	if req.Quantity < 1 || !req.BuyingPrice.IsPositive() || req.ShippingCost.IsNegative() || req.HandlingCost.IsNegative() {
		return domain.StockBatch{}, store.ErrValidation
	}

	now := s.now()
	received := now
	if req.ReceivedDate != nil {
		received = req.ReceivedDate.UTC()
	}
	var expiry *time.Time
	if req.ExpiryDate != nil {
		day := domain.DateUTC(*req.ExpiryDate)
		if day.Before(domain.DateUTC(received)) {
			return domain.StockBatch{}, fmt.Errorf("batch expires before it was received: %w", store.ErrValidation)
		}
		expiry = &day
	}
	batchNumber := strings.TrimSpace(req.BatchNumber)
	if batchNumber == "" {
		batchNumber = "B-" + strings.ToUpper(uuid.NewString()[:8])
	}

	var created domain.StockBatch
	_, err := s.locked(ctx, "receive_batch", []string{lock.StockKey(req.StoreID, req.ProductID)}, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProduct(ctx, req.ProductID)
		if p, err = productInStore(p, err, req.StoreID, req.ProductID); err != nil {
			return err
		}

		b, err := tx.InsertBatch(ctx, domain.StockBatch{
			ProductID:        p.ID,
			ProductCode:      p.ProductCode,
			StoreID:          p.StoreID,
			StoreCode:        p.StoreCode,
			BatchNumber:      batchNumber,
			Quantity:         req.Quantity,
			OriginalQuantity: req.Quantity,
			BuyingPrice:      req.BuyingPrice,
			ShippingCost:     req.ShippingCost,
			HandlingCost:     req.HandlingCost,
			ReceivedDate:     received,
			ExpiryDate:       expiry,
			IsActive:         true,
		})
		if err != nil {
			return err
		}
		if err := tx.AdjustProductStock(ctx, p.ID, req.Quantity); err != nil {
			return err
		}
		created = *b
		if err := emit(ctx, tx, now, p.StoreID, domain.EntityBatch, b.ID, domain.OutboxOpInsert, b); err != nil {
			return err
		}
		return s.emitProduct(ctx, tx, now, p.ID)
	})
	if err != nil {
		return domain.StockBatch{}, err
	}
	return created, nil
}

func (s *Service) emitProduct(ctx context.Context, tx store.Tx, at time.Time, productID int64) error {
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	return emit(ctx, tx, at, p.StoreID, domain.EntityProduct, p.ID, domain.OutboxOpUpdate, p)
}

// AvailableBatches lists what a sale on asOf would draw from, in draw order.
func (s *Service) AvailableBatches(ctx context.Context, storeID int64, productID int64, asOf time.Time) ([]domain.StockBatch, error) {
	if _, err := s.GetProduct(ctx, storeID, productID); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	batches, err := s.repo.ListBatches(ctx, productID, false)
	if err != nil {
		return nil, err
	}
	return ledger.Available(batches, asOf), nil
}

func (s *Service) ListBatches(ctx context.Context, storeID int64, productID int64, includeInactive bool) ([]domain.StockBatch, error) {
	if _, err := s.GetProduct(ctx, storeID, productID); err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, productID, includeInactive)
}

// DepleteBatch writes off quantity from one batch outside of a sale, for
// damage or loss. The product cache shrinks by the same amount.
func (s *Service) DepleteBatch(ctx context.Context, storeID int64, batchID int64, quantity int) (domain.StockBatch, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.StockBatch{}, err
	}
	if quantity < 1 {
		return domain.StockBatch{}, store.ErrValidation
	}
	current, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.StockBatch{}, err
	}
	if current.StoreID != storeID {
		return domain.StockBatch{}, store.ErrNotFound
	}

	now := s.now()
	var updated domain.StockBatch
	_, err = s.locked(ctx, "deplete_batch", []string{lock.StockKey(storeID, current.ProductID)}, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if !b.IsActive || quantity > b.Quantity {
			return fmt.Errorf("batch %d holds %d, write-off %d: %w", b.ID, b.Quantity, quantity, store.ErrInsufficientStock)
		}
		if err := tx.DepleteBatch(ctx, b.ID, b.Quantity, quantity); err != nil {
			return err
		}
		if err := tx.AdjustProductStock(ctx, b.ProductID, -quantity); err != nil {
			return err
		}
		after, err := tx.GetBatch(ctx, b.ID)
		if err != nil {
			return err
		}
		updated = *after
		if err := emit(ctx, tx, now, storeID, domain.EntityBatch, b.ID, domain.OutboxOpUpdate, after); err != nil {
			return err
		}
		return s.emitProduct(ctx, tx, now, b.ProductID)
	})
	if err != nil {
		return domain.StockBatch{}, err
	}
	return updated, nil
}

// SweepExpired deactivates batches of storeID that are past expiry on asOf
// and removes their remaining units from the product cache.
func (s *Service) SweepExpired(ctx context.Context, storeID int64, asOf time.Time) ([]domain.StockBatch, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	for _, p := range products {
		batches, err := s.repo.ListBatches(ctx, p.ID, false)
		if err != nil {
			return nil, err
		}
		if len(ledger.Expired(batches, asOf)) > 0 {
			keys = append(keys, lock.StockKey(storeID, p.ID))
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}

	now := s.now()
	var swept []domain.StockBatch
	_, err = s.locked(ctx, "sweep_expired", keys, func(ctx context.Context, tx store.Tx) error {
		swept = swept[:0]
		active, err := tx.ListActiveStoreBatches(ctx, storeID)
		if err != nil {
			return err
		}
		touched := map[int64]bool{}
		for _, b := range ledger.Expired(active, asOf) {
			// Products that expired after the scan wait for the next sweep.
			if !allowed[lock.StockKey(storeID, b.ProductID)] {
				continue
			}
			if err := tx.DeactivateBatch(ctx, b.ID, b.Quantity); err != nil {
				return err
			}
			if err := tx.AdjustProductStock(ctx, b.ProductID, -b.Quantity); err != nil {
				return err
			}
			after, err := tx.GetBatch(ctx, b.ID)
			if err != nil {
				return err
			}
			if err := emit(ctx, tx, now, storeID, domain.EntityBatch, b.ID, domain.OutboxOpUpdate, after); err != nil {
				return err
			}
			touched[b.ProductID] = true
			swept = append(swept, b)
		}
		for productID := range touched {
			if err := s.emitProduct(ctx, tx, now, productID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(swept) > 0 {
		s.log.WithFields(logrus.Fields{
			"field":    "service.SweepExpired",
			"store_id": storeID,
			"batches":  len(swept),
		}).Info("expired batches deactivated")
	}
	return swept, nil
}

// SweepAllExpired runs SweepExpired for every store. Failures are logged per
// store and do not stop the sweep.
func (s *Service) SweepAllExpired(ctx context.Context, asOf time.Time) int {
	stores, err := s.repo.ListStores(ctx)
	if err != nil {
		s.log.WithFields(logrus.Fields{"field": "service.SweepAllExpired"}).WithError(err).Warn("failed to list stores")
		return 0
	}
	total := 0
	for _, st := range stores {
		swept, err := s.SweepExpired(ctx, st.ID, asOf)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return total
			}
			s.log.WithFields(logrus.Fields{
				"field":    "service.SweepAllExpired",
				"store_id": st.ID,
			}).WithError(err).Warn("expiry sweep failed")
			continue
		}
		total += len(swept)
	}
	return total
}

// StockBalance compares the cached product stock with its active batches.
func (s *Service) StockBalance(ctx context.Context, storeID int64, productID int64) (domain.StockBalance, error) {
	p, err := s.GetProduct(ctx, storeID, productID)
	if err != nil {
		return domain.StockBalance{}, err
	}
	batches, err := s.repo.ListBatches(ctx, productID, false)
	if err != nil {
		return domain.StockBalance{}, err
	}
	sum := 0
	for _, b := range batches {
		sum += b.Quantity
	}
	return domain.StockBalance{ProductID: p.ID, StockQuantity: p.StockQuantity, BatchQuantity: sum}, nil
}
