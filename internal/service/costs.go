package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
)

// saleTenderType marks other_payments rows written by OTHER sales. They
// record how a sale was paid and are not costs.
const saleTenderType = "sale_tender"

func (s *Service) AddBusinessCost(ctx context.Context, req domain.BusinessCostRequest) (domain.BusinessCost, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.BusinessCost{}, err
	}
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.Frequency = strings.ToLower(strings.TrimSpace(req.Frequency))
	if req.Frequency == "" {
		req.Frequency = domain.FrequencyOneTime
	}
	if !domain.OneOf(req.Category, domain.CostCategories) || !domain.OneOf(req.Frequency, domain.CostFrequencies) {
		return domain.BusinessCost{}, fmt.Errorf("cost category %q frequency %q: %w", req.Category, req.Frequency, store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return domain.BusinessCost{}, store.ErrValidation
	}

	now := s.now()
	costDate := now
	if req.CostDate != nil {
		costDate = req.CostDate.UTC()
	}
	var end *time.Time
	if req.RecurringEndDate != nil {
		if req.Frequency == domain.FrequencyOneTime {
			return domain.BusinessCost{}, fmt.Errorf("one-time cost cannot recur: %w", store.ErrValidation)
		}
		if req.RecurringEndDate.Before(costDate) {
			return domain.BusinessCost{}, fmt.Errorf("recurring cost ends before it starts: %w", store.ErrValidation)
		}
		e := req.RecurringEndDate.UTC()
		end = &e
	}

	st, err := lookupStore(ctx, s.repo, req.StoreID)
	if err != nil {
		return domain.BusinessCost{}, err
	}

	var created domain.BusinessCost
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.InsertBusinessCost(ctx, domain.BusinessCost{
			StoreID:          st.ID,
			StoreCode:        st.StoreCode,
			Category:         req.Category,
			Description:      strings.TrimSpace(req.Description),
			Amount:           req.Amount,
			CostDate:         costDate,
			Frequency:        req.Frequency,
			RecurringEndDate: end,
			CreatedAt:        now,
		})
		if err != nil {
			return err
		}
		created = *c
		return emit(ctx, tx, now, st.ID, domain.EntityBusinessCost, c.ID, domain.OutboxOpInsert, c)
	})
	if err != nil {
		return domain.BusinessCost{}, err
	}
	return created, nil
}

func (s *Service) AddSystemCost(ctx context.Context, req domain.SystemCostRequest) (domain.SystemCost, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.SystemCost{}, err
	}
	req.CostType = strings.ToLower(strings.TrimSpace(req.CostType))
	req.Frequency = strings.ToLower(strings.TrimSpace(req.Frequency))
	if req.Frequency == "" {
		req.Frequency = domain.FrequencyMonthly
	}
	if !domain.OneOf(req.CostType, domain.SystemCostTypes) || !domain.OneOf(req.Frequency, domain.CostFrequencies) {
		return domain.SystemCost{}, fmt.Errorf("system cost type %q frequency %q: %w", req.CostType, req.Frequency, store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return domain.SystemCost{}, store.ErrValidation
	}
	st, err := lookupStore(ctx, s.repo, req.StoreID)
	if err != nil {
		return domain.SystemCost{}, err
	}

	now := s.now()
	var created domain.SystemCost
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.InsertSystemCost(ctx, domain.SystemCost{
			StoreID:     st.ID,
			StoreCode:   st.StoreCode,
			CostType:    req.CostType,
			Description: strings.TrimSpace(req.Description),
			Amount:      req.Amount,
			Frequency:   req.Frequency,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		created = *c
		return emit(ctx, tx, now, st.ID, domain.EntitySystemCost, c.ID, domain.OutboxOpInsert, c)
	})
	if err != nil {
		return domain.SystemCost{}, err
	}
	return created, nil
}

// AddOtherPayment records money paid out that fits no cost category, such as
// a supplier advance.
func (s *Service) AddOtherPayment(ctx context.Context, req domain.OtherPaymentRequest) (domain.OtherPayment, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.OtherPayment{}, err
	}
	req.Description = strings.TrimSpace(req.Description)
	req.PaymentType = strings.ToLower(strings.TrimSpace(req.PaymentType))
	if req.Description == "" || req.PaymentType == "" || req.PaymentType == saleTenderType {
		return domain.OtherPayment{}, store.ErrValidation
	}
	if !req.Amount.IsPositive() {
		return domain.OtherPayment{}, store.ErrValidation
	}
	st, err := lookupStore(ctx, s.repo, req.StoreID)
	if err != nil {
		return domain.OtherPayment{}, err
	}

	now := s.now()
	paidOn := now
	if req.PaymentDate != nil {
		paidOn = req.PaymentDate.UTC()
	}
	var created domain.OtherPayment
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.InsertOtherPayment(ctx, domain.OtherPayment{
			StoreID:     st.ID,
			StoreCode:   st.StoreCode,
			Description: req.Description,
			PaymentType: req.PaymentType,
			Amount:      req.Amount,
			PaymentDate: paidOn,
			Recipient:   strings.TrimSpace(req.Recipient),
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		created = *p
		return emit(ctx, tx, now, st.ID, domain.EntityOtherPayment, p.ID, domain.OutboxOpInsert, p)
	})
	if err != nil {
		return domain.OtherPayment{}, err
	}
	return created, nil
}

// CostSummary totals costs in [from, to) per category, per system cost type
// and per payment type. Sale tender rows are left out.
func (s *Service) CostSummary(ctx context.Context, storeID int64, from time.Time, to time.Time) (domain.CostSummary, error) {
	from, to, err := s.rangeOrDefault(from, to)
	if err != nil {
		return domain.CostSummary{}, err
	}
	if _, err := lookupStore(ctx, s.repo, storeID); err != nil {
		return domain.CostSummary{}, err
	}

	business, err := s.repo.ListBusinessCosts(ctx, storeID, from, to)
	if err != nil {
		return domain.CostSummary{}, err
	}
	system, err := s.repo.ListSystemCosts(ctx, storeID, from, to)
	if err != nil {
		return domain.CostSummary{}, err
	}
	other, err := s.repo.ListOtherPayments(ctx, storeID, from, to)
	if err != nil {
		return domain.CostSummary{}, err
	}

	summary := domain.CostSummary{
		StoreID:       storeID,
		From:          from,
		To:            to,
		BusinessCosts: map[string]decimal.Decimal{},
		SystemCosts:   map[string]decimal.Decimal{},
		OtherPayments: map[string]decimal.Decimal{},
		Total:         decimal.Zero,
	}
	for _, c := range business {
		summary.BusinessCosts[c.Category] = summary.BusinessCosts[c.Category].Add(c.Amount)
		summary.Total = summary.Total.Add(c.Amount)
	}
	for _, c := range system {
		summary.SystemCosts[c.CostType] = summary.SystemCosts[c.CostType].Add(c.Amount)
		summary.Total = summary.Total.Add(c.Amount)
	}
	for _, p := range other {
		if p.SaleID != nil || p.PaymentType == saleTenderType {
			continue
		}
		summary.OtherPayments[p.PaymentType] = summary.OtherPayments[p.PaymentType].Add(p.Amount)
		summary.Total = summary.Total.Add(p.Amount)
	}
	return summary, nil
}
