package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
)

// ProfitSummary reports sales margins over [from, to) and nets the store's
// costs for the same range against them.
func (s *Service) ProfitSummary(ctx context.Context, storeID int64, from time.Time, to time.Time) (domain.ProfitSummary, error) {
	from, to, err := s.rangeOrDefault(from, to)
	if err != nil {
		return domain.ProfitSummary{}, err
	}
	costs, err := s.CostSummary(ctx, storeID, from, to)
	if err != nil {
		return domain.ProfitSummary{}, err
	}
	m, err := s.repo.SaleMargins(ctx, storeID, from, to)
	if err != nil {
		return domain.ProfitSummary{}, err
	}

	return domain.ProfitSummary{
		StoreID:        storeID,
		From:           from,
		To:             to,
		Sales:          m.Sales,
		Revenue:        m.Revenue,
		CostOfGoods:    m.CostOfGoods,
		GrossProfit:    m.GrossProfit,
		OperatingCosts: costs.Total,
		NetProfit:      m.GrossProfit.Sub(costs.Total),
	}, nil
}

// SellerSummary lists every member of the store with their sales in range,
// the commission active at the end of the range and the commission it earns.
func (s *Service) SellerSummary(ctx context.Context, storeID int64, from time.Time, to time.Time) ([]domain.SellerSummary, error) {
	from, to, err := s.rangeOrDefault(from, to)
	if err != nil {
		return nil, err
	}
	if _, err := lookupStore(ctx, s.repo, storeID); err != nil {
		return nil, err
	}

	users, err := s.repo.ListStoreUsers(ctx, storeID)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.SalesBySeller(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64]domain.SellerSummary, len(sales))
	for _, row := range sales {
		byUser[row.UserID] = domain.SellerSummary{UserID: row.UserID, Sales: row.Sales, Revenue: row.Revenue}
	}

	// Commissions are read at the last instant of the range.
	at := to.Add(-time.Nanosecond)
	out := make([]domain.SellerSummary, 0, len(users))
	for _, u := range users {
		row, ok := byUser[u.ID]
		if !ok {
			row = domain.SellerSummary{UserID: u.ID, Revenue: decimal.Zero}
		}
		row.Username = u.Username
		row.SalaryAmount = u.SalaryAmount
		row.SalaryFrequency = u.SalaryFrequency
		row.CommissionRate = decimal.Zero

		commissions, err := s.repo.ListCommissions(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range commissions {
			if c.ActiveAt(at) {
				row.CommissionRate = c.Rate
			}
		}
		row.CommissionDue = row.Revenue.Mul(row.CommissionRate).Round(2)
		out = append(out, row)
	}
	return out, nil
}
