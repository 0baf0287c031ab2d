package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/lock"
	"dukani/backend/internal/store"
)

// RecordDebt attaches a debt to a DEBT sale that arrived without one, for
// instance a sale replayed from a store-side database. The full sale total
// is owed at creation.
func (s *Service) RecordDebt(ctx context.Context, req domain.DebtRecordRequest) (domain.Debt, error) {
	req.DebtorName = strings.TrimSpace(req.DebtorName)
	if req.DebtorName == "" {
		return domain.Debt{}, fmt.Errorf("debtor name is required: %w", store.ErrValidation)
	}

	sale, err := s.repo.GetSale(ctx, req.SaleID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Debt{}, fmt.Errorf("sale %d: %w", req.SaleID, store.ErrReferentialIntegrity)
	}
	if err != nil {
		return domain.Debt{}, err
	}
	if sale.PaymentMethod != domain.PaymentDebt {
		return domain.Debt{}, fmt.Errorf("sale %d was paid by %s: %w", sale.ID, sale.PaymentMethod, store.ErrValidation)
	}
	if !req.AmountOwed.Equal(sale.TotalPrice) {
		return domain.Debt{}, fmt.Errorf("amount owed %s must equal sale total %s: %w", req.AmountOwed, sale.TotalPrice, store.ErrValidation)
	}
	st, err := lookupStore(ctx, s.repo, sale.StoreID)
	if err != nil {
		return domain.Debt{}, err
	}
	phone, err := normalizePhone(req.DebtorPhone, st.Country)
	if err != nil {
		return domain.Debt{}, err
	}

	now := s.now()
	var created domain.Debt
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.InsertDebt(ctx, domain.Debt{
			SaleID:      sale.ID,
			StoreID:     st.ID,
			StoreCode:   st.StoreCode,
			UserID:      sale.UserID,
			DebtorName:  req.DebtorName,
			DebtorPhone: phone,
			AmountOwed:  sale.TotalPrice,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		created = *d
		return emit(ctx, tx, now, st.ID, domain.EntityDebt, d.ID, domain.OutboxOpInsert, d)
	})
	if err != nil {
		return domain.Debt{}, err
	}
	return created, nil
}

// ApplyPayment records a payment against one debt. Payments on the same debt
// are serialized so the remaining balance is never read stale.
func (s *Service) ApplyPayment(ctx context.Context, req domain.DebtPaymentRequest) (domain.DebtBalance, error) {
	req.UserID = actingUser(ctx, req.UserID)
	if !req.Amount.IsPositive() {
		return domain.DebtBalance{}, fmt.Errorf("payment must be positive: %w", store.ErrValidation)
	}

	now := s.now()
	var balance domain.DebtBalance
	_, err := s.locked(ctx, "apply_payment", []string{lock.DebtKey(req.DebtID)}, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDebt(ctx, req.DebtID)
		if err != nil {
			return err
		}
		if req.StoreID != 0 && d.StoreID != req.StoreID {
			return store.ErrNotFound
		}
		paid, err := tx.DebtPaidTotal(ctx, d.ID)
		if err != nil {
			return err
		}
		remaining := d.AmountOwed.Sub(paid)
		if req.Amount.GreaterThan(remaining) {
			return fmt.Errorf("debt %d remaining %s, payment %s: %w", d.ID, remaining, req.Amount, store.ErrOverPayment)
		}

		payment, err := tx.InsertDebtPayment(ctx, domain.DebtPayment{
			DebtID:    d.ID,
			Amount:    req.Amount,
			StoreID:   d.StoreID,
			StoreCode: d.StoreCode,
			UserID:    req.UserID,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		balance = domain.DebtBalance{Debt: *d, Paid: paid.Add(req.Amount), Remaining: remaining.Sub(req.Amount)}
		return emit(ctx, tx, now, d.StoreID, domain.EntityDebtPayment, payment.ID, domain.OutboxOpInsert, payment)
	})
	if err != nil {
		return domain.DebtBalance{}, err
	}
	return balance, nil
}

// PayDebtor spreads one payment over a debtor's open debts, oldest first. An
// amount of zero settles the whole balance.
func (s *Service) PayDebtor(ctx context.Context, req domain.DebtorPaymentRequest) (domain.DebtorPaymentReceipt, error) {
	req.UserID = actingUser(ctx, req.UserID)
	req.DebtorName = strings.TrimSpace(req.DebtorName)
	if req.DebtorName == "" || req.Amount.IsNegative() {
		return domain.DebtorPaymentReceipt{}, store.ErrValidation
	}
	st, err := lookupStore(ctx, s.repo, req.StoreID)
	if err != nil {
		return domain.DebtorPaymentReceipt{}, err
	}
	phone, err := normalizePhone(req.DebtorPhone, st.Country)
	if err != nil {
		return domain.DebtorPaymentReceipt{}, err
	}

	debts, err := s.repo.ListDebts(ctx, st.ID)
	if err != nil {
		return domain.DebtorPaymentReceipt{}, err
	}
	keys := []string{lock.DebtorKey(st.ID, phone)}
	covered := map[int64]bool{}
	for _, d := range debts {
		if d.DebtorPhone == phone && strings.EqualFold(d.DebtorName, req.DebtorName) {
			keys = append(keys, lock.DebtKey(d.ID))
			covered[d.ID] = true
		}
	}
	if len(covered) == 0 {
		return domain.DebtorPaymentReceipt{}, fmt.Errorf("no debts for %s %s: %w", req.DebtorName, phone, store.ErrNotFound)
	}

	now := s.now()
	var receipt domain.DebtorPaymentReceipt
	_, err = s.locked(ctx, "pay_debtor", keys, func(ctx context.Context, tx store.Tx) error {
		debts, err := tx.ListDebtorDebts(ctx, st.ID, req.DebtorName, phone)
		if err != nil {
			return err
		}

		type open struct {
			debt      domain.Debt
			remaining decimal.Decimal
		}
		owing := make([]open, 0, len(debts))
		balance := decimal.Zero
		for _, d := range debts {
			if !covered[d.ID] {
				continue
			}
			paid, err := tx.DebtPaidTotal(ctx, d.ID)
			if err != nil {
				return err
			}
			remaining := d.AmountOwed.Sub(paid)
			if remaining.IsPositive() {
				owing = append(owing, open{debt: d, remaining: remaining})
				balance = balance.Add(remaining)
			}
		}

		amount := req.Amount
		if amount.IsZero() {
			amount = balance
		}
		if !amount.IsPositive() {
			return fmt.Errorf("debtor has nothing to pay: %w", store.ErrValidation)
		}
		if amount.GreaterThan(balance) {
			return fmt.Errorf("debtor balance %s, payment %s: %w", balance, amount, store.ErrOverPayment)
		}

		receipt = domain.DebtorPaymentReceipt{Payments: make([]domain.DebtPayment, 0), Paid: amount, Remaining: balance.Sub(amount)}
		left := amount
		for _, o := range owing {
			if !left.IsPositive() {
				break
			}
			part := decimal.Min(left, o.remaining)
			payment, err := tx.InsertDebtPayment(ctx, domain.DebtPayment{
				DebtID:    o.debt.ID,
				Amount:    part,
				StoreID:   st.ID,
				StoreCode: st.StoreCode,
				UserID:    req.UserID,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			if err := emit(ctx, tx, now, st.ID, domain.EntityDebtPayment, payment.ID, domain.OutboxOpInsert, payment); err != nil {
				return err
			}
			receipt.Payments = append(receipt.Payments, *payment)
			left = left.Sub(part)
		}
		return nil
	})
	if err != nil {
		return domain.DebtorPaymentReceipt{}, err
	}
	return receipt, nil
}

func (s *Service) DebtBalance(ctx context.Context, storeID int64, debtID int64) (domain.DebtBalance, error) {
	d, err := s.repo.GetDebt(ctx, debtID)
	if err != nil {
		return domain.DebtBalance{}, err
	}
	if d.StoreID != storeID {
		return domain.DebtBalance{}, store.ErrNotFound
	}
	return s.balanceOf(ctx, *d)
}

func (s *Service) balanceOf(ctx context.Context, d domain.Debt) (domain.DebtBalance, error) {
	payments, err := s.repo.ListDebtPayments(ctx, d.ID)
	if err != nil {
		return domain.DebtBalance{}, err
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	return domain.DebtBalance{Debt: d, Paid: paid, Remaining: d.AmountOwed.Sub(paid)}, nil
}

func (s *Service) ListDebts(ctx context.Context, storeID int64, openOnly bool) ([]domain.DebtBalance, error) {
	debts, err := s.repo.ListDebts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DebtBalance, 0, len(debts))
	for _, d := range debts {
		b, err := s.balanceOf(ctx, d)
		if err != nil {
			return nil, err
		}
		if openOnly && !b.Remaining.IsPositive() {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
