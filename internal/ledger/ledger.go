// Package ledger holds the FIFO allocation rules over stock batches. It does
// no I/O; callers load and lock batches, then persist the draws it returns.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
)

// CostPlaces is the precision of a sale item's cost price.
const CostPlaces = 4

// Draw is the quantity taken from one batch. Before is the batch quantity the
// draw was computed against, used for compare-and-swap on write.
type Draw struct {
	Batch    domain.StockBatch
	Before   int
	Quantity int
}

// Available filters batches down to what can be sold on asOf and orders them
// oldest received first, ties broken by id.
func Available(batches []domain.StockBatch, asOf time.Time) []domain.StockBatch {
	out := make([]domain.StockBatch, 0, len(batches))
	for _, b := range batches {
		if !b.IsActive || b.Quantity <= 0 || b.ExpiredAt(asOf) {
			continue
		}
		out = append(out, b)
	}
	SortFIFO(out)
	return out
}

func SortFIFO(batches []domain.StockBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].ReceivedDate.Equal(batches[j].ReceivedDate) {
			return batches[i].ReceivedDate.Before(batches[j].ReceivedDate)
		}
		return batches[i].ID < batches[j].ID
	})
}

// Expired returns active batches with stock that are past expiry on asOf.
func Expired(batches []domain.StockBatch, asOf time.Time) []domain.StockBatch {
	out := make([]domain.StockBatch, 0)
	for _, b := range batches {
		if b.IsActive && b.Quantity > 0 && b.ExpiredAt(asOf) {
			out = append(out, b)
		}
	}
	SortFIFO(out)
	return out
}

// Pool tracks remaining quantity across successive draws so that several
// lines for the same product consume one shared queue.
type Pool struct {
	batches   []domain.StockBatch
	remaining []int
}

// NewPool expects batches already filtered by Available.
func NewPool(batches []domain.StockBatch) *Pool {
	p := &Pool{
		batches:   batches,
		remaining: make([]int, len(batches)),
	}
	for i, b := range batches {
		p.remaining[i] = b.Quantity
	}
	return p
}

func (p *Pool) Remaining() int {
	total := 0
	for _, qty := range p.remaining {
		total += qty
	}
	return total
}

// Take draws qty greedily oldest first. On shortfall the pool is left as it was.
func (p *Pool) Take(qty int) ([]Draw, error) {
	if qty < 1 {
		return nil, fmt.Errorf("draw quantity %d: %w", qty, store.ErrValidation)
	}
	if have := p.Remaining(); have < qty {
		return nil, fmt.Errorf("requested %d, available %d: %w", qty, have, store.ErrInsufficientStock)
	}

	draws := make([]Draw, 0, 2)
	need := qty
	for i := range p.batches {
		if need == 0 {
			break
		}
		if p.remaining[i] == 0 {
			continue
		}
		take := p.remaining[i]
		if take > need {
			take = need
		}
		draws = append(draws, Draw{Batch: p.batches[i], Before: p.remaining[i], Quantity: take})
		p.remaining[i] -= take
		need -= take
	}
	return draws, nil
}

// Allocate is a one-shot Take over a fresh pool.
func Allocate(batches []domain.StockBatch, qty int) ([]Draw, error) {
	return NewPool(batches).Take(qty)
}

// WeightedCost is the quantity-weighted mean landed cost of the draws.
func WeightedCost(draws []Draw) decimal.Decimal {
	total := decimal.Zero
	units := int64(0)
	for _, d := range draws {
		total = total.Add(d.Batch.LandedCost().Mul(decimal.NewFromInt(int64(d.Quantity))))
		units += int64(d.Quantity)
	}
	if units == 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(units), CostPlaces)
}
