package engine

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/utafrali/discount-engine/internal/domain"
)

// SortCandidates stable-sorts discounts by priority ascending, then id
// ascending.
func SortCandidates(ds []domain.Discount) {
	slices.SortStableFunc(ds, func(a, b domain.Discount) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Savings computes what d takes off a running monetary total. Percentages
// are rounded half-up to the minor unit. The result is capped by
// MaxDiscountAmount (when set) and by running itself.
func Savings(d *domain.Discount, running int64) int64 {
	var saved int64
	switch d.Type {
	case domain.DiscountTypePercentage:
		saved = decimal.NewFromInt(running).
			Mul(decimal.NewFromInt(d.Value)).
			Div(decimal.NewFromInt(domain.BasisPointsScale)).
			Round(0).
			IntPart()
	case domain.DiscountTypeFixedAmount:
		saved = d.Value
	default:
		return 0
	}

	if d.MaxDiscountAmount > 0 && saved > d.MaxDiscountAmount {
		saved = d.MaxDiscountAmount
	}
	if saved > running {
		saved = running
	}
	if saved < 0 {
		saved = 0
	}
	return saved
}

// Resolve selects which of the eligible discounts apply to order and prices
// the result. Codes maps discount ids to the code that made them eligible.
//
// When any candidate is exclusive, only the first exclusive candidate in
// (priority, id) order applies. Otherwise discounts apply in that order,
// each against the running total left by the previous ones.
func Resolve(eligible []domain.Discount, order *domain.OrderContext, codes map[int64]*domain.DiscountCode) *domain.Quote {
	candidates := slices.Clone(eligible)
	SortCandidates(candidates)

	q := &domain.Quote{
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		ShippingTotal: order.ShippingAmount,
		Applied:       []domain.AppliedDiscount{},
		Skipped:       []domain.Rejection{},
	}

	if winner := firstExclusive(candidates); winner >= 0 {
		for i := range candidates {
			if i == winner {
				continue
			}
			q.Skipped = append(q.Skipped, domain.Rejection{
				DiscountID: candidates[i].ID,
				Reason:     domain.ReasonSuppressedExclusive,
			})
		}
		candidates = candidates[winner : winner+1]
	}

	running := order.Subtotal
	best := map[domain.DiscountClass]int64{}

	for i := range candidates {
		d := &candidates[i]

		var saved int64
		if d.Type == domain.DiscountTypeFreeShipping {
			if q.FreeShipping {
				q.Skipped = append(q.Skipped, domain.Rejection{DiscountID: d.ID, Reason: domain.ReasonFreeShippingApplied})
				continue
			}
			saved = order.ShippingAmount
		} else {
			saved = Savings(d, running)
		}

		if d.StackingPolicy == domain.StackingBestOf {
			if prev, ok := best[d.Class()]; ok && prev >= saved {
				q.Skipped = append(q.Skipped, domain.Rejection{DiscountID: d.ID, Reason: domain.ReasonOutrankedBestOf})
				continue
			}
		}

		if d.Type == domain.DiscountTypeFreeShipping {
			q.FreeShipping = true
			q.ShippingTotal = 0
		} else {
			if saved == 0 {
				q.Skipped = append(q.Skipped, domain.Rejection{DiscountID: d.ID, Reason: domain.ReasonNoSavings})
				continue
			}
			running -= saved
			q.DiscountTotal += saved
		}

		if prev, ok := best[d.Class()]; !ok || saved > prev {
			best[d.Class()] = saved
		}

		applied := domain.AppliedDiscount{
			DiscountID:     d.ID,
			Name:           d.Name,
			Type:           d.Type,
			StackingPolicy: d.StackingPolicy,
			Priority:       d.Priority,
			AmountSaved:    saved,
		}
		if code, ok := codes[d.ID]; ok && code != nil {
			id := code.ID
			applied.CodeID = &id
			applied.Code = code.Code
		}
		q.Applied = append(q.Applied, applied)
	}

	q.Total = q.Subtotal - q.DiscountTotal
	return q
}

func firstExclusive(sorted []domain.Discount) int {
	for i := range sorted {
		if sorted[i].IsExclusive() {
			return i
		}
	}
	return -1
}
