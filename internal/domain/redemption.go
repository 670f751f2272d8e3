package domain

import "time"

// DiscountRedemption is the immutable record of one discount applied to one
// confirmed order. (OrderID, DiscountID) is unique.
type DiscountRedemption struct {
	ID           string    `json:"id"`
	DiscountID   int64     `json:"discount_id"`
	CodeID       *int64    `json:"code_id,omitempty"`
	OrderID      string    `json:"order_id"`
	CustomerID   string    `json:"customer_id,omitempty"`
	AmountSaved  int64     `json:"amount_saved"`
	CurrencyCode string    `json:"currency_code"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}

// UsageCounts are the redemption counts that per-customer, per-code and
// per-day limits are enforced against.
type UsageCounts struct {
	Customer int64
	Code     int64
	Day      int64
}

// Confirmation is the outcome of recording the redemptions for an order.
type Confirmation struct {
	OrderID     string               `json:"order_id"`
	Quote       *Quote               `json:"quote,omitempty"`
	Redemptions []DiscountRedemption `json:"redemptions"`
	Replayed    bool                 `json:"replayed"`
}

// TotalSaved sums AmountSaved over the confirmation's redemptions.
func (c *Confirmation) TotalSaved() int64 {
	var total int64
	for _, r := range c.Redemptions {
		total += r.AmountSaved
	}
	return total
}
