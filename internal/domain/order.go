package domain

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrAmountOverflow is returned when order arithmetic leaves the int64 range.
var ErrAmountOverflow = errors.New("order amount out of range")

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// CartLine is one product line of an order.
type CartLine struct {
	ProductID   string   `json:"product_id"`
	CategoryIDs []string `json:"category_ids"`
	Quantity    int64    `json:"quantity"`
	UnitPrice   int64    `json:"unit_price"`
}

func (l CartLine) total() decimal.Decimal {
	return decimal.NewFromInt(l.Quantity).Mul(decimal.NewFromInt(l.UnitPrice))
}

// OrderContext is everything discount evaluation knows about an order.
type OrderContext struct {
	OrderID            string     `json:"order_id,omitempty"`
	CustomerID         string     `json:"customer_id,omitempty"`
	CustomerGroups     []string   `json:"customer_groups"`
	CustomerOrderCount int64      `json:"customer_order_count"`
	Channel            string     `json:"channel"`
	Currency           string     `json:"currency"`
	Lines              []CartLine `json:"lines"`
	Subtotal           int64      `json:"subtotal"`
	ShippingAmount     int64      `json:"shipping_amount"`
	At                 time.Time  `json:"at"`
	CampaignID         *int64     `json:"campaign_id,omitempty"`
}

// Normalize fills derived fields: subtotal from lines when zero, evaluation
// time when unset, and upper-cased currency. It fails with ErrAmountOverflow
// when the line totals or quantities do not fit in int64.
func (o *OrderContext) Normalize(now time.Time) error {
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
	o.Channel = strings.TrimSpace(o.Channel)

	sum, qty := decimal.Zero, decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.total())
		qty = qty.Add(decimal.NewFromInt(l.Quantity))
	}
	if sum.Abs().GreaterThan(maxAmount) || qty.Abs().GreaterThan(maxAmount) {
		return ErrAmountOverflow
	}
	if o.Subtotal == 0 {
		o.Subtotal = sum.IntPart()
	}
	if o.At.IsZero() {
		o.At = now
	}
	return nil
}

// TotalQuantity sums the quantities of all lines.
func (o *OrderContext) TotalQuantity() int64 {
	var n int64
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}
