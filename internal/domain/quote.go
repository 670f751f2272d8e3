package domain

// Rejection reasons reported for candidates that are not eligible or not applied.
const (
	ReasonNotActive           = "not_active"
	ReasonOutsideWindow       = "outside_window"
	ReasonRequiresCode        = "requires_code"
	ReasonChannel             = "channel_not_allowed"
	ReasonCurrency            = "currency_not_allowed"
	ReasonWeekday             = "weekday_not_allowed"
	ReasonTimeOfDay           = "outside_time_window"
	ReasonGlobalLimit         = "global_limit_reached"
	ReasonCustomerLimit       = "customer_limit_reached"
	ReasonCodeLimit           = "code_limit_reached"
	ReasonDayLimit            = "day_limit_reached"
	ReasonConditionFailed     = "condition_not_met"
	ReasonInvalidConfig       = "invalid_configuration"
	ReasonSuppressedExclusive = "suppressed_by_exclusive"
	ReasonOutrankedBestOf     = "outranked_by_best_of"
	ReasonFreeShippingApplied = "free_shipping_already_applied"
	ReasonNoSavings           = "no_savings"
)

// Rejection explains why a discount was not eligible or not applied.
type Rejection struct {
	DiscountID int64  `json:"discount_id"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
}

// Eligibility is the output of candidate resolution.
type Eligibility struct {
	Eligible  []Discount    `json:"eligible"`
	Rejected  []Rejection   `json:"rejected"`
	Code      *DiscountCode `json:"code,omitempty"`
	// CodeError is set when an entered code could not be used. Automatic
	// discounts are still evaluated.
	CodeError error         `json:"-"`
}

// AppliedDiscount is a discount selected by stacking resolution.
type AppliedDiscount struct {
	DiscountID     int64          `json:"discount_id"`
	Name           string         `json:"name"`
	Type           DiscountType   `json:"type"`
	StackingPolicy StackingPolicy `json:"stacking_policy"`
	Priority       int            `json:"priority"`
	AmountSaved    int64          `json:"amount_saved"`
	CodeID         *int64         `json:"code_id,omitempty"`
	Code           string         `json:"code,omitempty"`
}

// Quote is the priced result of applying the eligible discounts to an order.
type Quote struct {
	Currency      string            `json:"currency"`
	Subtotal      int64             `json:"subtotal"`
	DiscountTotal int64             `json:"discount_total"`
	Total         int64             `json:"total"`
	ShippingTotal int64             `json:"shipping_total"`
	FreeShipping  bool              `json:"free_shipping"`
	Applied       []AppliedDiscount `json:"applied"`
	Skipped       []Rejection       `json:"skipped"`
	Rejected      []Rejection       `json:"rejected"`
	CodeError     string            `json:"code_error,omitempty"`
}

// AppliedIDs returns the ids of the applied discounts in application order.
func (q *Quote) AppliedIDs() []int64 {
	ids := make([]int64, len(q.Applied))
	for i, a := range q.Applied {
		ids[i] = a.DiscountID
	}
	return ids
}
