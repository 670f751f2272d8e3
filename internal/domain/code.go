package domain

import (
	"strings"
	"time"
)

// DiscountCode is a human-entered code bound to one discount, with its own
// expiry and usage cap layered on top of the discount's limits.
type DiscountCode struct {
	ID         int64      `json:"id"`
	DiscountID int64      `json:"discount_id"`
	Code       string     `json:"code"`
	MaxUses    *int64     `json:"max_uses,omitempty"`
	UsageCount int64      `json:"usage_count"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NormalizeCode trims and upper-cases a code as entered by a customer.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Expired reports whether the code's expiry has passed at now.
func (c *DiscountCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Exhausted reports whether the code's own usage cap has been reached.
func (c *DiscountCode) Exhausted() bool {
	return c.MaxUses != nil && c.UsageCount >= *c.MaxUses
}

// Usable reports whether the code can be redeemed at now.
func (c *DiscountCode) Usable(now time.Time) bool {
	return c.Active && !c.Expired(now) && !c.Exhausted()
}
