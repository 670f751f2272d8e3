package domain

import (
	"fmt"
	"slices"
	"time"
)

// DiscountType determines how a discount's savings are computed.
type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "percentage"
	DiscountTypeFixedAmount  DiscountType = "fixed_amount"
	DiscountTypeFreeShipping DiscountType = "free_shipping"
)

// DiscountStatus is the authoring lifecycle state of a discount.
type DiscountStatus string

const (
	DiscountStatusDraft    DiscountStatus = "draft"
	DiscountStatusActive   DiscountStatus = "active"
	DiscountStatusPaused   DiscountStatus = "paused"
	DiscountStatusExpired  DiscountStatus = "expired"
	DiscountStatusArchived DiscountStatus = "archived"
)

// StackingPolicy governs how a discount combines with others.
type StackingPolicy string

const (
	StackingStack     StackingPolicy = "stack"
	StackingExclusive StackingPolicy = "exclusive"
	StackingBestOf    StackingPolicy = "best_of"
)

// DiscountClass groups discounts that compete under best_of.
type DiscountClass string

const (
	ClassMonetary DiscountClass = "monetary"
	ClassShipping DiscountClass = "shipping"
)

// BasisPointsScale is 100% expressed in basis points.
const BasisPointsScale = 10000

// Discount is an admin-authored pricing rule.
type Discount struct {
	ID                int64               `json:"id"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	Type              DiscountType        `json:"type"`
	Status            DiscountStatus      `json:"status"`
	Value             int64               `json:"value"`
	MaxDiscountAmount int64               `json:"max_discount_amount"`
	Priority          int                 `json:"priority"`
	Exclusive         bool                `json:"exclusive"`
	StackingPolicy    StackingPolicy      `json:"stacking_policy"`
	RequiresCode      bool                `json:"requires_code"`
	StartsAt          *time.Time          `json:"starts_at,omitempty"`
	EndsAt            *time.Time          `json:"ends_at,omitempty"`
	Channels          []string            `json:"channels"`
	Currencies        []string            `json:"currencies"`
	WeekdayMask       int                 `json:"weekday_mask"`
	TimeWindowStart   string              `json:"time_window_start,omitempty"`
	TimeWindowEnd     string              `json:"time_window_end,omitempty"`
	MaxUses           int64               `json:"max_uses"`
	UsageCount        int64               `json:"usage_count"`
	PerCustomerLimit  int64               `json:"per_customer_limit"`
	PerCodeLimit      int64               `json:"per_code_limit"`
	PerDayLimit       int64               `json:"per_day_limit"`
	Conditions        []DiscountCondition `json:"conditions"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// ValidTypes returns every discount type.
func ValidTypes() []DiscountType {
	return []DiscountType{DiscountTypePercentage, DiscountTypeFixedAmount, DiscountTypeFreeShipping}
}

// IsValidType reports whether t is a known discount type.
func IsValidType(t DiscountType) bool {
	return slices.Contains(ValidTypes(), t)
}

// ValidStatuses returns every discount status.
func ValidStatuses() []DiscountStatus {
	return []DiscountStatus{
		DiscountStatusDraft,
		DiscountStatusActive,
		DiscountStatusPaused,
		DiscountStatusExpired,
		DiscountStatusArchived,
	}
}

// IsValidStatus reports whether s is a known discount status.
func IsValidStatus(s DiscountStatus) bool {
	return slices.Contains(ValidStatuses(), s)
}

// ValidStackingPolicies returns every stacking policy.
func ValidStackingPolicies() []StackingPolicy {
	return []StackingPolicy{StackingStack, StackingExclusive, StackingBestOf}
}

// IsExclusive reports whether applying d suppresses every other discount.
func (d *Discount) IsExclusive() bool {
	return d.Exclusive || d.StackingPolicy == StackingExclusive
}

// Class returns the best_of competition class of d.
func (d *Discount) Class() DiscountClass {
	if d.Type == DiscountTypeFreeShipping {
		return ClassShipping
	}
	return ClassMonetary
}

// HasUsesLeft reports whether the global max_uses cap still allows a redemption.
func (d *Discount) HasUsesLeft() bool {
	return d.MaxUses == 0 || d.UsageCount < d.MaxUses
}

// InWindow reports whether now falls inside [StartsAt, EndsAt]. Nil bounds are open.
func (d *Discount) InWindow(now time.Time) bool {
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return true
}

// Validate checks the structural invariants of d. Conditions are validated by
// the engine compiler, not here.
func (d *Discount) Validate() error {
	fail := func(field, reason string) error {
		return &ConfigurationError{DiscountID: d.ID, Field: field, Reason: reason}
	}

	if d.Name == "" {
		return fail("name", "is required")
	}
	if !IsValidType(d.Type) {
		return fail("type", fmt.Sprintf("unknown discount type %q", d.Type))
	}
	if d.Status != "" && !IsValidStatus(d.Status) {
		return fail("status", fmt.Sprintf("unknown status %q", d.Status))
	}
	if !slices.Contains(ValidStackingPolicies(), d.StackingPolicy) {
		return fail("stacking_policy", fmt.Sprintf("unknown stacking policy %q", d.StackingPolicy))
	}
	if d.Priority < 0 {
		return fail("priority", "must be >= 0")
	}
	if d.Value < 0 {
		return fail("value", "must be >= 0")
	}

	switch d.Type {
	case DiscountTypePercentage:
		if d.Value == 0 || d.Value > BasisPointsScale {
			return fail("value", "percentage must be between 1 and 10000 basis points")
		}
	case DiscountTypeFixedAmount:
		if d.Value == 0 {
			return fail("value", "fixed amount must be positive")
		}
	case DiscountTypeFreeShipping:
		if d.Value != 0 {
			return fail("value", "free shipping discounts carry no value")
		}
	}

	if d.MaxDiscountAmount < 0 {
		return fail("max_discount_amount", "must be >= 0")
	}
	if d.Exclusive && d.StackingPolicy != StackingExclusive {
		return fail("stacking_policy", "exclusive discounts must use the exclusive stacking policy")
	}
	if d.StartsAt != nil && d.EndsAt != nil && !d.EndsAt.After(*d.StartsAt) {
		return fail("ends_at", "must be after starts_at")
	}
	if d.WeekdayMask < 0 || d.WeekdayMask > 0x7f {
		return fail("weekday_mask", "must be between 0 and 127")
	}
	if (d.TimeWindowStart == "") != (d.TimeWindowEnd == "") {
		return fail("time_window", "start and end must both be set or both be empty")
	}
	if d.TimeWindowStart != "" {
		start, err := ParseClock(d.TimeWindowStart)
		if err != nil {
			return fail("time_window_start", err.Error())
		}
		end, err := ParseClock(d.TimeWindowEnd)
		if err != nil {
			return fail("time_window_end", err.Error())
		}
		if start == end {
			return fail("time_window", "start and end must differ")
		}
	}
	for _, limit := range []struct {
		name  string
		value int64
	}{
		{"max_uses", d.MaxUses},
		{"per_customer_limit", d.PerCustomerLimit},
		{"per_code_limit", d.PerCodeLimit},
		{"per_day_limit", d.PerDayLimit},
	} {
		if limit.value < 0 {
			return fail(limit.name, "must be >= 0")
		}
	}
	for _, c := range d.Currencies {
		if len(c) != 3 {
			return fail("currencies", fmt.Sprintf("invalid currency code %q", c))
		}
	}
	return nil
}

// ParseClock parses an "HH:MM" time of day into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
