package domain

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDiscount() *Discount {
	return &Discount{
		ID:             1,
		Name:           "Spring sale",
		Type:           DiscountTypePercentage,
		Status:         DiscountStatusActive,
		Value:          1000,
		StackingPolicy: StackingStack,
	}
}

// ============================================================================
// Discount.Validate Tests
// ============================================================================

func TestDiscountValidate_Valid(t *testing.T) {
	assert.NoError(t, validDiscount().Validate())
}

func TestDiscountValidate_Invalid(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(d *Discount)
		field  string
	}{
		{"missing name", func(d *Discount) { d.Name = "" }, "name"},
		{"unknown type", func(d *Discount) { d.Type = "bogus" }, "type"},
		{"unknown status", func(d *Discount) { d.Status = "live" }, "status"},
		{"unknown policy", func(d *Discount) { d.StackingPolicy = "greedy" }, "stacking_policy"},
		{"negative priority", func(d *Discount) { d.Priority = -1 }, "priority"},
		{"percentage over 100%", func(d *Discount) { d.Value = 10001 }, "value"},
		{"percentage zero", func(d *Discount) { d.Value = 0 }, "value"},
		{"fixed zero", func(d *Discount) { d.Type = DiscountTypeFixedAmount; d.Value = 0 }, "value"},
		{"free shipping with value", func(d *Discount) { d.Type = DiscountTypeFreeShipping; d.Value = 5 }, "value"},
		{"exclusive flag with stack policy", func(d *Discount) { d.Exclusive = true }, "stacking_policy"},
		{"ends before starts", func(d *Discount) { d.StartsAt = &start; d.EndsAt = &before }, "ends_at"},
		{"weekday mask overflow", func(d *Discount) { d.WeekdayMask = 128 }, "weekday_mask"},
		{"half time window", func(d *Discount) { d.TimeWindowStart = "09:00" }, "time_window"},
		{"bad time window", func(d *Discount) { d.TimeWindowStart = "9am"; d.TimeWindowEnd = "17:00" }, "time_window_start"},
		{"empty time window", func(d *Discount) { d.TimeWindowStart, d.TimeWindowEnd = "09:00", "09:00" }, "time_window"},
		{"negative limit", func(d *Discount) { d.PerDayLimit = -2 }, "per_day_limit"},
		{"first negative limit wins", func(d *Discount) { d.MaxUses, d.PerCodeLimit, d.PerDayLimit = -1, -1, -1 }, "max_uses"},
		{"bad currency", func(d *Discount) { d.Currencies = []string{"EURO"} }, "currencies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDiscount()
			tt.mutate(d)
			err := d.Validate()
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestDiscountValidate_ExclusivePolicy(t *testing.T) {
	d := validDiscount()
	d.Exclusive = true
	d.StackingPolicy = StackingExclusive
	assert.NoError(t, d.Validate())
	assert.True(t, d.IsExclusive())

	d.Exclusive = false
	assert.True(t, d.IsExclusive(), "the exclusive policy alone makes a discount exclusive")
}

func TestDiscountClass(t *testing.T) {
	d := validDiscount()
	assert.Equal(t, ClassMonetary, d.Class())
	d.Type = DiscountTypeFixedAmount
	assert.Equal(t, ClassMonetary, d.Class())
	d.Type = DiscountTypeFreeShipping
	assert.Equal(t, ClassShipping, d.Class())
}

func TestDiscountInWindow(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	d := validDiscount()
	assert.True(t, d.InWindow(now), "open-ended on both sides")

	d.StartsAt = &future
	assert.False(t, d.InWindow(now))

	d.StartsAt = &past
	d.EndsAt = &past
	assert.False(t, d.InWindow(now))

	d.EndsAt = &future
	assert.True(t, d.InWindow(now))

	d.StartsAt, d.EndsAt = &now, &now
	assert.True(t, d.InWindow(now), "bounds are inclusive")
}

func TestDiscountHasUsesLeft(t *testing.T) {
	d := validDiscount()
	assert.True(t, d.HasUsesLeft())
	d.MaxUses, d.UsageCount = 3, 2
	assert.True(t, d.HasUsesLeft())
	d.UsageCount = 3
	assert.False(t, d.HasUsesLeft())
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}

// ============================================================================
// DiscountCode Tests
// ============================================================================

func TestDiscountCodeUsable(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	limit := int64(2)

	tests := []struct {
		name string
		code DiscountCode
		want bool
	}{
		{"active unlimited", DiscountCode{Active: true}, true},
		{"inactive", DiscountCode{Active: false}, false},
		{"expired", DiscountCode{Active: true, ExpiresAt: &expired}, false},
		{"expires exactly now", DiscountCode{Active: true, ExpiresAt: &now}, false},
		{"under cap", DiscountCode{Active: true, MaxUses: &limit, UsageCount: 1}, true},
		{"at cap", DiscountCode{Active: true, MaxUses: &limit, UsageCount: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Usable(now))
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SUMMER10", NormalizeCode("  summer10 "))
}

// ============================================================================
// OrderContext Tests
// ============================================================================

func TestOrderContextNormalize(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	o := &OrderContext{
		Currency: " eur ",
		Lines: []CartLine{
			{ProductID: "p1", Quantity: 2, UnitPrice: 1500},
			{ProductID: "p2", Quantity: 1, UnitPrice: 700},
		},
	}
	require.NoError(t, o.Normalize(now))

	assert.Equal(t, "EUR", o.Currency)
	assert.Equal(t, int64(3700), o.Subtotal)
	assert.Equal(t, now, o.At)
	assert.Equal(t, int64(3), o.TotalQuantity())
}

func TestOrderContextNormalize_KeepsExplicitSubtotal(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := &OrderContext{Subtotal: 999, At: at, Lines: []CartLine{{Quantity: 1, UnitPrice: 5000}}}
	require.NoError(t, o.Normalize(time.Now()))
	assert.Equal(t, int64(999), o.Subtotal)
	assert.Equal(t, at, o.At)
}

func TestOrderContextNormalize_RejectsOverflow(t *testing.T) {
	tests := []struct {
		name  string
		lines []CartLine
	}{
		{"line product", []CartLine{{Quantity: 1 << 62, UnitPrice: 4}, {Quantity: 1, UnitPrice: 1000}}},
		{"running sum", []CartLine{{Quantity: 1, UnitPrice: math.MaxInt64}, {Quantity: 1, UnitPrice: 1}}},
		{"quantity sum", []CartLine{{Quantity: math.MaxInt64, UnitPrice: 0}, {Quantity: 1, UnitPrice: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &OrderContext{Currency: "usd", Lines: tt.lines}
			assert.ErrorIs(t, o.Normalize(time.Now()), ErrAmountOverflow)
			assert.Zero(t, o.Subtotal)
		})
	}
}

func TestOrderContextNormalize_LargestSubtotal(t *testing.T) {
	o := &OrderContext{Lines: []CartLine{{Quantity: 1, UnitPrice: math.MaxInt64 - 1}, {Quantity: 1, UnitPrice: 1}}}
	require.NoError(t, o.Normalize(time.Now()))
	assert.Equal(t, int64(math.MaxInt64), o.Subtotal)
}

// ============================================================================
// Error Tests
// ============================================================================

func TestLimitExceededError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", &LimitExceededError{DiscountID: 7, Limit: LimitCustomer, Max: 1, Used: 1})
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Contains(t, err.Error(), "customer limit reached (1/1)")

	var le *LimitExceededError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, http.StatusUnprocessableEntity, le.StatusCode())
	assert.Equal(t, "LIMIT_EXCEEDED", le.ErrorCode())
}

func TestConcurrencyConflictError(t *testing.T) {
	err := &ConcurrencyConflictError{DiscountIDs: []int64{3, 9}}
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.NotErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, http.StatusConflict, err.StatusCode())
	assert.Equal(t, "CONCURRENCY_CONFLICT", err.ErrorCode())
	assert.Equal(t, map[string]any{"discount_ids": []int64{3, 9}}, err.Details())
}

func TestConfigurationError_Message(t *testing.T) {
	assert.Equal(t, "discount 4: value must be >= 0", (&ConfigurationError{DiscountID: 4, Field: "value", Reason: "must be >= 0"}).Error())
	assert.Equal(t, "value must be >= 0", (&ConfigurationError{Field: "value", Reason: "must be >= 0"}).Error())
}

func TestConfirmationTotalSaved(t *testing.T) {
	c := &Confirmation{Redemptions: []DiscountRedemption{{AmountSaved: 1000}, {AmountSaved: 450}}}
	assert.Equal(t, int64(1450), c.TotalSaved())
}

func TestCampaignAnalyticsConversionRate(t *testing.T) {
	assert.Equal(t, 0.0, CampaignAnalytics{}.ConversionRate())
	assert.InDelta(t, 0.25, CampaignAnalytics{Clicks: 8, Conversions: 2}.ConversionRate(), 1e-9)
}

func TestQuoteAppliedIDs(t *testing.T) {
	q := &Quote{Applied: []AppliedDiscount{{DiscountID: 5}, {DiscountID: 2}}}
	assert.Equal(t, []int64{5, 2}, q.AppliedIDs())
}
