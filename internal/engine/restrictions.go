package engine

import (
	"strings"
	"time"

	"github.com/utafrali/discount-engine/internal/domain"
)

// LocalizeOrder returns a copy of order whose evaluation time is expressed in
// loc, so weekday and time-of-day checks use the store's calendar.
func LocalizeOrder(order *domain.OrderContext, loc *time.Location) *domain.OrderContext {
	local := *order
	if loc != nil {
		local.At = order.At.In(loc)
	}
	return &local
}

// CheckWindow returns a rejection reason when d is not live at now, or "".
func CheckWindow(d *domain.Discount, now time.Time) string {
	if d.Status != domain.DiscountStatusActive {
		return domain.ReasonNotActive
	}
	if !d.InWindow(now) {
		return domain.ReasonOutsideWindow
	}
	return ""
}

// CheckRestrictions tests the channel, currency, weekday mask and time window
// restrictions of d against order. It returns the first failing reason or "".
func CheckRestrictions(d *domain.Discount, order *domain.OrderContext, loc *time.Location) string {
	if len(d.Channels) > 0 && !containsFold(d.Channels, order.Channel) {
		return domain.ReasonChannel
	}
	if len(d.Currencies) > 0 && !containsFold(d.Currencies, order.Currency) {
		return domain.ReasonCurrency
	}

	at := order.At
	if loc != nil {
		at = at.In(loc)
	}
	if d.WeekdayMask != 0 && d.WeekdayMask&(1<<at.Weekday()) == 0 {
		return domain.ReasonWeekday
	}
	if d.TimeWindowStart != "" && d.TimeWindowEnd != "" {
		start, errStart := domain.ParseClock(d.TimeWindowStart)
		end, errEnd := domain.ParseClock(d.TimeWindowEnd)
		if errStart != nil || errEnd != nil || start == end {
			return domain.ReasonInvalidConfig
		}
		if !InClockWindow(at, start, end) {
			return domain.ReasonTimeOfDay
		}
	}
	return ""
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// DayStart returns midnight of the day containing t in loc. Per-day usage
// limits count redemptions from this instant.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
