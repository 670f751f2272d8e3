// Package engine evaluates discount rules against an order and resolves how
// eligible discounts stack. It is pure: no I/O, no clocks, no shared state.
package engine

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/utafrali/discount-engine/internal/domain"
)

// Predicate reports whether an order satisfies one compiled condition.
// Time-based predicates read order.At in whatever location it carries, so
// callers convert it to the engine location first (see LocalizeOrder).
type Predicate func(order *domain.OrderContext) bool

type compiler func(cond domain.DiscountCondition) (Predicate, error)

var compilers = map[domain.ConditionType]compiler{
	domain.ConditionCartTotal:      compileCartTotal,
	domain.ConditionItemQuantity:   compileItemQuantity,
	domain.ConditionProductIn:      compileProductIn,
	domain.ConditionCategoryIn:     compileCategoryIn,
	domain.ConditionCustomerGroup:  compileCustomerGroup,
	domain.ConditionFirstOrderOnly: compileFirstOrderOnly,
	domain.ConditionWeekday:        compileWeekday,
	domain.ConditionTimeWindow:     compileTimeWindow,
}

// SupportedConditionTypes lists the condition types Compile understands.
func SupportedConditionTypes() []domain.ConditionType {
	types := make([]domain.ConditionType, 0, len(compilers))
	for t := range compilers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Compile turns a stored condition into a Predicate. An unknown type, an
// operator the type does not support, or a malformed value yields a
// *domain.ConfigurationError.
func Compile(cond domain.DiscountCondition) (Predicate, error) {
	c, ok := compilers[cond.Type]
	if !ok {
		return nil, configError(cond, "type", fmt.Sprintf("unknown condition type %q, supported: %v", cond.Type, SupportedConditionTypes()))
	}
	return c(cond)
}

// CompileAll compiles the conditions of d in position order and returns a
// single predicate that ANDs them, stopping at the first false one.
func CompileAll(d *domain.Discount) (Predicate, error) {
	conds := slices.Clone(d.Conditions)
	sort.SliceStable(conds, func(i, j int) bool { return conds[i].Position < conds[j].Position })

	preds := make([]Predicate, 0, len(conds))
	for _, cond := range conds {
		if cond.DiscountID == 0 {
			cond.DiscountID = d.ID
		}
		p, err := Compile(cond)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	return func(order *domain.OrderContext) bool {
		for _, p := range preds {
			if !p(order) {
				return false
			}
		}
		return true
	}, nil
}

func configError(cond domain.DiscountCondition, field, reason string) *domain.ConfigurationError {
	return &domain.ConfigurationError{
		DiscountID: cond.DiscountID,
		Field:      fmt.Sprintf("conditions[%d].%s", cond.Position, field),
		Reason:     reason,
	}
}

func unsupportedOperator(cond domain.DiscountCondition) *domain.ConfigurationError {
	return configError(cond, "operator", fmt.Sprintf("operator %q not supported for %s", cond.Operator, cond.Type))
}

func decodeValue(cond domain.DiscountCondition, dst any) error {
	if len(cond.Value) == 0 {
		return configError(cond, "value", "is required")
	}
	if err := json.Unmarshal(cond.Value, dst); err != nil {
		return configError(cond, "value", fmt.Sprintf("malformed value for %s: %v", cond.Type, err))
	}
	return nil
}

func compareInt(cond domain.DiscountCondition, threshold int64, read func(*domain.OrderContext) int64) (Predicate, error) {
	switch cond.Operator {
	case domain.OpGTE:
		return func(o *domain.OrderContext) bool { return read(o) >= threshold }, nil
	case domain.OpLTE:
		return func(o *domain.OrderContext) bool { return read(o) <= threshold }, nil
	case domain.OpEQ:
		return func(o *domain.OrderContext) bool { return read(o) == threshold }, nil
	default:
		return nil, unsupportedOperator(cond)
	}
}

func compileCartTotal(cond domain.DiscountCondition) (Predicate, error) {
	var threshold int64
	if err := decodeValue(cond, &threshold); err != nil {
		return nil, err
	}
	if threshold < 0 {
		return nil, configError(cond, "value", "cart total must be >= 0")
	}
	return compareInt(cond, threshold, func(o *domain.OrderContext) int64 { return o.Subtotal })
}

func compileItemQuantity(cond domain.DiscountCondition) (Predicate, error) {
	var threshold int64
	if err := decodeValue(cond, &threshold); err != nil {
		return nil, err
	}
	if threshold < 0 {
		return nil, configError(cond, "value", "quantity must be >= 0")
	}
	return compareInt(cond, threshold, (*domain.OrderContext).TotalQuantity)
}

// membership builds an in/not_in predicate over the values extracted from an
// order. "in" matches when any extracted value is in the set.
func membership(cond domain.DiscountCondition, extract func(*domain.OrderContext) []string) (Predicate, error) {
	var values []string
	if err := decodeValue(cond, &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, configError(cond, "value", "must list at least one entry")
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	anyIn := func(o *domain.OrderContext) bool {
		for _, v := range extract(o) {
			if _, ok := set[v]; ok {
				return true
			}
		}
		return false
	}

	switch cond.Operator {
	case domain.OpIn:
		return anyIn, nil
	case domain.OpNotIn:
		return func(o *domain.OrderContext) bool { return !anyIn(o) }, nil
	default:
		return nil, unsupportedOperator(cond)
	}
}

func compileProductIn(cond domain.DiscountCondition) (Predicate, error) {
	return membership(cond, func(o *domain.OrderContext) []string {
		ids := make([]string, 0, len(o.Lines))
		for _, l := range o.Lines {
			ids = append(ids, l.ProductID)
		}
		return ids
	})
}

func compileCategoryIn(cond domain.DiscountCondition) (Predicate, error) {
	return membership(cond, func(o *domain.OrderContext) []string {
		var ids []string
		for _, l := range o.Lines {
			ids = append(ids, l.CategoryIDs...)
		}
		return ids
	})
}

func compileCustomerGroup(cond domain.DiscountCondition) (Predicate, error) {
	return membership(cond, func(o *domain.OrderContext) []string { return o.CustomerGroups })
}

func compileFirstOrderOnly(cond domain.DiscountCondition) (Predicate, error) {
	if cond.Operator != domain.OpEQ {
		return nil, unsupportedOperator(cond)
	}
	var firstOnly bool
	if err := decodeValue(cond, &firstOnly); err != nil {
		return nil, err
	}
	if !firstOnly {
		return func(*domain.OrderContext) bool { return true }, nil
	}
	return func(o *domain.OrderContext) bool { return o.CustomerOrderCount == 0 }, nil
}

func compileWeekday(cond domain.DiscountCondition) (Predicate, error) {
	var days []int
	if err := decodeValue(cond, &days); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, configError(cond, "value", "must list at least one weekday")
	}
	var mask uint8
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, configError(cond, "value", fmt.Sprintf("weekday %d out of range 0..6", d))
		}
		mask |= 1 << d
	}
	on := func(o *domain.OrderContext) bool { return mask&(1<<o.At.Weekday()) != 0 }

	switch cond.Operator {
	case domain.OpIn:
		return on, nil
	case domain.OpNotIn:
		return func(o *domain.OrderContext) bool { return !on(o) }, nil
	default:
		return nil, unsupportedOperator(cond)
	}
}

type clockWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func compileTimeWindow(cond domain.DiscountCondition) (Predicate, error) {
	var w clockWindow
	if err := decodeValue(cond, &w); err != nil {
		return nil, err
	}
	start, err := domain.ParseClock(w.Start)
	if err != nil {
		return nil, configError(cond, "value.start", err.Error())
	}
	end, err := domain.ParseClock(w.End)
	if err != nil {
		return nil, configError(cond, "value.end", err.Error())
	}
	if start == end {
		return nil, configError(cond, "value", "start and end must differ")
	}
	inside := func(o *domain.OrderContext) bool { return InClockWindow(o.At, start, end) }

	switch cond.Operator {
	case domain.OpIn:
		return inside, nil
	case domain.OpNotIn:
		return func(o *domain.OrderContext) bool { return !inside(o) }, nil
	default:
		return nil, unsupportedOperator(cond)
	}
}

// InClockWindow reports whether the time of day of t falls in the half-open
// window [start, end), both in minutes since midnight. A window whose end is
// before its start wraps past midnight.
func InClockWindow(t time.Time, start, end int) bool {
	m := t.Hour()*60 + t.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}
