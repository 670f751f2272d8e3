package domain

import (
	"encoding/json"
	"time"
)

// ConditionType names the order attribute a condition tests.
type ConditionType string

const (
	ConditionCartTotal      ConditionType = "cart_total"
	ConditionItemQuantity   ConditionType = "item_quantity"
	ConditionProductIn      ConditionType = "product_in"
	ConditionCategoryIn     ConditionType = "category_in"
	ConditionCustomerGroup  ConditionType = "customer_group"
	ConditionFirstOrderOnly ConditionType = "first_order_only"
	ConditionWeekday        ConditionType = "weekday"
	ConditionTimeWindow     ConditionType = "time_window"
)

// Operator is the comparison applied by a condition.
type Operator string

const (
	OpGTE   Operator = ">="
	OpLTE   Operator = "<="
	OpEQ    Operator = "=="
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

// DiscountCondition is one predicate of a discount. Conditions on a discount
// are AND-ed in Position order.
type DiscountCondition struct {
	ID         int64           `json:"id"`
	DiscountID int64           `json:"discount_id"`
	Type       ConditionType   `json:"type"`
	Operator   Operator        `json:"operator"`
	Value      json.RawMessage `json:"value"`
	Position   int             `json:"position"`
	CreatedAt  time.Time       `json:"created_at"`
}
