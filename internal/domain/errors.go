package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is checks on the typed errors below.
var (
	ErrConfiguration       = errors.New("invalid discount configuration")
	ErrLimitExceeded       = errors.New("usage limit exceeded")
	ErrConcurrencyConflict = errors.New("concurrent redemption conflict")
)

// ConfigurationError reports malformed admin data on a discount or condition.
type ConfigurationError struct {
	DiscountID int64
	Field      string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.DiscountID != 0 {
		return fmt.Sprintf("discount %d: %s %s", e.DiscountID, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigurationError) StatusCode() int { return http.StatusUnprocessableEntity }
func (e *ConfigurationError) ErrorCode() string { return "INVALID_CONFIGURATION" }

func (e *ConfigurationError) Details() any {
	return map[string]any{"discount_id": e.DiscountID, "field": e.Field}
}

// Limit names used by LimitExceededError.
const (
	LimitGlobal   = "global"
	LimitCode     = "code"
	LimitCustomer = "customer"
	LimitDay      = "day"
)

// LimitExceededError reports a usage cap that has been reached.
type LimitExceededError struct {
	DiscountID int64
	Limit      string
	Max        int64
	Used       int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("discount %d: %s limit reached (%d/%d)", e.DiscountID, e.Limit, e.Used, e.Max)
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrLimitExceeded }

func (e *LimitExceededError) StatusCode() int { return http.StatusUnprocessableEntity }
func (e *LimitExceededError) ErrorCode() string { return "LIMIT_EXCEEDED" }

func (e *LimitExceededError) Details() any {
	return map[string]any{"discount_id": e.DiscountID, "limit": e.Limit, "max": e.Max, "used": e.Used}
}

// ConcurrencyConflictError is returned when usage limits were exhausted by a
// concurrent confirmation between quote and redemption. The caller should
// re-quote and retry once.
type ConcurrencyConflictError struct {
	DiscountIDs []int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("usage limit exhausted concurrently for discounts %v", e.DiscountIDs)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func (e *ConcurrencyConflictError) StatusCode() int { return http.StatusConflict }
func (e *ConcurrencyConflictError) ErrorCode() string { return "CONCURRENCY_CONFLICT" }

func (e *ConcurrencyConflictError) Details() any {
	return map[string]any{"discount_ids": e.DiscountIDs}
}
