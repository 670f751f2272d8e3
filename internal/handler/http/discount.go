package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	"github.com/utafrali/discount-engine/internal/service"
	"github.com/utafrali/discount-engine/pkg/httputil"
	"github.com/utafrali/discount-engine/pkg/pagination"
	"github.com/utafrali/discount-engine/pkg/validator"
)

const maxBodyBytes = 1 << 20

// DiscountHandler handles HTTP requests for discount authoring endpoints.
type DiscountHandler struct {
	service *service.DiscountService
	logger  *slog.Logger
}

// NewDiscountHandler creates a new discount HTTP handler.
func NewDiscountHandler(svc *service.DiscountService, logger *slog.Logger) *DiscountHandler {
	return &DiscountHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ConditionRequest is one condition of a discount.
type ConditionRequest struct {
	Type     string          `json:"type" validate:"required"`
	Operator string          `json:"operator" validate:"required"`
	Value    json.RawMessage `json:"value" validate:"required"`
	Position int             `json:"position" validate:"gte=0"`
}

// CreateDiscountRequest is the JSON request body for creating a discount.
type CreateDiscountRequest struct {
	Name              string             `json:"name" validate:"required,min=1,max=255"`
	Description       string             `json:"description" validate:"max=2000"`
	Type              string             `json:"type" validate:"required,oneof=percentage fixed_amount free_shipping"`
	Status            string             `json:"status" validate:"omitempty,oneof=draft active paused"`
	Value             int64              `json:"value" validate:"gte=0"`
	MaxDiscountAmount int64              `json:"max_discount_amount" validate:"gte=0"`
	Priority          int                `json:"priority" validate:"gte=0"`
	Exclusive         bool               `json:"exclusive"`
	StackingPolicy    string             `json:"stacking_policy" validate:"omitempty,oneof=stack exclusive best_of"`
	RequiresCode      bool               `json:"requires_code"`
	StartsAt          *time.Time         `json:"starts_at"`
	EndsAt            *time.Time         `json:"ends_at"`
	Channels          []string           `json:"channels" validate:"omitempty,dive,min=1,max=50"`
	Currencies        []string           `json:"currencies" validate:"omitempty,dive,len=3"`
	WeekdayMask       int                `json:"weekday_mask" validate:"gte=0,lte=127"`
	TimeWindowStart   string             `json:"time_window_start" validate:"omitempty,datetime=15:04"`
	TimeWindowEnd     string             `json:"time_window_end" validate:"omitempty,datetime=15:04"`
	MaxUses           int64              `json:"max_uses" validate:"gte=0"`
	PerCustomerLimit  int64              `json:"per_customer_limit" validate:"gte=0"`
	PerCodeLimit      int64              `json:"per_code_limit" validate:"gte=0"`
	PerDayLimit       int64              `json:"per_day_limit" validate:"gte=0"`
	Conditions        []ConditionRequest `json:"conditions" validate:"omitempty,dive"`
}

// UpdateDiscountRequest is the JSON request body for updating a discount.
type UpdateDiscountRequest struct {
	Name              *string    `json:"name" validate:"omitempty,min=1,max=255"`
	Description       *string    `json:"description" validate:"omitempty,max=2000"`
	Type              *string    `json:"type" validate:"omitempty,oneof=percentage fixed_amount free_shipping"`
	Value             *int64     `json:"value" validate:"omitempty,gte=0"`
	MaxDiscountAmount *int64     `json:"max_discount_amount" validate:"omitempty,gte=0"`
	Priority          *int       `json:"priority" validate:"omitempty,gte=0"`
	Exclusive         *bool      `json:"exclusive"`
	StackingPolicy    *string    `json:"stacking_policy" validate:"omitempty,oneof=stack exclusive best_of"`
	RequiresCode      *bool      `json:"requires_code"`
	StartsAt          *time.Time `json:"starts_at"`
	EndsAt            *time.Time `json:"ends_at"`
	ClearSchedule     bool       `json:"clear_schedule"`
	Channels          []string   `json:"channels" validate:"omitempty,dive,min=1,max=50"`
	Currencies        []string   `json:"currencies" validate:"omitempty,dive,len=3"`
	WeekdayMask       *int       `json:"weekday_mask" validate:"omitempty,gte=0,lte=127"`
	TimeWindowStart   *string    `json:"time_window_start"`
	TimeWindowEnd     *string    `json:"time_window_end"`
	MaxUses           *int64     `json:"max_uses" validate:"omitempty,gte=0"`
	PerCustomerLimit  *int64     `json:"per_customer_limit" validate:"omitempty,gte=0"`
	PerCodeLimit      *int64     `json:"per_code_limit" validate:"omitempty,gte=0"`
	PerDayLimit       *int64     `json:"per_day_limit" validate:"omitempty,gte=0"`
}

// ReplaceConditionsRequest is the JSON request body for replacing conditions.
type ReplaceConditionsRequest struct {
	Conditions []ConditionRequest `json:"conditions" validate:"dive"`
}

// CreateCodesRequest is the JSON request body for adding codes to a discount.
// Exactly one of Code and Generate must be set.
type CreateCodesRequest struct {
	Code      string     `json:"code" validate:"omitempty,max=64"`
	Generate  int        `json:"generate" validate:"gte=0,lte=1000"`
	MaxUses   *int64     `json:"max_uses" validate:"omitempty,gt=0"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// --- Handlers ---

// CreateDiscount handles POST /api/v1/discounts
func (h *DiscountHandler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req CreateDiscountRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	input := &service.CreateDiscountInput{
		Name:              req.Name,
		Description:       req.Description,
		Type:              domain.DiscountType(req.Type),
		Status:            domain.DiscountStatus(req.Status),
		Value:             req.Value,
		MaxDiscountAmount: req.MaxDiscountAmount,
		Priority:          req.Priority,
		Exclusive:         req.Exclusive,
		StackingPolicy:    domain.StackingPolicy(req.StackingPolicy),
		RequiresCode:      req.RequiresCode,
		StartsAt:          req.StartsAt,
		EndsAt:            req.EndsAt,
		Channels:          req.Channels,
		Currencies:        req.Currencies,
		WeekdayMask:       req.WeekdayMask,
		TimeWindowStart:   req.TimeWindowStart,
		TimeWindowEnd:     req.TimeWindowEnd,
		MaxUses:           req.MaxUses,
		PerCustomerLimit:  req.PerCustomerLimit,
		PerCodeLimit:      req.PerCodeLimit,
		PerDayLimit:       req.PerDayLimit,
		Conditions:        toConditions(req.Conditions),
	}

	d, err := h.service.CreateDiscount(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, d)
}

// ListDiscounts handles GET /api/v1/discounts
func (h *DiscountHandler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := repository.DiscountFilter{Page: params.Page, PerPage: params.PerPage}

	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.DiscountStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("type"); v != "" {
		typ := domain.DiscountType(v)
		filter.Type = &typ
	}

	ds, total, err := h.service.ListDiscounts(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(ds, total, params.Page, params.PerPage))
}

// GetDiscount handles GET /api/v1/discounts/{id}
func (h *DiscountHandler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "discount id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	d, err := h.service.GetDiscount(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, d)
}

// UpdateDiscount handles PUT /api/v1/discounts/{id}
func (h *DiscountHandler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "discount id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateDiscountRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	input := &service.UpdateDiscountInput{
		Name:              req.Name,
		Description:       req.Description,
		Value:             req.Value,
		MaxDiscountAmount: req.MaxDiscountAmount,
		Priority:          req.Priority,
		Exclusive:         req.Exclusive,
		RequiresCode:      req.RequiresCode,
		StartsAt:          req.StartsAt,
		EndsAt:            req.EndsAt,
		ClearSchedule:     req.ClearSchedule,
		Channels:          req.Channels,
		Currencies:        req.Currencies,
		WeekdayMask:       req.WeekdayMask,
		TimeWindowStart:   req.TimeWindowStart,
		TimeWindowEnd:     req.TimeWindowEnd,
		MaxUses:           req.MaxUses,
		PerCustomerLimit:  req.PerCustomerLimit,
		PerCodeLimit:      req.PerCodeLimit,
		PerDayLimit:       req.PerDayLimit,
	}
	if req.Type != nil {
		typ := domain.DiscountType(*req.Type)
		input.Type = &typ
	}
	if req.StackingPolicy != nil {
		policy := domain.StackingPolicy(*req.StackingPolicy)
		input.StackingPolicy = &policy
	}

	d, err := h.service.UpdateDiscount(r.Context(), id, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, d)
}

// ActivateDiscount handles POST /api/v1/discounts/{id}/activate
func (h *DiscountHandler) ActivateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "discount id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	d, err := h.service.ActivateDiscount(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, d)
}

// DeactivateDiscount handles POST /api/v1/discounts/{id}/deactivate
func (h *DiscountHandler) DeactivateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "discount id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	d, err := h.service.DeactivateDiscount(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, d)
}

// ReplaceConditions handles PUT /api/v1/discounts/{id}/conditions
func (h *DiscountHandler) ReplaceConditions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "discount id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ReplaceConditionsRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	d, err := h.service.ReplaceConditions(r.Context(), id, toConditions(req.Conditions))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, d)
}

// CreateCodes handles POST /api/v1/discounts/{id}/codes
func (h *DiscountHandler) CreateCodes(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "discount id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req CreateCodesRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if (req.Code == "") == (req.Generate == 0) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "exactly one of code and generate is required"},
		})
		return
	}

	input := &service.CreateCodeInput{
		Code:      req.Code,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
	}

	if req.Generate > 0 {
		codes, err := h.service.GenerateCodes(r.Context(), id, req.Generate, input)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteData(w, http.StatusCreated, codes)
		return
	}

	code, err := h.service.CreateCode(r.Context(), id, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, code)
}

// ListCodes handles GET /api/v1/discounts/{id}/codes
func (h *DiscountHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "discount id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	codes, err := h.service.ListCodes(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, codes)
}

// --- Helpers ---

// decodeRequest limits, decodes and validates the request body into dst. On
// failure it writes the 400 response and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}

func toConditions(reqs []ConditionRequest) []domain.DiscountCondition {
	conds := make([]domain.DiscountCondition, len(reqs))
	for i, c := range reqs {
		conds[i] = domain.DiscountCondition{
			Type:     domain.ConditionType(c.Type),
			Operator: domain.Operator(c.Operator),
			Value:    c.Value,
			Position: c.Position,
		}
	}
	return conds
}
