package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	"github.com/utafrali/discount-engine/internal/service"
	"github.com/utafrali/discount-engine/pkg/httputil"
	"github.com/utafrali/discount-engine/pkg/middleware"
	"github.com/utafrali/discount-engine/pkg/pagination"
)

// CampaignHandler handles HTTP requests for campaign endpoints.
type CampaignHandler struct {
	service *service.CampaignService
	logger  *slog.Logger
}

// NewCampaignHandler creates a new campaign HTTP handler.
func NewCampaignHandler(svc *service.CampaignService, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateCampaignRequest is the JSON request body for creating a campaign.
type CreateCampaignRequest struct {
	Name        string     `json:"name" validate:"required,min=1,max=255"`
	Description string     `json:"description" validate:"max=2000"`
	Status      string     `json:"status" validate:"omitempty,oneof=draft active paused ended archived"`
	DiscountID  *int64     `json:"discount_id" validate:"omitempty,gt=0"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

// CampaignEventRequest is the JSON request body for a view, click or
// conversion. Order fields are only read for conversions.
type CampaignEventRequest struct {
	DiscountID  *int64     `json:"discount_id" validate:"omitempty,gt=0"`
	CustomerID  string     `json:"customer_id" validate:"omitempty,max=64"`
	SessionID   string     `json:"session_id" validate:"omitempty,max=128"`
	Device      string     `json:"device" validate:"omitempty,max=50"`
	UTMSource   string     `json:"utm_source" validate:"omitempty,max=255"`
	UTMMedium   string     `json:"utm_medium" validate:"omitempty,max=255"`
	UTMCampaign string     `json:"utm_campaign" validate:"omitempty,max=255"`
	Referrer    string     `json:"referrer" validate:"omitempty,max=2048"`
	OrderID     string     `json:"order_id" validate:"omitempty,max=64"`
	Revenue     int64      `json:"revenue" validate:"gte=0"`
	Currency    string     `json:"currency" validate:"omitempty,len=3"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

// RollupRequest is the JSON request body for rolling up one day of events.
type RollupRequest struct {
	Day string `json:"day" validate:"required,datetime=2006-01-02"`
}

// --- Handlers ---

// CreateCampaign handles POST /api/v1/campaigns
func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	c, err := h.service.CreateCampaign(r.Context(), &service.CreateCampaignInput{
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		DiscountID:  req.DiscountID,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, c)
}

// ListCampaigns handles GET /api/v1/campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := repository.CampaignFilter{Page: params.Page, PerPage: params.PerPage}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}

	cs, total, err := h.service.ListCampaigns(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(cs, total, params.Page, params.PerPage))
}

// GetCampaign handles GET /api/v1/campaigns/{id}
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "campaign id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	c, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// RecordView handles POST /api/v1/campaigns/{id}/views
func (h *CampaignHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	e, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	if err := h.service.RecordView(r.Context(), e); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusAccepted, e)
}

// RecordClick handles POST /api/v1/campaigns/{id}/clicks
func (h *CampaignHandler) RecordClick(w http.ResponseWriter, r *http.Request) {
	e, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	if err := h.service.RecordClick(r.Context(), e); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusAccepted, e)
}

// RecordConversion handles POST /api/v1/campaigns/{id}/conversions
func (h *CampaignHandler) RecordConversion(w http.ResponseWriter, r *http.Request) {
	e, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	recorded, err := h.service.RecordConversion(r.Context(), e)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusAccepted
	if !recorded {
		status = http.StatusOK
	}
	httputil.WriteData(w, status, map[string]any{"recorded": recorded, "event": e})
}

// GetAnalytics handles GET /api/v1/campaigns/{id}/analytics?from=&to=
// Both bounds are dates; to defaults to today and from to 30 days before to.
func (h *CampaignHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseInt64Param(w, "campaign id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	to := time.Now().UTC().Truncate(24 * time.Hour)
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeBadParameter(w, "to must be a date (YYYY-MM-DD)")
			return
		}
		to = t
	}
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		f, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeBadParameter(w, "from must be a date (YYYY-MM-DD)")
			return
		}
		from = f
	}

	rows, err := h.service.GetAnalytics(r.Context(), id, from, to)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	type analyticsRow struct {
		domain.CampaignAnalytics
		ConversionRate float64 `json:"conversion_rate"`
	}
	out := make([]analyticsRow, len(rows))
	for i, row := range rows {
		out[i] = analyticsRow{CampaignAnalytics: row, ConversionRate: row.ConversionRate()}
	}

	httputil.WriteData(w, http.StatusOK, out)
}

// RollupAnalytics handles POST /api/v1/campaigns/analytics/rollup
func (h *CampaignHandler) RollupAnalytics(w http.ResponseWriter, r *http.Request) {
	var req RollupRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	day, err := time.Parse(time.DateOnly, req.Day)
	if err != nil {
		writeBadParameter(w, "day must be a date (YYYY-MM-DD)")
		return
	}

	n, err := h.service.RollupDaily(r.Context(), day)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]any{"day": req.Day, "campaigns": n})
}

func (h *CampaignHandler) decodeEvent(w http.ResponseWriter, r *http.Request) (*domain.CampaignEvent, bool) {
	id, ok := httputil.ParseInt64Param(w, "campaign id", chi.URLParam(r, "id"))
	if !ok {
		return nil, false
	}

	var req CampaignEventRequest
	if !decodeRequest(w, r, &req) {
		return nil, false
	}

	e := &domain.CampaignEvent{
		CampaignID:  id,
		DiscountID:  req.DiscountID,
		CustomerID:  req.CustomerID,
		SessionID:   req.SessionID,
		Device:      req.Device,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		Referrer:    req.Referrer,
		OrderID:     req.OrderID,
		Revenue:     req.Revenue,
		Currency:    req.Currency,
	}
	if req.OccurredAt != nil {
		e.OccurredAt = *req.OccurredAt
	}
	if e.CustomerID == "" {
		e.CustomerID = middleware.UserIDFromContext(r.Context())
	}
	return e, true
}

func writeBadParameter(w http.ResponseWriter, msg string) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: msg},
	})
}
