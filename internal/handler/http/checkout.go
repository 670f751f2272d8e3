package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/service"
	"github.com/utafrali/discount-engine/pkg/httputil"
	"github.com/utafrali/discount-engine/pkg/middleware"
)

// CheckoutHandler handles the quote, confirm and redemption endpoints called
// by the checkout workflow.
type CheckoutHandler struct {
	discounts   *service.DiscountService
	redemptions *service.RedemptionService
	logger      *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(discounts *service.DiscountService, redemptions *service.RedemptionService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		discounts:   discounts,
		redemptions: redemptions,
		logger:      logger,
	}
}

// --- Request DTOs ---

// CartLineRequest is one product line of an order.
type CartLineRequest struct {
	ProductID   string   `json:"product_id" validate:"required,max=64"`
	CategoryIDs []string `json:"category_ids"`
	Quantity    int64    `json:"quantity" validate:"gt=0"`
	UnitPrice   int64    `json:"unit_price" validate:"gte=0"`
}

// QuoteRequest is the JSON request body for pricing an order.
type QuoteRequest struct {
	OrderID            string            `json:"order_id" validate:"omitempty,max=64"`
	CustomerID         string            `json:"customer_id" validate:"omitempty,max=64"`
	CustomerGroups     []string          `json:"customer_groups"`
	CustomerOrderCount int64             `json:"customer_order_count" validate:"gte=0"`
	Channel            string            `json:"channel" validate:"omitempty,max=50"`
	Currency           string            `json:"currency" validate:"required,len=3"`
	Lines              []CartLineRequest `json:"lines" validate:"required,min=1,dive"`
	Subtotal           int64             `json:"subtotal" validate:"gte=0"`
	ShippingAmount     int64             `json:"shipping_amount" validate:"gte=0"`
	At                 *time.Time        `json:"at"`
	CampaignID         *int64            `json:"campaign_id" validate:"omitempty,gt=0"`
	Code               string            `json:"code" validate:"omitempty,max=64"`
}

// ConfirmRequest is the JSON request body for confirming an order's
// discounts. The evaluation time is always the server's clock.
type ConfirmRequest struct {
	QuoteRequest
	ExpectedDiscountIDs []int64 `json:"expected_discount_ids"`
}

// --- Handlers ---

// Quote handles POST /api/v1/checkout/quote
func (h *CheckoutHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	q, err := h.discounts.Quote(r.Context(), &service.QuoteInput{
		Order: toOrder(r, &req),
		Code:  req.Code,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, q)
}

// Confirm handles POST /api/v1/checkout/confirm
func (h *CheckoutHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	order := toOrder(r, &req.QuoteRequest)
	order.At = time.Time{}

	c, err := h.redemptions.Confirm(r.Context(), &service.ConfirmInput{
		Order:               order,
		Code:                req.Code,
		ExpectedDiscountIDs: req.ExpectedDiscountIDs,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if c.Replayed {
		status = http.StatusOK
	}
	httputil.WriteData(w, status, c)
}

// ListRedemptions handles GET /api/v1/orders/{orderId}/redemptions
func (h *CheckoutHandler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.redemptions.ListByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, rs)
}

// ReverseRedemptions handles DELETE /api/v1/orders/{orderId}/redemptions
func (h *CheckoutHandler) ReverseRedemptions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.redemptions.Reverse(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, rs)
}

// toOrder maps a request to an order context. An order without a customer id
// is attributed to the gateway user, when there is one.
func toOrder(r *http.Request, req *QuoteRequest) domain.OrderContext {
	lines := make([]domain.CartLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = domain.CartLine{
			ProductID:   l.ProductID,
			CategoryIDs: l.CategoryIDs,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
	}

	order := domain.OrderContext{
		OrderID:            req.OrderID,
		CustomerID:         req.CustomerID,
		CustomerGroups:     req.CustomerGroups,
		CustomerOrderCount: req.CustomerOrderCount,
		Channel:            req.Channel,
		Currency:           req.Currency,
		Lines:              lines,
		Subtotal:           req.Subtotal,
		ShippingAmount:     req.ShippingAmount,
		CampaignID:         req.CampaignID,
	}
	if req.At != nil {
		order.At = *req.At
	}
	if order.CustomerID == "" {
		order.CustomerID = middleware.UserIDFromContext(r.Context())
	}
	return order
}
