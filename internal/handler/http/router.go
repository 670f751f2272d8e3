package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/discount-engine/internal/service"
	"github.com/utafrali/discount-engine/pkg/health"
	"github.com/utafrali/discount-engine/pkg/middleware"
)

const serviceName = "discount"

// RouterConfig holds the router settings that come from configuration.
type RouterConfig struct {
	PprofCIDRs  []string
	CORSOrigins []string
}

// NewRouter creates a chi router with all discount service routes registered.
func NewRouter(
	discountService *service.DiscountService,
	redemptionService *service.RedemptionService,
	campaignService *service.CampaignService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.CORSOrigins
	}

	// Global middleware
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.GatewayIdentity)

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	discountHandler := NewDiscountHandler(discountService, logger)
	checkoutHandler := NewCheckoutHandler(discountService, redemptionService, logger)
	campaignHandler := NewCampaignHandler(campaignService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireJSON)

		r.Route("/discounts", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))

			r.Post("/", discountHandler.CreateDiscount)
			r.Get("/", discountHandler.ListDiscounts)
			r.Get("/{id}", discountHandler.GetDiscount)
			r.Put("/{id}", discountHandler.UpdateDiscount)
			r.Post("/{id}/activate", discountHandler.ActivateDiscount)
			r.Post("/{id}/deactivate", discountHandler.DeactivateDiscount)
			r.Put("/{id}/conditions", discountHandler.ReplaceConditions)
			r.Post("/{id}/codes", discountHandler.CreateCodes)
			r.Get("/{id}/codes", discountHandler.ListCodes)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)

			r.Post("/checkout/quote", checkoutHandler.Quote)
			r.Post("/checkout/confirm", checkoutHandler.Confirm)
			r.Get("/orders/{orderId}/redemptions", checkoutHandler.ListRedemptions)
			r.Delete("/orders/{orderId}/redemptions", checkoutHandler.ReverseRedemptions)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleAdmin))

				r.Post("/", campaignHandler.CreateCampaign)
				r.Get("/", campaignHandler.ListCampaigns)
				r.Post("/analytics/rollup", campaignHandler.RollupAnalytics)
			})

			r.Get("/{id}", campaignHandler.GetCampaign)
			r.Post("/{id}/views", campaignHandler.RecordView)
			r.Post("/{id}/clicks", campaignHandler.RecordClick)
			r.Post("/{id}/conversions", campaignHandler.RecordConversion)
			r.Get("/{id}/analytics", campaignHandler.GetAnalytics)
		})
	})

	return r
}
