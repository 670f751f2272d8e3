package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/discount-engine/internal/domain"
)

// Quote outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeNone    = "none"
	OutcomeError   = "error"
)

var (
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discount_quotes_total",
		Help: "Quotes computed, by whether any discount applied",
	}, []string{"outcome"})

	CandidatesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discount_candidates_rejected_total",
		Help: "Discount candidates rejected or skipped, by reason",
	}, []string{"reason"})

	DiscountsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discount_applied_total",
		Help: "Discounts applied to quotes, by discount type",
	}, []string{"type"})

	SavingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discount_savings_minor_units_total",
		Help: "Monetary savings quoted, in minor units of the currency",
	}, []string{"currency"})

	RedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discount_redemptions_total",
		Help: "Redemption rows recorded at order confirmation",
	})

	RedemptionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discount_redemption_conflicts_total",
		Help: "Confirmations rolled back because a usage limit was exhausted concurrently",
	})

	RedemptionsReversed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discount_redemptions_reversed_total",
		Help: "Redemption rows removed by compensating reversal",
	})

	CampaignEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_events_total",
		Help: "Campaign attribution events recorded, by kind",
	}, []string{"kind"})
)

func observeQuote(q *domain.Quote) {
	if len(q.Applied) == 0 {
		QuotesTotal.WithLabelValues(OutcomeNone).Inc()
	} else {
		QuotesTotal.WithLabelValues(OutcomeApplied).Inc()
	}
	for _, a := range q.Applied {
		DiscountsApplied.WithLabelValues(string(a.Type)).Inc()
	}
	for _, r := range q.Rejected {
		CandidatesRejected.WithLabelValues(r.Reason).Inc()
	}
	for _, r := range q.Skipped {
		CandidatesRejected.WithLabelValues(r.Reason).Inc()
	}
	if q.DiscountTotal > 0 {
		SavingsTotal.WithLabelValues(q.Currency).Add(float64(q.DiscountTotal))
	}
}
