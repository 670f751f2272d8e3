package domain

import (
	"slices"
	"time"
)

// Campaign status constants.
const (
	CampaignStatusDraft    = "draft"
	CampaignStatusActive   = "active"
	CampaignStatusPaused   = "paused"
	CampaignStatusEnded    = "ended"
	CampaignStatusArchived = "archived"
)

// Campaign groups marketing traffic for attribution.
type Campaign struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	DiscountID  *int64     `json:"discount_id,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsValidCampaignStatus reports whether s is a known campaign status.
func IsValidCampaignStatus(s string) bool {
	return slices.Contains([]string{
		CampaignStatusDraft,
		CampaignStatusActive,
		CampaignStatusPaused,
		CampaignStatusEnded,
		CampaignStatusArchived,
	}, s)
}

// CampaignEventKind distinguishes the append-only event tables.
type CampaignEventKind string

const (
	EventView       CampaignEventKind = "view"
	EventClick      CampaignEventKind = "click"
	EventConversion CampaignEventKind = "conversion"
)

// CampaignEvent is one view, click or conversion fact. OrderID and Revenue
// are only set on conversions.
type CampaignEvent struct {
	ID          string            `json:"id"`
	CampaignID  int64             `json:"campaign_id"`
	Kind        CampaignEventKind `json:"kind"`
	DiscountID  *int64            `json:"discount_id,omitempty"`
	CustomerID  string            `json:"customer_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Device      string            `json:"device,omitempty"`
	UTMSource   string            `json:"utm_source,omitempty"`
	UTMMedium   string            `json:"utm_medium,omitempty"`
	UTMCampaign string            `json:"utm_campaign,omitempty"`
	Referrer    string            `json:"referrer,omitempty"`
	OrderID     string            `json:"order_id,omitempty"`
	Revenue     int64             `json:"revenue,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// CampaignAnalytics is one daily rollup row.
type CampaignAnalytics struct {
	CampaignID  int64     `json:"campaign_id"`
	Day         time.Time `json:"day"`
	Views       int64     `json:"views"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	Revenue     int64     `json:"revenue"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConversionRate returns conversions per click, or 0 without clicks.
func (a CampaignAnalytics) ConversionRate() float64 {
	if a.Clicks == 0 {
		return 0
	}
	return float64(a.Conversions) / float64(a.Clicks)
}
