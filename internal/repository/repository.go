package repository

import (
	"context"
	"time"

	"github.com/utafrali/discount-engine/internal/domain"
)

// DiscountFilter defines filter criteria for listing discounts.
type DiscountFilter struct {
	Status  *domain.DiscountStatus
	Type    *domain.DiscountType
	Page    int
	PerPage int
}

// DiscountRepository persists discounts and their conditions.
type DiscountRepository interface {
	// Create inserts d and its conditions, assigning ids.
	Create(ctx context.Context, d *domain.Discount) error

	// GetByID returns a discount with its conditions.
	GetByID(ctx context.Context, id int64) (*domain.Discount, error)

	// List returns discounts matching filter and the total count.
	List(ctx context.Context, filter DiscountFilter) ([]domain.Discount, int, error)

	// ListActive returns every active discount that has not ended at now,
	// with conditions, ordered by (priority, id). Discounts that start later
	// are included so a cached catalog stays valid until its TTL.
	ListActive(ctx context.Context, now time.Time) ([]domain.Discount, error)

	// Update overwrites the mutable fields of d.
	Update(ctx context.Context, d *domain.Discount) error

	// UpdateStatus changes the lifecycle status of a discount.
	UpdateStatus(ctx context.Context, id int64, status domain.DiscountStatus) error

	// ReplaceConditions atomically swaps the conditions of a discount.
	ReplaceConditions(ctx context.Context, discountID int64, conds []domain.DiscountCondition) ([]domain.DiscountCondition, error)
}

// CodeRepository persists discount codes.
type CodeRepository interface {
	// CreateCodes inserts codes in one transaction, assigning ids.
	CreateCodes(ctx context.Context, codes []domain.DiscountCode) error

	// GetByCode looks a code up by its normalized value.
	GetByCode(ctx context.Context, code string) (*domain.DiscountCode, error)

	// ListByDiscount returns the codes of a discount.
	ListByDiscount(ctx context.Context, discountID int64) ([]domain.DiscountCode, error)
}

// UsageQuery identifies which redemption counts to compute for a discount.
type UsageQuery struct {
	DiscountID int64
	CustomerID string
	CodeID     *int64
	DayStart   time.Time
}

// RedemptionRepository reads redemption history and opens redemption
// transactions.
type RedemptionRepository interface {
	// UsageCounts counts existing redemptions by customer, code and day.
	UsageCounts(ctx context.Context, q UsageQuery) (domain.UsageCounts, error)

	// ListByOrder returns the redemptions recorded for an order.
	ListByOrder(ctx context.Context, orderID string) ([]domain.DiscountRedemption, error)

	// InTx runs fn in a READ COMMITTED transaction. fn's error rolls it back.
	InTx(ctx context.Context, fn func(tx RedemptionTx) error) error
}

// RedemptionTx is the set of operations that must run inside one
// redemption transaction.
type RedemptionTx interface {
	// LockDiscount reads a discount with SELECT ... FOR UPDATE.
	LockDiscount(ctx context.Context, id int64) (*domain.Discount, error)

	// UsageCounts is RedemptionRepository.UsageCounts within the transaction.
	UsageCounts(ctx context.Context, q UsageQuery) (domain.UsageCounts, error)

	// Insert records r. It returns false when (order_id, discount_id)
	// already exists.
	Insert(ctx context.Context, r *domain.DiscountRedemption) (bool, error)

	// IncrementDiscountUsage bumps usage_count unless max_uses is reached.
	// It returns false when the guard rejected the increment.
	IncrementDiscountUsage(ctx context.Context, id int64) (bool, error)

	// IncrementCodeUsage is the guarded increment on discount_codes.
	IncrementCodeUsage(ctx context.Context, codeID int64) (bool, error)

	// DeleteByOrder removes and returns the redemptions of an order.
	DeleteByOrder(ctx context.Context, orderID string) ([]domain.DiscountRedemption, error)

	// DecrementDiscountUsage lowers usage_count, never below zero.
	DecrementDiscountUsage(ctx context.Context, id int64) error

	// DecrementCodeUsage lowers a code's usage_count, never below zero.
	DecrementCodeUsage(ctx context.Context, codeID int64) error
}

// CampaignFilter defines filter criteria for listing campaigns.
type CampaignFilter struct {
	Status  *string
	Page    int
	PerPage int
}

// CampaignRepository persists campaigns, their append-only event facts and
// the daily analytics rollup.
type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
	List(ctx context.Context, filter CampaignFilter) ([]domain.Campaign, int, error)

	// RecordEvent appends e to the table for its kind. Conversions are
	// deduplicated per (campaign, order); a duplicate returns false.
	RecordEvent(ctx context.Context, e *domain.CampaignEvent) (bool, error)

	// RollupDay aggregates the events of day into campaign_analytics and
	// returns the number of campaigns updated.
	RollupDay(ctx context.Context, day time.Time) (int64, error)

	// GetAnalytics returns rollup rows for a campaign with from <= day <= to.
	GetAnalytics(ctx context.Context, campaignID int64, from, to time.Time) ([]domain.CampaignAnalytics, error)
}

// CatalogCache caches the active discount catalog between quote requests.
type CatalogCache interface {
	// Get returns the cached catalog, or ok=false on a miss.
	Get(ctx context.Context) (discounts []domain.Discount, ok bool, err error)
	Set(ctx context.Context, discounts []domain.Discount) error
	Invalidate(ctx context.Context) error
}
