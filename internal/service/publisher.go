package service

import (
	"context"

	"github.com/utafrali/discount-engine/internal/domain"
)

// DiscountEventPublisher publishes discount authoring events.
type DiscountEventPublisher interface {
	PublishDiscountCreated(ctx context.Context, d *domain.Discount) error
	PublishDiscountUpdated(ctx context.Context, d *domain.Discount) error
}

// RedemptionEventPublisher publishes redemption lifecycle events.
type RedemptionEventPublisher interface {
	PublishRedeemed(ctx context.Context, c *domain.Confirmation) error
	PublishRedemptionReversed(ctx context.Context, orderID string, reversed []domain.DiscountRedemption) error
}

// CampaignEventPublisher publishes campaign attribution events.
type CampaignEventPublisher interface {
	PublishConversionRecorded(ctx context.Context, e *domain.CampaignEvent) error
}
