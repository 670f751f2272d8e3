package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/discount-engine/internal/domain"
	pkgkafka "github.com/utafrali/discount-engine/pkg/kafka"
)

// Kafka topics consumed by the discount service.
const (
	TopicOrderConfirmed = "ecommerce.order.confirmed"
	TopicOrderCancelled = "ecommerce.order.cancelled"
	TopicOrderFailed    = "ecommerce.order.failed"
)

// ConsumerGroup is the consumer group of every subscription.
const ConsumerGroup = "discount-service"

// RedemptionReverser undoes the redemptions of an order.
type RedemptionReverser interface {
	Reverse(ctx context.Context, orderID string) ([]domain.DiscountRedemption, error)
}

// ConversionRecorder appends campaign conversion facts.
type ConversionRecorder interface {
	RecordConversion(ctx context.Context, e *domain.CampaignEvent) (bool, error)
}

// OrderConfirmedData is the expected payload of an order.confirmed event.
type OrderConfirmedData struct {
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	CampaignID  *int64 `json:"campaign_id,omitempty"`
	DiscountID  *int64 `json:"discount_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

// OrderTerminatedData is the expected payload of order.cancelled and
// order.failed events.
type OrderTerminatedData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// Consumer processes incoming Kafka events for the discount service.
type Consumer struct {
	logger      *slog.Logger
	redemptions RedemptionReverser
	campaigns   ConversionRecorder
}

// NewConsumer creates a new event consumer for the discount service.
func NewConsumer(redemptions RedemptionReverser, campaigns ConversionRecorder, logger *slog.Logger) *Consumer {
	return &Consumer{
		redemptions: redemptions,
		campaigns:   campaigns,
		logger:      logger,
	}
}

// Handlers maps each consumed topic to its handler.
func (c *Consumer) Handlers() map[string]pkgkafka.Handler {
	return map[string]pkgkafka.Handler{
		TopicOrderConfirmed: c.HandleOrderConfirmed,
		TopicOrderCancelled: c.HandleOrderTerminated,
		TopicOrderFailed:    c.HandleOrderTerminated,
	}
}

// HandleOrderConfirmed records a campaign conversion when the order carries
// a campaign id. Orders without attribution are ignored.
func (c *Consumer) HandleOrderConfirmed(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderConfirmedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal order.confirmed data: %w", err)
	}
	if data.CampaignID == nil {
		return nil
	}

	c.logger.InfoContext(ctx, "processing order.confirmed event",
		slog.String("order_id", data.OrderID),
		slog.Int64("campaign_id", *data.CampaignID),
	)

	recorded, err := c.campaigns.RecordConversion(ctx, &domain.CampaignEvent{
		CampaignID: *data.CampaignID,
		DiscountID: data.DiscountID,
		CustomerID: data.CustomerID,
		SessionID:  data.SessionID,
		OrderID:    data.OrderID,
		Revenue:    data.TotalAmount,
		Currency:   data.Currency,
		OccurredAt: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("record conversion for order %s: %w", data.OrderID, err)
	}
	if !recorded {
		c.logger.DebugContext(ctx, "conversion already recorded",
			slog.String("order_id", data.OrderID),
		)
	}
	return nil
}

// HandleOrderTerminated reverses the redemptions of a cancelled or failed order.
func (c *Consumer) HandleOrderTerminated(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderTerminatedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", event.EventType, err)
	}
	if data.OrderID == "" {
		c.logger.WarnContext(ctx, "order event without order id",
			slog.String("event_id", event.EventID),
			slog.String("event_type", event.EventType),
		)
		return nil
	}

	c.logger.InfoContext(ctx, "processing order termination",
		slog.String("event_type", event.EventType),
		slog.String("order_id", data.OrderID),
		slog.String("reason", data.Reason),
	)

	reversed, err := c.redemptions.Reverse(ctx, data.OrderID)
	if err != nil {
		return fmt.Errorf("reverse redemptions for order %s: %w", data.OrderID, err)
	}

	c.logger.InfoContext(ctx, "redemptions reversed for order",
		slog.String("order_id", data.OrderID),
		slog.Int("reversed", len(reversed)),
	)
	return nil
}
