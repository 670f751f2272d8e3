package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/utafrali/discount-engine/internal/domain"
	pkgkafka "github.com/utafrali/discount-engine/pkg/kafka"
	"github.com/utafrali/discount-engine/pkg/logger"
)

// Kafka topic constants for discount domain events.
const (
	TopicDiscountCreated            = "ecommerce.discount.created"
	TopicDiscountUpdated            = "ecommerce.discount.updated"
	TopicDiscountRedeemed           = "ecommerce.discount.redeemed"
	TopicDiscountRedemptionReversed = "ecommerce.discount.redemption_reversed"
	TopicCampaignConversionRecorded = "ecommerce.campaign.conversion_recorded"
)

// Aggregate type constants.
const (
	AggregateTypeDiscount = "discount"
	AggregateTypeOrder    = "order"
	AggregateTypeCampaign = "campaign"
)

// SourceDiscountService identifies events originating from this service.
const SourceDiscountService = "discount-service"

// DiscountData is the payload of discount.created and discount.updated.
type DiscountData struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	Value          int64  `json:"value"`
	Priority       int    `json:"priority"`
	StackingPolicy string `json:"stacking_policy"`
	RequiresCode   bool   `json:"requires_code"`
}

// RedemptionData describes one persisted redemption inside an order event.
type RedemptionData struct {
	RedemptionID string `json:"redemption_id"`
	DiscountID   int64  `json:"discount_id"`
	CodeID       *int64 `json:"code_id,omitempty"`
	AmountSaved  int64  `json:"amount_saved"`
}

// RedeemedData is the payload of discount.redeemed.
type RedeemedData struct {
	OrderID       string           `json:"order_id"`
	CustomerID    string           `json:"customer_id,omitempty"`
	Currency      string           `json:"currency"`
	DiscountTotal int64            `json:"discount_total"`
	FreeShipping  bool             `json:"free_shipping"`
	Redemptions   []RedemptionData `json:"redemptions"`
}

// RedemptionReversedData is the payload of discount.redemption_reversed.
type RedemptionReversedData struct {
	OrderID     string           `json:"order_id"`
	Redemptions []RedemptionData `json:"redemptions"`
}

// ConversionRecordedData is the payload of campaign.conversion_recorded.
type ConversionRecordedData struct {
	EventID    string `json:"event_id"`
	CampaignID int64  `json:"campaign_id"`
	DiscountID *int64 `json:"discount_id,omitempty"`
	OrderID    string `json:"order_id"`
	Revenue    int64  `json:"revenue"`
	Currency   string `json:"currency,omitempty"`
}

// Publisher is the subset of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes discount domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the discount service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishDiscountCreated publishes a discount.created event.
func (p *Producer) PublishDiscountCreated(ctx context.Context, d *domain.Discount) error {
	return p.publishDiscount(ctx, TopicDiscountCreated, d)
}

// PublishDiscountUpdated publishes a discount.updated event.
func (p *Producer) PublishDiscountUpdated(ctx context.Context, d *domain.Discount) error {
	return p.publishDiscount(ctx, TopicDiscountUpdated, d)
}

func (p *Producer) publishDiscount(ctx context.Context, topic string, d *domain.Discount) error {
	data := DiscountData{
		ID:             d.ID,
		Name:           d.Name,
		Type:           string(d.Type),
		Status:         string(d.Status),
		Value:          d.Value,
		Priority:       d.Priority,
		StackingPolicy: string(d.StackingPolicy),
		RequiresCode:   d.RequiresCode,
	}

	id := strconv.FormatInt(d.ID, 10)
	if err := p.publish(ctx, topic, id, AggregateTypeDiscount, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published discount event",
		slog.String("topic", topic),
		slog.Int64("discount_id", d.ID),
	)
	return nil
}

// PublishRedeemed publishes a discount.redeemed event for a confirmed order.
func (p *Producer) PublishRedeemed(ctx context.Context, c *domain.Confirmation) error {
	data := RedeemedData{
		OrderID:     c.OrderID,
		Redemptions: redemptionData(c.Redemptions),
	}
	if c.Quote != nil {
		data.Currency = c.Quote.Currency
		data.DiscountTotal = c.Quote.DiscountTotal
		data.FreeShipping = c.Quote.FreeShipping
	}
	if len(c.Redemptions) > 0 {
		data.CustomerID = c.Redemptions[0].CustomerID
	}

	if err := p.publish(ctx, TopicDiscountRedeemed, c.OrderID, AggregateTypeOrder, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published discount.redeemed event",
		slog.String("order_id", c.OrderID),
		slog.Int("redemptions", len(c.Redemptions)),
	)
	return nil
}

// PublishRedemptionReversed publishes a discount.redemption_reversed event.
func (p *Producer) PublishRedemptionReversed(ctx context.Context, orderID string, reversed []domain.DiscountRedemption) error {
	data := RedemptionReversedData{
		OrderID:     orderID,
		Redemptions: redemptionData(reversed),
	}

	if err := p.publish(ctx, TopicDiscountRedemptionReversed, orderID, AggregateTypeOrder, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published discount.redemption_reversed event",
		slog.String("order_id", orderID),
		slog.Int("redemptions", len(reversed)),
	)
	return nil
}

// PublishConversionRecorded publishes a campaign.conversion_recorded event.
func (p *Producer) PublishConversionRecorded(ctx context.Context, e *domain.CampaignEvent) error {
	data := ConversionRecordedData{
		EventID:    e.ID,
		CampaignID: e.CampaignID,
		DiscountID: e.DiscountID,
		OrderID:    e.OrderID,
		Revenue:    e.Revenue,
		Currency:   e.Currency,
	}

	id := strconv.FormatInt(e.CampaignID, 10)
	if err := p.publish(ctx, TopicCampaignConversionRecorded, id, AggregateTypeCampaign, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published campaign.conversion_recorded event",
		slog.Int64("campaign_id", e.CampaignID),
		slog.String("order_id", e.OrderID),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceDiscountService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	if uid := logger.UserIDFromContext(ctx); uid != "" {
		evt.WithMetadata("user_id", uid)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

func redemptionData(rs []domain.DiscountRedemption) []RedemptionData {
	out := make([]RedemptionData, 0, len(rs))
	for _, r := range rs {
		out = append(out, RedemptionData{
			RedemptionID: r.ID,
			DiscountID:   r.DiscountID,
			CodeID:       r.CodeID,
			AmountSaved:  r.AmountSaved,
		})
	}
	return out
}
