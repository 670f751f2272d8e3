package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
)

// ConversionRecorder appends a campaign conversion for a confirmed order.
type ConversionRecorder interface {
	RecordConversion(ctx context.Context, e *domain.CampaignEvent) (bool, error)
}

// RedemptionService records redemptions at order confirmation and reverses
// them when an order fails downstream.
type RedemptionService struct {
	discounts *DiscountService
	repo      repository.RedemptionRepository
	campaigns ConversionRecorder
	producer  RedemptionEventPublisher
	logger    *slog.Logger
}

// NewRedemptionService creates a new redemption service. campaigns may be nil
// to disable conversion attribution.
func NewRedemptionService(
	discounts *DiscountService,
	repo repository.RedemptionRepository,
	campaigns ConversionRecorder,
	producer RedemptionEventPublisher,
	logger *slog.Logger,
) *RedemptionService {
	return &RedemptionService{
		discounts: discounts,
		repo:      repo,
		campaigns: campaigns,
		producer:  producer,
		logger:    logger,
	}
}

// ConfirmInput holds the parameters of an order confirmation.
type ConfirmInput struct {
	Order domain.OrderContext
	Code  string
	// ExpectedDiscountIDs, when set, are the discounts the customer was shown.
	// Any of them missing from the recomputed quote is a conflict.
	ExpectedDiscountIDs []int64
}

// Confirm recomputes the quote for an order and records one redemption per
// applied discount in a single transaction. Confirming an order twice returns
// the first confirmation's redemptions.
func (s *RedemptionService) Confirm(ctx context.Context, input *ConfirmInput) (*domain.Confirmation, error) {
	order := input.Order
	if order.OrderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}

	existing, err := s.repo.ListByOrder(ctx, order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions for order: %w", err)
	}
	if len(existing) > 0 {
		s.logger.InfoContext(ctx, "order already confirmed",
			slog.String("order_id", order.OrderID),
			slog.Int("redemptions", len(existing)),
		)
		return &domain.Confirmation{OrderID: order.OrderID, Redemptions: existing, Replayed: true}, nil
	}

	now := s.discounts.now()
	order.At = now
	if err := prepareOrder(&order, now); err != nil {
		return nil, err
	}

	el, err := s.discounts.resolve(ctx, &order, input.Code)
	if err != nil {
		return nil, err
	}
	if el.CodeError != nil {
		var limitErr *domain.LimitExceededError
		if errors.As(el.CodeError, &limitErr) {
			RedemptionConflicts.Inc()
			return nil, &domain.ConcurrencyConflictError{DiscountIDs: []int64{limitErr.DiscountID}}
		}
		return nil, el.CodeError
	}

	q := s.discounts.price(el, &order)
	if dropped := missing(input.ExpectedDiscountIDs, q.AppliedIDs()); len(dropped) > 0 {
		RedemptionConflicts.Inc()
		s.logger.WarnContext(ctx, "confirmed quote no longer includes expected discounts",
			slog.String("order_id", order.OrderID),
			slog.Any("discount_ids", dropped),
		)
		return nil, &domain.ConcurrencyConflictError{DiscountIDs: dropped}
	}

	confirmation := &domain.Confirmation{
		OrderID:     order.OrderID,
		Quote:       q,
		Redemptions: []domain.DiscountRedemption{},
	}
	if len(q.Applied) == 0 {
		return confirmation, nil
	}

	redemptions, err := s.record(ctx, &order, q)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			RedemptionConflicts.Inc()
			s.logger.WarnContext(ctx, "redemption rolled back on usage limit conflict",
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		return nil, fmt.Errorf("record redemptions: %w", err)
	}

	if len(redemptions) == 0 {
		// A concurrent confirmation of the same order committed first.
		existing, err := s.repo.ListByOrder(ctx, order.OrderID)
		if err != nil {
			return nil, fmt.Errorf("list redemptions for order: %w", err)
		}
		return &domain.Confirmation{OrderID: order.OrderID, Redemptions: existing, Replayed: true}, nil
	}
	confirmation.Redemptions = redemptions

	RedemptionsTotal.Add(float64(len(redemptions)))
	s.discounts.invalidateCatalog(ctx)

	if err := s.producer.PublishRedeemed(ctx, confirmation); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.redeemed event",
			slog.String("order_id", order.OrderID),
			slog.String("error", err.Error()),
		)
	}
	s.attribute(ctx, &order, q)

	s.logger.InfoContext(ctx, "order discounts redeemed",
		slog.String("order_id", order.OrderID),
		slog.Int("redemptions", len(redemptions)),
		slog.Int64("total_saved", confirmation.TotalSaved()),
	)
	return confirmation, nil
}

// record runs the redemption transaction. Discounts are locked in id order so
// concurrent confirmations cannot deadlock on each other.
func (s *RedemptionService) record(ctx context.Context, order *domain.OrderContext, q *domain.Quote) ([]domain.DiscountRedemption, error) {
	applied := slices.Clone(q.Applied)
	slices.SortFunc(applied, func(a, b domain.AppliedDiscount) int { return cmp.Compare(a.DiscountID, b.DiscountID) })

	var redemptions []domain.DiscountRedemption
	err := s.repo.InTx(ctx, func(tx repository.RedemptionTx) error {
		redemptions = redemptions[:0]
		var conflicts []int64

		for _, a := range applied {
			d, err := tx.LockDiscount(ctx, a.DiscountID)
			if err != nil {
				return err
			}
			if d.Status != domain.DiscountStatusActive || !d.InWindow(order.At) {
				conflicts = append(conflicts, d.ID)
				continue
			}

			if needsUsageCounts(d, order.CustomerID, a.CodeID) {
				uq := usageQuery(d, order, a.CodeID, s.discounts.loc)
				counts, err := tx.UsageCounts(ctx, uq)
				if err != nil {
					return err
				}
				if checkUsageLimits(d, counts, uq) != nil {
					conflicts = append(conflicts, d.ID)
					continue
				}
			}

			r := domain.DiscountRedemption{
				ID:           uuid.NewString(),
				DiscountID:   d.ID,
				CodeID:       a.CodeID,
				OrderID:      order.OrderID,
				CustomerID:   order.CustomerID,
				AmountSaved:  a.AmountSaved,
				CurrencyCode: order.Currency,
				RedeemedAt:   order.At,
			}
			inserted, err := tx.Insert(ctx, &r)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}

			ok, err := tx.IncrementDiscountUsage(ctx, d.ID)
			if err != nil {
				return err
			}
			if !ok {
				conflicts = append(conflicts, d.ID)
				continue
			}
			if a.CodeID != nil {
				ok, err := tx.IncrementCodeUsage(ctx, *a.CodeID)
				if err != nil {
					return err
				}
				if !ok {
					conflicts = append(conflicts, d.ID)
					continue
				}
			}
			redemptions = append(redemptions, r)
		}

		if len(conflicts) > 0 {
			return &domain.ConcurrencyConflictError{DiscountIDs: conflicts}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redemptions, nil
}

// attribute records a campaign conversion for an attributed order. Failures
// are logged; they never undo the confirmation.
func (s *RedemptionService) attribute(ctx context.Context, order *domain.OrderContext, q *domain.Quote) {
	if order.CampaignID == nil || s.campaigns == nil {
		return
	}

	e := &domain.CampaignEvent{
		CampaignID: *order.CampaignID,
		CustomerID: order.CustomerID,
		OrderID:    order.OrderID,
		Revenue:    q.Total + q.ShippingTotal,
		Currency:   q.Currency,
		OccurredAt: order.At,
	}
	if len(q.Applied) > 0 {
		id := q.Applied[0].DiscountID
		e.DiscountID = &id
	}

	if _, err := s.campaigns.RecordConversion(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to record campaign conversion",
			slog.String("order_id", order.OrderID),
			slog.Int64("campaign_id", *order.CampaignID),
			slog.String("error", err.Error()),
		)
	}
}

// Reverse deletes the redemptions of an order and gives their usage back.
// Reversing an order without redemptions is a no-op.
func (s *RedemptionService) Reverse(ctx context.Context, orderID string) ([]domain.DiscountRedemption, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}

	var removed []domain.DiscountRedemption
	err := s.repo.InTx(ctx, func(tx repository.RedemptionTx) error {
		var err error
		removed, err = tx.DeleteByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, r := range removed {
			if err := tx.DecrementDiscountUsage(ctx, r.DiscountID); err != nil {
				return err
			}
			if r.CodeID != nil {
				if err := tx.DecrementCodeUsage(ctx, *r.CodeID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reverse redemptions: %w", err)
	}
	if removed == nil {
		removed = []domain.DiscountRedemption{}
	}
	if len(removed) == 0 {
		s.logger.DebugContext(ctx, "no redemptions to reverse", slog.String("order_id", orderID))
		return removed, nil
	}

	RedemptionsReversed.Add(float64(len(removed)))
	s.discounts.invalidateCatalog(ctx)

	if err := s.producer.PublishRedemptionReversed(ctx, orderID, removed); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.redemption_reversed event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order redemptions reversed",
		slog.String("order_id", orderID),
		slog.Int("reversed", len(removed)),
	)
	return removed, nil
}

// ListByOrder returns the redemptions recorded for an order.
func (s *RedemptionService) ListByOrder(ctx context.Context, orderID string) ([]domain.DiscountRedemption, error) {
	rs, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return rs, nil
}

// missing returns the ids in expected that are absent from actual.
func missing(expected, actual []int64) []int64 {
	var out []int64
	for _, id := range expected {
		if !slices.Contains(actual, id) {
			out = append(out, id)
		}
	}
	return out
}
