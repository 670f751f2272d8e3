package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/engine"
	"github.com/utafrali/discount-engine/internal/repository"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
	"github.com/utafrali/discount-engine/pkg/pagination"
)

// DiscountService implements discount authoring and candidate resolution.
type DiscountService struct {
	discounts   repository.DiscountRepository
	codes       repository.CodeRepository
	redemptions repository.RedemptionRepository
	cache       repository.CatalogCache
	producer    DiscountEventPublisher
	logger      *slog.Logger
	loc         *time.Location
	now         func() time.Time
}

// NewDiscountService creates a new discount service. cache may be nil, in
// which case every quote reads the catalog from the repository. loc is the
// store location used for weekday, time-of-day and per-day checks.
func NewDiscountService(
	discounts repository.DiscountRepository,
	codes repository.CodeRepository,
	redemptions repository.RedemptionRepository,
	cache repository.CatalogCache,
	producer DiscountEventPublisher,
	loc *time.Location,
	logger *slog.Logger,
) *DiscountService {
	if loc == nil {
		loc = time.UTC
	}
	return &DiscountService{
		discounts:   discounts,
		codes:       codes,
		redemptions: redemptions,
		cache:       cache,
		producer:    producer,
		logger:      logger,
		loc:         loc,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Location returns the store location used for calendar checks.
func (s *DiscountService) Location() *time.Location {
	return s.loc
}

// CreateDiscountInput holds the parameters for creating a discount.
type CreateDiscountInput struct {
	Name              string
	Description       string
	Type              domain.DiscountType
	Status            domain.DiscountStatus
	Value             int64
	MaxDiscountAmount int64
	Priority          int
	Exclusive         bool
	StackingPolicy    domain.StackingPolicy
	RequiresCode      bool
	StartsAt          *time.Time
	EndsAt            *time.Time
	Channels          []string
	Currencies        []string
	WeekdayMask       int
	TimeWindowStart   string
	TimeWindowEnd     string
	MaxUses           int64
	PerCustomerLimit  int64
	PerCodeLimit      int64
	PerDayLimit       int64
	Conditions        []domain.DiscountCondition
}

// UpdateDiscountInput holds the parameters for updating a discount. Nil
// fields are left unchanged.
type UpdateDiscountInput struct {
	Name              *string
	Description       *string
	Type              *domain.DiscountType
	Value             *int64
	MaxDiscountAmount *int64
	Priority          *int
	Exclusive         *bool
	StackingPolicy    *domain.StackingPolicy
	RequiresCode      *bool
	StartsAt          *time.Time
	EndsAt            *time.Time
	ClearSchedule     bool
	Channels          []string
	Currencies        []string
	WeekdayMask       *int
	TimeWindowStart   *string
	TimeWindowEnd     *string
	MaxUses           *int64
	PerCustomerLimit  *int64
	PerCodeLimit      *int64
	PerDayLimit       *int64
}

// CreateDiscount validates and stores a new discount. Conditions are compiled
// before anything is written so malformed rules never reach the catalog.
func (s *DiscountService) CreateDiscount(ctx context.Context, input *CreateDiscountInput) (*domain.Discount, error) {
	d := &domain.Discount{
		Name:              strings.TrimSpace(input.Name),
		Description:       input.Description,
		Type:              input.Type,
		Status:            input.Status,
		Value:             input.Value,
		MaxDiscountAmount: input.MaxDiscountAmount,
		Priority:          input.Priority,
		Exclusive:         input.Exclusive,
		StackingPolicy:    input.StackingPolicy,
		RequiresCode:      input.RequiresCode,
		StartsAt:          input.StartsAt,
		EndsAt:            input.EndsAt,
		Channels:          normalizeList(input.Channels, strings.ToLower),
		Currencies:        normalizeList(input.Currencies, strings.ToUpper),
		WeekdayMask:       input.WeekdayMask,
		TimeWindowStart:   input.TimeWindowStart,
		TimeWindowEnd:     input.TimeWindowEnd,
		MaxUses:           input.MaxUses,
		PerCustomerLimit:  input.PerCustomerLimit,
		PerCodeLimit:      input.PerCodeLimit,
		PerDayLimit:       input.PerDayLimit,
		Conditions:        input.Conditions,
	}
	if d.Status == "" {
		d.Status = domain.DiscountStatusDraft
	}
	if d.StackingPolicy == "" {
		d.StackingPolicy = domain.StackingStack
		if d.Exclusive {
			d.StackingPolicy = domain.StackingExclusive
		}
	}
	if d.Conditions == nil {
		d.Conditions = []domain.DiscountCondition{}
	}

	if err := validateDiscount(d); err != nil {
		return nil, err
	}

	if err := s.discounts.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create discount: %w", err)
	}

	if err := s.producer.PublishDiscountCreated(ctx, d); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.created event",
			slog.Int64("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
	s.invalidateCatalog(ctx)

	s.logger.InfoContext(ctx, "discount created",
		slog.Int64("discount_id", d.ID),
		slog.String("type", string(d.Type)),
		slog.String("status", string(d.Status)),
	)

	return d, nil
}

// GetDiscount retrieves a discount with its conditions.
func (s *DiscountService) GetDiscount(ctx context.Context, id int64) (*domain.Discount, error) {
	d, err := s.discounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount by id: %w", err)
	}
	return d, nil
}

// ListDiscounts returns a filtered, paginated list of discounts.
func (s *DiscountService) ListDiscounts(ctx context.Context, filter repository.DiscountFilter) ([]domain.Discount, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = pagination.DefaultPerPage
	}
	if filter.PerPage > pagination.MaxPerPage {
		filter.PerPage = pagination.MaxPerPage
	}
	if filter.Status != nil && !domain.IsValidStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid status %q", *filter.Status))
	}
	if filter.Type != nil && !domain.IsValidType(*filter.Type) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid discount type %q", *filter.Type))
	}

	ds, total, err := s.discounts.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list discounts: %w", err)
	}
	return ds, total, nil
}

// UpdateDiscount applies partial updates to a discount. Once a discount has
// been redeemed its type and value are frozen.
func (s *DiscountService) UpdateDiscount(ctx context.Context, id int64, input *UpdateDiscountInput) (*domain.Discount, error) {
	d, err := s.discounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount for update: %w", err)
	}

	if d.UsageCount > 0 {
		if (input.Type != nil && *input.Type != d.Type) || (input.Value != nil && *input.Value != d.Value) {
			return nil, apperrors.Conflict("discount has been redeemed; type and value can no longer change")
		}
	}

	if input.Name != nil {
		d.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		d.Description = *input.Description
	}
	if input.Type != nil {
		d.Type = *input.Type
	}
	if input.Value != nil {
		d.Value = *input.Value
	}
	if input.MaxDiscountAmount != nil {
		d.MaxDiscountAmount = *input.MaxDiscountAmount
	}
	if input.Priority != nil {
		d.Priority = *input.Priority
	}
	if input.Exclusive != nil {
		d.Exclusive = *input.Exclusive
	}
	if input.StackingPolicy != nil {
		d.StackingPolicy = *input.StackingPolicy
	}
	if input.RequiresCode != nil {
		d.RequiresCode = *input.RequiresCode
	}
	if input.ClearSchedule {
		d.StartsAt, d.EndsAt = nil, nil
	}
	if input.StartsAt != nil {
		d.StartsAt = input.StartsAt
	}
	if input.EndsAt != nil {
		d.EndsAt = input.EndsAt
	}
	if input.Channels != nil {
		d.Channels = normalizeList(input.Channels, strings.ToLower)
	}
	if input.Currencies != nil {
		d.Currencies = normalizeList(input.Currencies, strings.ToUpper)
	}
	if input.WeekdayMask != nil {
		d.WeekdayMask = *input.WeekdayMask
	}
	if input.TimeWindowStart != nil {
		d.TimeWindowStart = *input.TimeWindowStart
	}
	if input.TimeWindowEnd != nil {
		d.TimeWindowEnd = *input.TimeWindowEnd
	}
	if input.MaxUses != nil {
		d.MaxUses = *input.MaxUses
	}
	if input.PerCustomerLimit != nil {
		d.PerCustomerLimit = *input.PerCustomerLimit
	}
	if input.PerCodeLimit != nil {
		d.PerCodeLimit = *input.PerCodeLimit
	}
	if input.PerDayLimit != nil {
		d.PerDayLimit = *input.PerDayLimit
	}

	if err := validateDiscount(d); err != nil {
		return nil, err
	}

	if err := s.discounts.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update discount: %w", err)
	}

	s.afterUpdate(ctx, d, "discount updated")
	return d, nil
}

// ActivateDiscount makes a discount live. Its configuration, conditions
// included, must be valid.
func (s *DiscountService) ActivateDiscount(ctx context.Context, id int64) (*domain.Discount, error) {
	d, err := s.discounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount for activate: %w", err)
	}
	if d.Status == domain.DiscountStatusArchived {
		return nil, apperrors.Conflict("archived discounts cannot be activated")
	}
	if err := validateDiscount(d); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, d, domain.DiscountStatusActive)
}

// DeactivateDiscount pauses a discount.
func (s *DiscountService) DeactivateDiscount(ctx context.Context, id int64) (*domain.Discount, error) {
	d, err := s.discounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount for deactivate: %w", err)
	}
	return s.setStatus(ctx, d, domain.DiscountStatusPaused)
}

func (s *DiscountService) setStatus(ctx context.Context, d *domain.Discount, status domain.DiscountStatus) (*domain.Discount, error) {
	if d.Status == status {
		return d, nil
	}
	if err := s.discounts.UpdateStatus(ctx, d.ID, status); err != nil {
		return nil, fmt.Errorf("set discount status: %w", err)
	}
	d.Status = status

	s.afterUpdate(ctx, d, "discount status changed")
	return d, nil
}

// ReplaceConditions swaps every condition of a discount for conds.
func (s *DiscountService) ReplaceConditions(ctx context.Context, id int64, conds []domain.DiscountCondition) (*domain.Discount, error) {
	for i := range conds {
		conds[i].DiscountID = id
		if conds[i].Position == 0 {
			conds[i].Position = i
		}
		if _, err := engine.Compile(conds[i]); err != nil {
			return nil, toInvalidInput(err)
		}
	}

	if _, err := s.discounts.ReplaceConditions(ctx, id, conds); err != nil {
		return nil, fmt.Errorf("replace conditions: %w", err)
	}

	d, err := s.discounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload discount: %w", err)
	}

	s.afterUpdate(ctx, d, "discount conditions replaced")
	return d, nil
}

func (s *DiscountService) afterUpdate(ctx context.Context, d *domain.Discount, msg string) {
	if err := s.producer.PublishDiscountUpdated(ctx, d); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.updated event",
			slog.Int64("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
	s.invalidateCatalog(ctx)

	s.logger.InfoContext(ctx, msg,
		slog.Int64("discount_id", d.ID),
		slog.String("status", string(d.Status)),
	)
}

func (s *DiscountService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate discount catalog cache",
			slog.String("error", err.Error()),
		)
	}
}

// validateDiscount checks the discount fields and compiles its conditions.
func validateDiscount(d *domain.Discount) error {
	if err := d.Validate(); err != nil {
		return toInvalidInput(err)
	}
	if _, err := engine.CompileAll(d); err != nil {
		return toInvalidInput(err)
	}
	return nil
}

func toInvalidInput(err error) error {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return apperrors.InvalidInput(cfgErr.Field + " " + cfgErr.Reason)
	}
	return apperrors.InvalidInput(err.Error())
}

func normalizeList(in []string, fn func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, fn(v))
	}
	return out
}
