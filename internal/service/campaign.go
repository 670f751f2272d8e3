package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
	"github.com/utafrali/discount-engine/pkg/pagination"
)

// maxAnalyticsRange bounds GetAnalytics so one request cannot scan years of rollups.
const maxAnalyticsRange = 366 * 24 * time.Hour

// CampaignService records campaign attribution facts and serves the daily
// analytics rollup.
type CampaignService struct {
	repo     repository.CampaignRepository
	producer CampaignEventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewCampaignService creates a new campaign service.
func NewCampaignService(repo repository.CampaignRepository, producer CampaignEventPublisher, logger *slog.Logger) *CampaignService {
	return &CampaignService{
		repo:     repo,
		producer: producer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateCampaignInput holds the parameters for creating a campaign.
type CreateCampaignInput struct {
	Name        string
	Description string
	Status      string
	DiscountID  *int64
	StartsAt    *time.Time
	EndsAt      *time.Time
}

// CreateCampaign validates and stores a new campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, input *CreateCampaignInput) (*domain.Campaign, error) {
	c := &domain.Campaign{
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Status:      input.Status,
		DiscountID:  input.DiscountID,
		StartsAt:    input.StartsAt,
		EndsAt:      input.EndsAt,
	}
	if c.Status == "" {
		c.Status = domain.CampaignStatusDraft
	}

	if c.Name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	if !domain.IsValidCampaignStatus(c.Status) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid campaign status %q", c.Status))
	}
	if c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt) {
		return nil, apperrors.InvalidInput("ends_at must not be before starts_at")
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.logger.InfoContext(ctx, "campaign created",
		slog.Int64("campaign_id", c.ID),
		slog.String("status", c.Status),
	)
	return c, nil
}

// GetCampaign retrieves a campaign by id.
func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign by id: %w", err)
	}
	return c, nil
}

// ListCampaigns returns a filtered, paginated list of campaigns.
func (s *CampaignService) ListCampaigns(ctx context.Context, filter repository.CampaignFilter) ([]domain.Campaign, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 || filter.PerPage > pagination.MaxPerPage {
		filter.PerPage = pagination.DefaultPerPage
	}
	if filter.Status != nil && !domain.IsValidCampaignStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid campaign status %q", *filter.Status))
	}

	cs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return cs, total, nil
}

// RecordView appends a view fact.
func (s *CampaignService) RecordView(ctx context.Context, e *domain.CampaignEvent) error {
	e.Kind = domain.EventView
	_, err := s.record(ctx, e)
	return err
}

// RecordClick appends a click fact.
func (s *CampaignService) RecordClick(ctx context.Context, e *domain.CampaignEvent) error {
	e.Kind = domain.EventClick
	_, err := s.record(ctx, e)
	return err
}

// RecordConversion appends a conversion fact. A conversion is counted once
// per (campaign, order); a repeated one returns false.
func (s *CampaignService) RecordConversion(ctx context.Context, e *domain.CampaignEvent) (bool, error) {
	e.Kind = domain.EventConversion
	if e.OrderID == "" {
		return false, apperrors.InvalidInput("order_id is required for a conversion")
	}
	if e.Revenue < 0 {
		return false, apperrors.InvalidInput("revenue must not be negative")
	}
	e.Currency = strings.ToUpper(strings.TrimSpace(e.Currency))

	recorded, err := s.record(ctx, e)
	if err != nil || !recorded {
		return recorded, err
	}

	if err := s.producer.PublishConversionRecorded(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish campaign.conversion_recorded event",
			slog.Int64("campaign_id", e.CampaignID),
			slog.String("order_id", e.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return true, nil
}

// record appends one fact. Aggregates are only computed by RollupDaily.
func (s *CampaignService) record(ctx context.Context, e *domain.CampaignEvent) (bool, error) {
	if e.CampaignID <= 0 {
		return false, apperrors.InvalidInput("campaign_id is required")
	}
	e.ID = uuid.NewString()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	e.Device = strings.ToLower(strings.TrimSpace(e.Device))

	recorded, err := s.repo.RecordEvent(ctx, e)
	if err != nil {
		return false, fmt.Errorf("record campaign %s: %w", e.Kind, err)
	}
	if !recorded {
		s.logger.DebugContext(ctx, "duplicate campaign event ignored",
			slog.Int64("campaign_id", e.CampaignID),
			slog.String("kind", string(e.Kind)),
			slog.String("order_id", e.OrderID),
		)
		return false, nil
	}

	CampaignEvents.WithLabelValues(string(e.Kind)).Inc()
	return true, nil
}

// RollupDaily aggregates the facts of the UTC day containing day into
// campaign_analytics. Re-running a day overwrites its rows.
func (s *CampaignService) RollupDaily(ctx context.Context, day time.Time) (int64, error) {
	if day.IsZero() {
		return 0, apperrors.InvalidInput("day is required")
	}
	n, err := s.repo.RollupDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("rollup campaign analytics: %w", err)
	}

	s.logger.InfoContext(ctx, "campaign analytics rolled up",
		slog.String("day", day.UTC().Format(time.DateOnly)),
		slog.Int64("campaigns", n),
	)
	return n, nil
}

// GetAnalytics returns the daily rollup rows of a campaign between from and
// to inclusive.
func (s *CampaignService) GetAnalytics(ctx context.Context, campaignID int64, from, to time.Time) ([]domain.CampaignAnalytics, error) {
	if to.Before(from) {
		return nil, apperrors.InvalidInput("to must not be before from")
	}
	if to.Sub(from) > maxAnalyticsRange {
		return nil, apperrors.InvalidInput("analytics range must not exceed one year")
	}
	if _, err := s.repo.GetByID(ctx, campaignID); err != nil {
		return nil, fmt.Errorf("get campaign for analytics: %w", err)
	}

	rows, err := s.repo.GetAnalytics(ctx, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get campaign analytics: %w", err)
	}
	return rows, nil
}
