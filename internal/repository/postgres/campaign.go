package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	"github.com/utafrali/discount-engine/pkg/database"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
)

const campaignColumns = `id, name, description, status, discount_id, starts_at, ends_at, created_at, updated_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db database.DBTX
}

// NewCampaignRepository creates a new PostgreSQL-backed campaign repository.
func NewCampaignRepository(db database.DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

var _ repository.CampaignRepository = (*CampaignRepository)(nil)

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) (err error) {
	query := `
		INSERT INTO discount_campaigns (name, description, status, discount_id, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	ctx, end := database.TraceQuery(ctx, "CreateCampaign", query)
	defer func() { end(err) }()

	if err := r.db.QueryRow(ctx, query, c.Name, c.Description, c.Status, c.DiscountID, c.StartsAt, c.EndsAt).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by its ID.
func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (c *domain.Campaign, err error) {
	query := `SELECT ` + campaignColumns + ` FROM discount_campaigns WHERE id = $1`
	ctx, end := database.TraceQuery(ctx, "GetCampaign", query)
	defer func() { end(err) }()

	c, err = scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("campaign", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// List returns campaigns, newest first, with the total count.
func (r *CampaignRepository) List(ctx context.Context, filter repository.CampaignFilter) (cs []domain.Campaign, total int, err error) {
	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	query := `SELECT ` + campaignColumns + `, count(*) OVER() AS total_count
		FROM discount_campaigns
		WHERE ($1::TEXT IS NULL OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ListCampaigns", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, filter.Status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	cs = []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign row: %w", err)
		}
		cs = append(cs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate campaign rows: %w", err)
	}
	return cs, total, nil
}

var eventTables = map[domain.CampaignEventKind]string{
	domain.EventView:  "campaign_views",
	domain.EventClick: "campaign_clicks",
}

// RecordEvent appends e to campaign_views, campaign_clicks or
// campaign_conversions. Nothing is updated in place.
func (r *CampaignRepository) RecordEvent(ctx context.Context, e *domain.CampaignEvent) (inserted bool, err error) {
	var (
		query string
		args  = []any{
			e.ID, e.CampaignID, e.DiscountID, e.CustomerID, e.SessionID, e.Device,
			e.UTMSource, e.UTMMedium, e.UTMCampaign, e.Referrer, e.OccurredAt,
		}
	)

	if e.Kind == domain.EventConversion {
		query = `
			INSERT INTO campaign_conversions (
				id, campaign_id, discount_id, customer_id, session_id, device,
				utm_source, utm_medium, utm_campaign, referrer, occurred_at,
				order_id, revenue, currency
			) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
				NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11,
				NULLIF($12, ''), $13, NULLIF($14, ''))
			ON CONFLICT (campaign_id, order_id) WHERE order_id IS NOT NULL DO NOTHING`
		args = append(args, e.OrderID, e.Revenue, e.Currency)
	} else {
		table, ok := eventTables[e.Kind]
		if !ok {
			return false, apperrors.InvalidInput(fmt.Sprintf("unknown campaign event kind %q", e.Kind))
		}
		query = `
			INSERT INTO ` + table + ` (
				id, campaign_id, discount_id, customer_id, session_id, device,
				utm_source, utm_medium, utm_campaign, referrer, occurred_at
			) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
				NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)`
	}

	ctx, end := database.TraceQuery(ctx, "RecordCampaignEvent", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return false, apperrors.NotFound("campaign", fmt.Sprint(e.CampaignID))
		}
		return false, fmt.Errorf("record campaign %s: %w", e.Kind, err)
	}
	return ct.RowsAffected() == 1, nil
}

// RollupDay recomputes the campaign_analytics rows of one UTC day from the
// event tables. Re-running it for the same day is idempotent.
func (r *CampaignRepository) RollupDay(ctx context.Context, day time.Time) (n int64, err error) {
	query := `
		INSERT INTO campaign_analytics (campaign_id, day, views, clicks, conversions, revenue, updated_at)
		SELECT campaign_id, $1::DATE,
			SUM(views), SUM(clicks), SUM(conversions), SUM(revenue), NOW()
		FROM (
			SELECT campaign_id, 1 AS views, 0 AS clicks, 0 AS conversions, 0 AS revenue
			FROM campaign_views WHERE occurred_at >= $2 AND occurred_at < $3
			UNION ALL
			SELECT campaign_id, 0, 1, 0, 0
			FROM campaign_clicks WHERE occurred_at >= $2 AND occurred_at < $3
			UNION ALL
			SELECT campaign_id, 0, 0, 1, revenue
			FROM campaign_conversions WHERE occurred_at >= $2 AND occurred_at < $3
		) events
		GROUP BY campaign_id
		ON CONFLICT (campaign_id, day) DO UPDATE
		SET views = EXCLUDED.views,
		    clicks = EXCLUDED.clicks,
		    conversions = EXCLUDED.conversions,
		    revenue = EXCLUDED.revenue,
		    updated_at = EXCLUDED.updated_at`

	ctx, end := database.TraceQuery(ctx, "RollupCampaignDay", query)
	defer func() { end(err) }()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	ct, err := r.db.Exec(ctx, query, start, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("rollup campaign analytics for %s: %w", start.Format(time.DateOnly), err)
	}
	return ct.RowsAffected(), nil
}

// GetAnalytics returns the daily rollup rows of a campaign between from and
// to inclusive, oldest first.
func (r *CampaignRepository) GetAnalytics(ctx context.Context, campaignID int64, from, to time.Time) (out []domain.CampaignAnalytics, err error) {
	query := `
		SELECT campaign_id, day, views, clicks, conversions, revenue, updated_at
		FROM campaign_analytics
		WHERE campaign_id = $1 AND day BETWEEN $2::DATE AND $3::DATE
		ORDER BY day`

	ctx, end := database.TraceQuery(ctx, "GetCampaignAnalytics", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get campaign analytics: %w", err)
	}
	defer rows.Close()

	out = []domain.CampaignAnalytics{}
	for rows.Next() {
		var a domain.CampaignAnalytics
		if err := rows.Scan(&a.CampaignID, &a.Day, &a.Views, &a.Clicks, &a.Conversions, &a.Revenue, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign analytics: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign analytics: %w", err)
	}
	return out, nil
}

func scanCampaign(row pgx.Row, extra ...any) (*domain.Campaign, error) {
	var c domain.Campaign
	dest := []any{
		&c.ID,
		&c.Name,
		&c.Description,
		&c.Status,
		&c.DiscountID,
		&c.StartsAt,
		&c.EndsAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &c, nil
}
