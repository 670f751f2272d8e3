package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	"github.com/utafrali/discount-engine/pkg/database"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
)

const discountColumns = `id, name, description, type, status, value, max_discount_amount,
		priority, exclusive, stacking_policy, requires_code, starts_at, ends_at,
		channels, currencies, weekday_mask, time_window_start, time_window_end,
		max_uses, usage_count, per_customer_limit, per_code_limit, per_day_limit,
		created_at, updated_at`

const conditionColumns = `id, discount_id, type, operator, value, position, created_at`

// DiscountRepository implements repository.DiscountRepository using PostgreSQL.
type DiscountRepository struct {
	db database.TxBeginner
}

// NewDiscountRepository creates a new PostgreSQL-backed discount repository.
func NewDiscountRepository(db database.TxBeginner) *DiscountRepository {
	return &DiscountRepository{db: db}
}

var _ repository.DiscountRepository = (*DiscountRepository)(nil)

// Create inserts a discount and its conditions in one transaction.
func (r *DiscountRepository) Create(ctx context.Context, d *domain.Discount) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateDiscount", "INSERT INTO discounts")
	defer func() { end(err) }()

	return database.WithTx(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		query := `
			INSERT INTO discounts (
				name, description, type, status, value, max_discount_amount,
				priority, exclusive, stacking_policy, requires_code, starts_at, ends_at,
				channels, currencies, weekday_mask, time_window_start, time_window_end,
				max_uses, per_customer_limit, per_code_limit, per_day_limit
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			RETURNING id, usage_count, created_at, updated_at`

		err := tx.QueryRow(ctx, query,
			d.Name,
			d.Description,
			d.Type,
			d.Status,
			d.Value,
			d.MaxDiscountAmount,
			d.Priority,
			d.Exclusive,
			d.StackingPolicy,
			d.RequiresCode,
			d.StartsAt,
			d.EndsAt,
			nonNil(d.Channels),
			nonNil(d.Currencies),
			d.WeekdayMask,
			d.TimeWindowStart,
			d.TimeWindowEnd,
			d.MaxUses,
			d.PerCustomerLimit,
			d.PerCodeLimit,
			d.PerDayLimit,
		).Scan(&d.ID, &d.UsageCount, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert discount: %w", err)
		}

		conds, err := insertConditions(ctx, tx, d.ID, d.Conditions)
		if err != nil {
			return err
		}
		d.Conditions = conds
		return nil
	})
}

// GetByID retrieves a discount and its conditions.
func (r *DiscountRepository) GetByID(ctx context.Context, id int64) (d *domain.Discount, err error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`
	ctx, end := database.TraceQuery(ctx, "GetDiscount", query)
	defer func() { end(err) }()

	d, err = scanDiscount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("discount", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("get discount %d: %w", id, err)
	}

	byDiscount, err := loadConditions(ctx, r.db, []int64{id})
	if err != nil {
		return nil, err
	}
	d.Conditions = byDiscount[id]
	return d, nil
}

// List returns discounts matching the given filter with the total count.
func (r *DiscountRepository) List(ctx context.Context, filter repository.DiscountFilter) (ds []domain.Discount, total int, err error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, *filter.Type)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM discounts
		%s
		ORDER BY priority, id
		LIMIT $%d OFFSET $%d`,
		discountColumns, whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	ctx, end := database.TraceQuery(ctx, "ListDiscounts", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list discounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDiscount(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan discount row: %w", err)
		}
		ds = append(ds, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate discount rows: %w", err)
	}

	if err := attachConditions(ctx, r.db, ds); err != nil {
		return nil, 0, err
	}
	if ds == nil {
		ds = []domain.Discount{}
	}
	return ds, total, nil
}

// ListActive returns the active catalog used for candidate resolution.
func (r *DiscountRepository) ListActive(ctx context.Context, now time.Time) (ds []domain.Discount, err error) {
	query := `SELECT ` + discountColumns + `
		FROM discounts
		WHERE status = 'active' AND (ends_at IS NULL OR ends_at >= $1)
		ORDER BY priority, id`

	ctx, end := database.TraceQuery(ctx, "ListActiveDiscounts", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list active discounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active discount: %w", err)
		}
		ds = append(ds, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active discounts: %w", err)
	}

	if err := attachConditions(ctx, r.db, ds); err != nil {
		return nil, err
	}
	if ds == nil {
		ds = []domain.Discount{}
	}
	return ds, nil
}

// Update modifies the mutable fields of an existing discount. usage_count is
// owned by the redemption recorder and status by UpdateStatus; neither is
// written here. Once the discount has been redeemed the row only accepts the
// update when type and value are unchanged, so a redemption committed after
// the caller's read still freezes them.
func (r *DiscountRepository) Update(ctx context.Context, d *domain.Discount) (err error) {
	query := `
		UPDATE discounts
		SET name = $1, description = $2, type = $3, value = $4,
		    max_discount_amount = $5, priority = $6, exclusive = $7, stacking_policy = $8,
		    requires_code = $9, starts_at = $10, ends_at = $11, channels = $12,
		    currencies = $13, weekday_mask = $14, time_window_start = $15,
		    time_window_end = $16, max_uses = $17, per_customer_limit = $18,
		    per_code_limit = $19, per_day_limit = $20, updated_at = NOW()
		WHERE id = $21 AND (usage_count = 0 OR (type = $3 AND value = $4))
		RETURNING status, usage_count, updated_at`

	ctx, end := database.TraceQuery(ctx, "UpdateDiscount", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query,
		d.Name,
		d.Description,
		d.Type,
		d.Value,
		d.MaxDiscountAmount,
		d.Priority,
		d.Exclusive,
		d.StackingPolicy,
		d.RequiresCode,
		d.StartsAt,
		d.EndsAt,
		nonNil(d.Channels),
		nonNil(d.Currencies),
		d.WeekdayMask,
		d.TimeWindowStart,
		d.TimeWindowEnd,
		d.MaxUses,
		d.PerCustomerLimit,
		d.PerCodeLimit,
		d.PerDayLimit,
		d.ID,
	).Scan(&d.Status, &d.UsageCount, &d.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update discount: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check discount %d: %w", d.ID, err)
	}
	if !exists {
		return apperrors.NotFound("discount", fmt.Sprint(d.ID))
	}
	return apperrors.Conflict("discount has been redeemed; type and value can no longer change")
}

// UpdateStatus changes the status of a discount.
func (r *DiscountRepository) UpdateStatus(ctx context.Context, id int64, status domain.DiscountStatus) (err error) {
	query := `UPDATE discounts SET status = $1, updated_at = NOW() WHERE id = $2`
	ctx, end := database.TraceQuery(ctx, "UpdateDiscountStatus", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update discount status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("discount", fmt.Sprint(id))
	}
	return nil
}

// ReplaceConditions deletes the conditions of a discount and inserts conds in
// their place, in one transaction.
func (r *DiscountRepository) ReplaceConditions(ctx context.Context, discountID int64, conds []domain.DiscountCondition) (out []domain.DiscountCondition, err error) {
	ctx, end := database.TraceQuery(ctx, "ReplaceConditions", "DELETE FROM discount_conditions")
	defer func() { end(err) }()

	return database.WithTxResult(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) ([]domain.DiscountCondition, error) {
		ct, err := tx.Exec(ctx, `UPDATE discounts SET updated_at = NOW() WHERE id = $1`, discountID)
		if err != nil {
			return nil, fmt.Errorf("touch discount: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil, apperrors.NotFound("discount", fmt.Sprint(discountID))
		}
		if _, err := tx.Exec(ctx, `DELETE FROM discount_conditions WHERE discount_id = $1`, discountID); err != nil {
			return nil, fmt.Errorf("delete conditions: %w", err)
		}
		return insertConditions(ctx, tx, discountID, conds)
	})
}

func insertConditions(ctx context.Context, db database.DBTX, discountID int64, conds []domain.DiscountCondition) ([]domain.DiscountCondition, error) {
	out := make([]domain.DiscountCondition, 0, len(conds))
	query := `
		INSERT INTO discount_conditions (discount_id, type, operator, value, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	for i, c := range conds {
		c.DiscountID = discountID
		if c.Position == 0 {
			c.Position = i
		}
		if err := db.QueryRow(ctx, query, discountID, c.Type, c.Operator, []byte(c.Value), c.Position).
			Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert condition %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func loadConditions(ctx context.Context, db database.DBTX, discountIDs []int64) (map[int64][]domain.DiscountCondition, error) {
	out := make(map[int64][]domain.DiscountCondition, len(discountIDs))
	if len(discountIDs) == 0 {
		return out, nil
	}

	rows, err := db.Query(ctx, `SELECT `+conditionColumns+`
		FROM discount_conditions
		WHERE discount_id = ANY($1)
		ORDER BY discount_id, position, id`, discountIDs)
	if err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c     domain.DiscountCondition
			value []byte
		)
		if err := rows.Scan(&c.ID, &c.DiscountID, &c.Type, &c.Operator, &value, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		c.Value = value
		out[c.DiscountID] = append(out[c.DiscountID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conditions: %w", err)
	}
	return out, nil
}

func attachConditions(ctx context.Context, db database.DBTX, ds []domain.Discount) error {
	ids := make([]int64, len(ds))
	for i := range ds {
		ids[i] = ds[i].ID
	}
	byDiscount, err := loadConditions(ctx, db, ids)
	if err != nil {
		return err
	}
	for i := range ds {
		ds[i].Conditions = byDiscount[ds[i].ID]
		if ds[i].Conditions == nil {
			ds[i].Conditions = []domain.DiscountCondition{}
		}
	}
	return nil
}

// scanDiscount scans one discount row. extra receives trailing columns such
// as a window count.
func scanDiscount(row pgx.Row, extra ...any) (*domain.Discount, error) {
	var d domain.Discount
	dest := []any{
		&d.ID,
		&d.Name,
		&d.Description,
		&d.Type,
		&d.Status,
		&d.Value,
		&d.MaxDiscountAmount,
		&d.Priority,
		&d.Exclusive,
		&d.StackingPolicy,
		&d.RequiresCode,
		&d.StartsAt,
		&d.EndsAt,
		&d.Channels,
		&d.Currencies,
		&d.WeekdayMask,
		&d.TimeWindowStart,
		&d.TimeWindowEnd,
		&d.MaxUses,
		&d.UsageCount,
		&d.PerCustomerLimit,
		&d.PerCodeLimit,
		&d.PerDayLimit,
		&d.CreatedAt,
		&d.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if d.Channels == nil {
		d.Channels = []string{}
	}
	if d.Currencies == nil {
		d.Currencies = []string{}
	}
	if d.Conditions == nil {
		d.Conditions = []domain.DiscountCondition{}
	}
	return &d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
