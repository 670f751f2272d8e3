package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	"github.com/utafrali/discount-engine/pkg/database"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
)

const redemptionColumns = `id, discount_id, code_id, order_id, COALESCE(customer_id, ''), amount_saved, currency_code, redeemed_at`

// RedemptionRepository implements repository.RedemptionRepository using
// PostgreSQL. Usage-limit enforcement relies on row locks on discounts and
// on guarded conditional increments, never on read-then-write.
type RedemptionRepository struct {
	db database.TxBeginner
}

// NewRedemptionRepository creates a new PostgreSQL-backed redemption repository.
func NewRedemptionRepository(db database.TxBeginner) *RedemptionRepository {
	return &RedemptionRepository{db: db}
}

var (
	_ repository.RedemptionRepository = (*RedemptionRepository)(nil)
	_ repository.RedemptionTx         = (*redemptionTx)(nil)
)

// UsageCounts counts redemptions of one discount by customer, code and day.
func (r *RedemptionRepository) UsageCounts(ctx context.Context, q repository.UsageQuery) (domain.UsageCounts, error) {
	return usageCounts(ctx, r.db, q)
}

// ListByOrder returns the redemptions of an order ordered by discount id.
func (r *RedemptionRepository) ListByOrder(ctx context.Context, orderID string) (out []domain.DiscountRedemption, err error) {
	query := `SELECT ` + redemptionColumns + ` FROM discount_redemptions WHERE order_id = $1 ORDER BY discount_id`
	ctx, end := database.TraceQuery(ctx, "ListRedemptionsByOrder", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return collectRedemptions(rows)
}

// redemptionTxAttempts bounds retries of a transaction aborted by a deadlock
// or serialization failure.
const redemptionTxAttempts = 3

// InTx runs fn in a READ COMMITTED transaction. A transaction Postgres aborts
// with a retryable error is run again from the start.
func (r *RedemptionRepository) InTx(ctx context.Context, fn func(tx repository.RedemptionTx) error) error {
	var err error
	for attempt := 1; attempt <= redemptionTxAttempts; attempt++ {
		err = database.WithTx(ctx, r.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(&redemptionTx{tx: tx})
		})
		if !database.IsSerializationFailure(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

type redemptionTx struct {
	tx database.DBTX
}

func (t *redemptionTx) LockDiscount(ctx context.Context, id int64) (d *domain.Discount, err error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1 FOR UPDATE`
	ctx, end := database.TraceQuery(ctx, "LockDiscount", query)
	defer func() { end(err) }()

	d, err = scanDiscount(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("discount", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("lock discount %d: %w", id, err)
	}
	return d, nil
}

func (t *redemptionTx) UsageCounts(ctx context.Context, q repository.UsageQuery) (domain.UsageCounts, error) {
	return usageCounts(ctx, t.tx, q)
}

func (t *redemptionTx) Insert(ctx context.Context, rd *domain.DiscountRedemption) (inserted bool, err error) {
	query := `
		INSERT INTO discount_redemptions (
			id, discount_id, code_id, order_id, customer_id, amount_saved, currency_code, redeemed_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (order_id, discount_id) DO NOTHING
		RETURNING id`

	ctx, end := database.TraceQuery(ctx, "InsertRedemption", query)
	defer func() { end(err) }()

	var id string
	err = t.tx.QueryRow(ctx, query,
		rd.ID,
		rd.DiscountID,
		rd.CodeID,
		rd.OrderID,
		rd.CustomerID,
		rd.AmountSaved,
		rd.CurrencyCode,
		rd.RedeemedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert redemption: %w", err)
	}
	return true, nil
}

func (t *redemptionTx) IncrementDiscountUsage(ctx context.Context, id int64) (bool, error) {
	return t.guardedExec(ctx, "IncrementDiscountUsage", `
		UPDATE discounts
		SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (max_uses = 0 OR usage_count < max_uses)`, id)
}

func (t *redemptionTx) IncrementCodeUsage(ctx context.Context, codeID int64) (bool, error) {
	return t.guardedExec(ctx, "IncrementCodeUsage", `
		UPDATE discount_codes
		SET usage_count = usage_count + 1
		WHERE id = $1 AND (max_uses IS NULL OR usage_count < max_uses)`, codeID)
}

func (t *redemptionTx) DeleteByOrder(ctx context.Context, orderID string) (out []domain.DiscountRedemption, err error) {
	query := `DELETE FROM discount_redemptions WHERE order_id = $1
		RETURNING ` + redemptionColumns
	ctx, end := database.TraceQuery(ctx, "DeleteRedemptionsByOrder", query)
	defer func() { end(err) }()

	rows, err := t.tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("delete redemptions: %w", err)
	}
	return collectRedemptions(rows)
}

func (t *redemptionTx) DecrementDiscountUsage(ctx context.Context, id int64) error {
	_, err := t.guardedExec(ctx, "DecrementDiscountUsage", `
		UPDATE discounts
		SET usage_count = GREATEST(usage_count - 1, 0), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (t *redemptionTx) DecrementCodeUsage(ctx context.Context, codeID int64) error {
	_, err := t.guardedExec(ctx, "DecrementCodeUsage", `
		UPDATE discount_codes
		SET usage_count = GREATEST(usage_count - 1, 0)
		WHERE id = $1`, codeID)
	return err
}

func (t *redemptionTx) guardedExec(ctx context.Context, operation, query string, id int64) (ok bool, err error) {
	ctx, end := database.TraceQuery(ctx, operation, query)
	defer func() { end(err) }()

	ct, err := t.tx.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%s %d: %w", operation, id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// usageCounts computes every limit count with a single aggregate query. The
// customer and code counts are 0 when no customer or code is given.
func usageCounts(ctx context.Context, db database.DBTX, q repository.UsageQuery) (counts domain.UsageCounts, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE $2 <> '' AND customer_id = $2),
			COUNT(*) FILTER (WHERE $3::BIGINT IS NOT NULL AND code_id = $3),
			COUNT(*) FILTER (WHERE redeemed_at >= $4)
		FROM discount_redemptions
		WHERE discount_id = $1`

	ctx, end := database.TraceQuery(ctx, "CountUsage", query)
	defer func() { end(err) }()

	if err := db.QueryRow(ctx, query, q.DiscountID, q.CustomerID, q.CodeID, q.DayStart).
		Scan(&counts.Customer, &counts.Code, &counts.Day); err != nil {
		return domain.UsageCounts{}, fmt.Errorf("count usage for discount %d: %w", q.DiscountID, err)
	}
	return counts, nil
}

func collectRedemptions(rows pgx.Rows) ([]domain.DiscountRedemption, error) {
	defer rows.Close()

	out := []domain.DiscountRedemption{}
	for rows.Next() {
		var rd domain.DiscountRedemption
		if err := rows.Scan(
			&rd.ID,
			&rd.DiscountID,
			&rd.CodeID,
			&rd.OrderID,
			&rd.CustomerID,
			&rd.AmountSaved,
			&rd.CurrencyCode,
			&rd.RedeemedAt,
		); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemptions: %w", err)
	}
	return out, nil
}
