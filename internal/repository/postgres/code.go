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

const codeColumns = `id, discount_id, code, max_uses, usage_count, expires_at, active, created_at`

// CodeRepository implements repository.CodeRepository using PostgreSQL.
type CodeRepository struct {
	db database.TxBeginner
}

// NewCodeRepository creates a new PostgreSQL-backed code repository.
func NewCodeRepository(db database.TxBeginner) *CodeRepository {
	return &CodeRepository{db: db}
}

var _ repository.CodeRepository = (*CodeRepository)(nil)

// CreateCodes inserts codes in one transaction. A duplicate code rolls back
// the whole batch.
func (r *CodeRepository) CreateCodes(ctx context.Context, codes []domain.DiscountCode) (err error) {
	query := `
		INSERT INTO discount_codes (discount_id, code, max_uses, expires_at, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, usage_count, created_at`

	ctx, end := database.TraceQuery(ctx, "CreateCodes", query)
	defer func() { end(err) }()

	return database.WithTx(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i := range codes {
			c := &codes[i]
			err := tx.QueryRow(ctx, query, c.DiscountID, c.Code, c.MaxUses, c.ExpiresAt, c.Active).
				Scan(&c.ID, &c.UsageCount, &c.CreatedAt)
			if err != nil {
				if database.IsUniqueViolation(err) {
					return apperrors.AlreadyExists("discount code", "code", c.Code)
				}
				return fmt.Errorf("insert discount code: %w", err)
			}
		}
		return nil
	})
}

// GetByCode retrieves a code by its normalized value.
func (r *CodeRepository) GetByCode(ctx context.Context, code string) (c *domain.DiscountCode, err error) {
	query := `SELECT ` + codeColumns + ` FROM discount_codes WHERE code = $1`
	ctx, end := database.TraceQuery(ctx, "GetDiscountCode", query)
	defer func() { end(err) }()

	c, err = scanCode(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("discount code", code)
		}
		return nil, fmt.Errorf("get discount code: %w", err)
	}
	return c, nil
}

// ListByDiscount returns the codes of a discount, oldest first.
func (r *CodeRepository) ListByDiscount(ctx context.Context, discountID int64) (codes []domain.DiscountCode, err error) {
	query := `SELECT ` + codeColumns + ` FROM discount_codes WHERE discount_id = $1 ORDER BY id`
	ctx, end := database.TraceQuery(ctx, "ListDiscountCodes", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, discountID)
	if err != nil {
		return nil, fmt.Errorf("list discount codes: %w", err)
	}
	defer rows.Close()

	codes = []domain.DiscountCode{}
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discount code: %w", err)
		}
		codes = append(codes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discount codes: %w", err)
	}
	return codes, nil
}

func scanCode(row pgx.Row) (*domain.DiscountCode, error) {
	var c domain.DiscountCode
	if err := row.Scan(
		&c.ID,
		&c.DiscountID,
		&c.Code,
		&c.MaxUses,
		&c.UsageCount,
		&c.ExpiresAt,
		&c.Active,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
