package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/pkg/database"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
)

func setupCodeRepo(t *testing.T) (*CodeRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewCodeRepository(mock), mock
}

func codeColumnNames() []string {
	return []string{"id", "discount_id", "code", "max_uses", "usage_count", "expires_at", "active", "created_at"}
}

func TestCodeRepository_CreateCodes(t *testing.T) {
	repo, mock := setupCodeRepo(t)
	defer mock.Close()

	maxUses := int64(50)
	codes := []domain.DiscountCode{
		{DiscountID: 4, Code: "WELCOME-A", MaxUses: &maxUses, Active: true},
		{DiscountID: 4, Code: "WELCOME-B", MaxUses: &maxUses, Active: true},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO discount_codes").
		WithArgs(int64(4), "WELCOME-A", &maxUses, (*time.Time)(nil), true).
		WillReturnRows(pgxmock.NewRows([]string{"id", "usage_count", "created_at"}).AddRow(int64(40), int64(0), fixedNow))
	mock.ExpectQuery("INSERT INTO discount_codes").
		WithArgs(int64(4), "WELCOME-B", &maxUses, (*time.Time)(nil), true).
		WillReturnRows(pgxmock.NewRows([]string{"id", "usage_count", "created_at"}).AddRow(int64(41), int64(0), fixedNow))
	mock.ExpectCommit()

	err := repo.CreateCodes(context.Background(), codes)

	require.NoError(t, err)
	assert.Equal(t, int64(40), codes[0].ID)
	assert.Equal(t, int64(41), codes[1].ID)
	assert.Equal(t, fixedNow, codes[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_CreateCodes_DuplicateRollsBack(t *testing.T) {
	repo, mock := setupCodeRepo(t)
	defer mock.Close()

	codes := []domain.DiscountCode{{DiscountID: 4, Code: "WELCOME", Active: true}}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO discount_codes").
		WithArgs(int64(4), "WELCOME", (*int64)(nil), (*time.Time)(nil), true).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := repo.CreateCodes(context.Background(), codes)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_GetByCode(t *testing.T) {
	repo, mock := setupCodeRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM discount_codes WHERE code").
		WithArgs("WELCOME").
		WillReturnRows(pgxmock.NewRows(codeColumnNames()).
			AddRow(int64(40), int64(4), "WELCOME", (*int64)(nil), int64(7), (*time.Time)(nil), true, fixedNow))

	c, err := repo.GetByCode(context.Background(), "WELCOME")

	require.NoError(t, err)
	assert.Equal(t, int64(4), c.DiscountID)
	assert.Equal(t, int64(7), c.UsageCount)
	assert.Nil(t, c.MaxUses)
	assert.True(t, c.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_GetByCode_NotFound(t *testing.T) {
	repo, mock := setupCodeRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM discount_codes WHERE code").
		WithArgs("NOPE").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByCode(context.Background(), "NOPE")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_ListByDiscount(t *testing.T) {
	repo, mock := setupCodeRepo(t)
	defer mock.Close()

	expires := fixedNow.Add(72 * time.Hour)
	mock.ExpectQuery("SELECT .+ FROM discount_codes WHERE discount_id").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows(codeColumnNames()).
			AddRow(int64(40), int64(4), "WELCOME-A", (*int64)(nil), int64(0), &expires, true, fixedNow).
			AddRow(int64(41), int64(4), "WELCOME-B", (*int64)(nil), int64(2), (*time.Time)(nil), false, fixedNow))

	codes, err := repo.ListByDiscount(context.Background(), 4)

	require.NoError(t, err)
	require.Len(t, codes, 2)
	require.NotNil(t, codes[0].ExpiresAt)
	assert.Equal(t, expires, *codes[0].ExpiresAt)
	assert.False(t, codes[1].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepository_ListByDiscount_Empty(t *testing.T) {
	repo, mock := setupCodeRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM discount_codes WHERE discount_id").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(codeColumnNames()))

	codes, err := repo.ListByDiscount(context.Background(), 9)

	require.NoError(t, err)
	assert.NotNil(t, codes)
	assert.Empty(t, codes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
