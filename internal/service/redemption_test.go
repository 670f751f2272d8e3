package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/discount-engine/internal/domain"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
)

type mockConversionRecorder struct {
	mock.Mock
}

func (m *mockConversionRecorder) RecordConversion(ctx context.Context, e *domain.CampaignEvent) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func newTestRedemptionService(deps *testDeps, campaigns ConversionRecorder) *RedemptionService {
	return NewRedemptionService(newTestService(deps), deps.redemptions, campaigns, deps.publisher, newTestLogger())
}

// expectCatalog sets up a two-discount catalog: an automatic 10% discount
// (id 1) and a code-only 15.00 discount (id 4, code id 40).
func expectCatalog(ctx context.Context, deps *testDeps) (auto, coded domain.Discount) {
	auto = activeDiscount(1, domain.DiscountTypePercentage, 1000)
	coded = activeDiscount(4, domain.DiscountTypeFixedAmount, 1500)
	coded.RequiresCode = true
	coded.Priority = 1
	deps.discounts.On("ListActive", ctx, mock.Anything).Return([]domain.Discount{auto, coded}, nil)
	deps.codes.On("GetByCode", ctx, "WELCOME").
		Return(&domain.DiscountCode{ID: 40, DiscountID: 4, Code: "WELCOME", Active: true}, nil)
	return auto, coded
}

func TestConfirm_RecordsRedemptions(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	auto, coded := expectCatalog(ctx, deps)
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("LockDiscount", ctx, int64(1)).Return(&auto, nil)
	deps.tx.On("LockDiscount", ctx, int64(4)).Return(&coded, nil)
	deps.tx.On("Insert", ctx, mock.AnythingOfType("*domain.DiscountRedemption")).Return(true, nil)
	deps.tx.On("IncrementDiscountUsage", ctx, int64(1)).Return(true, nil)
	deps.tx.On("IncrementDiscountUsage", ctx, int64(4)).Return(true, nil)
	deps.tx.On("IncrementCodeUsage", ctx, int64(40)).Return(true, nil)
	deps.publisher.On("PublishRedeemed", ctx, mock.AnythingOfType("*domain.Confirmation")).Return(nil)

	before := testutil.ToFloat64(RedemptionsTotal)

	c, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder(), Code: "welcome", ExpectedDiscountIDs: []int64{1, 4}})

	require.NoError(t, err)
	assert.False(t, c.Replayed)
	require.Len(t, c.Redemptions, 2)
	assert.Equal(t, int64(1), c.Redemptions[0].DiscountID)
	assert.Equal(t, int64(1000), c.Redemptions[0].AmountSaved)
	assert.Nil(t, c.Redemptions[0].CodeID)
	assert.Equal(t, int64(4), c.Redemptions[1].DiscountID)
	assert.Equal(t, int64(1500), c.Redemptions[1].AmountSaved)
	assert.Equal(t, int64(40), *c.Redemptions[1].CodeID)
	assert.Equal(t, "USD", c.Redemptions[1].CurrencyCode)
	assert.Equal(t, fixedNow, c.Redemptions[0].RedeemedAt)
	assert.NotEmpty(t, c.Redemptions[0].ID)
	assert.NotEqual(t, c.Redemptions[0].ID, c.Redemptions[1].ID)
	assert.Equal(t, int64(2500), c.TotalSaved())
	assert.Equal(t, int64(7500), c.Quote.Total)
	assert.Equal(t, float64(2), testutil.ToFloat64(RedemptionsTotal)-before)

	deps.tx.AssertExpectations(t)
	deps.publisher.AssertExpectations(t)
}

func TestConfirm_IgnoresClientTime(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.discounts.On("ListActive", ctx, fixedNow).Return([]domain.Discount{}, nil)

	order := sampleOrder()
	order.At = fixedNow.AddDate(1, 0, 0)
	c, err := svc.Confirm(ctx, &ConfirmInput{Order: order})

	require.NoError(t, err)
	assert.Empty(t, c.Redemptions)
	deps.discounts.AssertExpectations(t)
	deps.redemptions.AssertNotCalled(t, "InTx", mock.Anything)
}

func TestConfirm_RequiresOrderID(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)

	order := sampleOrder()
	order.OrderID = ""
	_, err := svc.Confirm(context.Background(), &ConfirmInput{Order: order})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestConfirm_ReplaysExistingRedemptions(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	existing := []domain.DiscountRedemption{{ID: "r-1", DiscountID: 1, OrderID: "ord-1", AmountSaved: 1000}}
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return(existing, nil)

	c, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder()})

	require.NoError(t, err)
	assert.True(t, c.Replayed)
	assert.Equal(t, existing, c.Redemptions)
	deps.discounts.AssertNotCalled(t, "ListActive", mock.Anything, mock.Anything)
	deps.redemptions.AssertNotCalled(t, "InTx", mock.Anything)
}

func TestConfirm_GuardedIncrementConflict(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	auto, _ := expectCatalog(ctx, deps)
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("LockDiscount", ctx, int64(1)).Return(&auto, nil)
	deps.tx.On("Insert", ctx, mock.Anything).Return(true, nil)
	deps.tx.On("IncrementDiscountUsage", ctx, int64(1)).Return(false, nil)

	before := testutil.ToFloat64(RedemptionConflicts)

	c, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder()})

	assert.Nil(t, c)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	var conflict *domain.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []int64{1}, conflict.DiscountIDs)
	assert.Equal(t, float64(1), testutil.ToFloat64(RedemptionConflicts)-before)
	deps.publisher.AssertNotCalled(t, "PublishRedeemed", mock.Anything, mock.Anything)
}

func TestConfirm_CustomerLimitReachedInsideTransaction(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	d := activeDiscount(1, domain.DiscountTypePercentage, 1000)
	d.PerCustomerLimit = 1
	deps.discounts.On("ListActive", ctx, mock.Anything).Return([]domain.Discount{d}, nil)
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.redemptions.On("UsageCounts", ctx, mock.Anything).Return(domain.UsageCounts{}, nil)
	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("LockDiscount", ctx, int64(1)).Return(&d, nil)
	deps.tx.On("UsageCounts", ctx, mock.Anything).Return(domain.UsageCounts{Customer: 1}, nil)

	_, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder()})

	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	deps.tx.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestConfirm_DiscountPausedBeforeLock(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	auto, _ := expectCatalog(ctx, deps)
	paused := auto
	paused.Status = domain.DiscountStatusPaused
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("LockDiscount", ctx, int64(1)).Return(&paused, nil)

	_, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder()})

	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestConfirm_ExpectedDiscountMissing(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	expectCatalog(ctx, deps)
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)

	_, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder(), ExpectedDiscountIDs: []int64{1, 4}})

	var conflict *domain.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []int64{4}, conflict.DiscountIDs)
	deps.redemptions.AssertNotCalled(t, "InTx", mock.Anything)
}

func TestConfirm_CodeExhaustedSinceQuote(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.codes.On("GetByCode", ctx, "LAST").
		Return(&domain.DiscountCode{ID: 40, DiscountID: 4, Code: "LAST", Active: true, MaxUses: int64Ptr(1), UsageCount: 1}, nil)
	deps.discounts.On("ListActive", ctx, mock.Anything).Return([]domain.Discount{}, nil)

	_, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder(), Code: "LAST"})

	var conflict *domain.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []int64{4}, conflict.DiscountIDs)
}

func TestConfirm_UnknownCode(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.codes.On("GetByCode", ctx, "NOPE").Return(nil, apperrors.NotFound("discount code", "NOPE"))
	deps.discounts.On("ListActive", ctx, mock.Anything).Return([]domain.Discount{}, nil)

	_, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder(), Code: "NOPE"})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConfirm_ConcurrentConfirmationOfSameOrder(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	auto, _ := expectCatalog(ctx, deps)
	committed := []domain.DiscountRedemption{{ID: "r-1", DiscountID: 1, OrderID: "ord-1"}}
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil).Once()
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return(committed, nil).Once()
	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("LockDiscount", ctx, int64(1)).Return(&auto, nil)
	deps.tx.On("Insert", ctx, mock.Anything).Return(false, nil)

	c, err := svc.Confirm(ctx, &ConfirmInput{Order: sampleOrder()})

	require.NoError(t, err)
	assert.True(t, c.Replayed)
	assert.Equal(t, committed, c.Redemptions)
	deps.tx.AssertNotCalled(t, "IncrementDiscountUsage", mock.Anything, mock.Anything)
	deps.publisher.AssertNotCalled(t, "PublishRedeemed", mock.Anything, mock.Anything)
}

func TestConfirm_RecordsCampaignConversion(t *testing.T) {
	deps := newTestDeps()
	recorder := new(mockConversionRecorder)
	svc := newTestRedemptionService(deps, recorder)
	ctx := context.Background()

	auto := activeDiscount(1, domain.DiscountTypePercentage, 1000)
	deps.discounts.On("ListActive", ctx, mock.Anything).Return([]domain.Discount{auto}, nil)
	deps.redemptions.On("ListByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{}, nil)
	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("LockDiscount", ctx, int64(1)).Return(&auto, nil)
	deps.tx.On("Insert", ctx, mock.Anything).Return(true, nil)
	deps.tx.On("IncrementDiscountUsage", ctx, int64(1)).Return(true, nil)
	deps.publisher.On("PublishRedeemed", ctx, mock.Anything).Return(errors.New("broker down"))
	recorder.On("RecordConversion", ctx, mock.MatchedBy(func(e *domain.CampaignEvent) bool {
		return e.CampaignID == 77 && e.OrderID == "ord-1" && e.Revenue == 9500 &&
			e.Currency == "USD" && e.DiscountID != nil && *e.DiscountID == 1
	})).Return(false, errors.New("db down"))

	order := sampleOrder()
	order.CampaignID = int64Ptr(77)
	c, err := svc.Confirm(ctx, &ConfirmInput{Order: order})

	require.NoError(t, err)
	assert.Len(t, c.Redemptions, 1)
	recorder.AssertExpectations(t)
}

func TestReverse(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	removed := []domain.DiscountRedemption{
		{ID: "r-1", DiscountID: 1, OrderID: "ord-1"},
		{ID: "r-2", DiscountID: 4, CodeID: int64Ptr(40), OrderID: "ord-1"},
	}
	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("DeleteByOrder", ctx, "ord-1").Return(removed, nil)
	deps.tx.On("DecrementDiscountUsage", ctx, int64(1)).Return(nil)
	deps.tx.On("DecrementDiscountUsage", ctx, int64(4)).Return(nil)
	deps.tx.On("DecrementCodeUsage", ctx, int64(40)).Return(nil)
	deps.publisher.On("PublishRedemptionReversed", ctx, "ord-1", removed).Return(nil)

	before := testutil.ToFloat64(RedemptionsReversed)

	got, err := svc.Reverse(ctx, "ord-1")

	require.NoError(t, err)
	assert.Equal(t, removed, got)
	assert.Equal(t, float64(2), testutil.ToFloat64(RedemptionsReversed)-before)
	deps.tx.AssertExpectations(t)
	deps.publisher.AssertExpectations(t)
}

func TestReverse_NothingToReverse(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("DeleteByOrder", ctx, "ord-9").Return([]domain.DiscountRedemption{}, nil)

	got, err := svc.Reverse(ctx, "ord-9")

	require.NoError(t, err)
	assert.Empty(t, got)
	deps.publisher.AssertNotCalled(t, "PublishRedemptionReversed", mock.Anything, mock.Anything, mock.Anything)
}

func TestReverse_DecrementFailure(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)
	ctx := context.Background()

	deps.redemptions.On("InTx", ctx).Return()
	deps.tx.On("DeleteByOrder", ctx, "ord-1").Return([]domain.DiscountRedemption{{ID: "r-1", DiscountID: 1}}, nil)
	deps.tx.On("DecrementDiscountUsage", ctx, int64(1)).Return(errors.New("deadlock"))

	_, err := svc.Reverse(ctx, "ord-1")

	assert.ErrorContains(t, err, "deadlock")
}

func TestReverse_RequiresOrderID(t *testing.T) {
	deps := newTestDeps()
	svc := newTestRedemptionService(deps, nil)

	_, err := svc.Reverse(context.Background(), "")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
