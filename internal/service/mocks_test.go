package service

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
)

// --- Mock Repositories ---

type mockDiscountRepository struct {
	mock.Mock
}

func (m *mockDiscountRepository) Create(ctx context.Context, d *domain.Discount) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDiscountRepository) GetByID(ctx context.Context, id int64) (*domain.Discount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockDiscountRepository) List(ctx context.Context, filter repository.DiscountFilter) ([]domain.Discount, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.Discount), args.Int(1), args.Error(2)
}

func (m *mockDiscountRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Discount, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Discount), args.Error(1)
}

func (m *mockDiscountRepository) Update(ctx context.Context, d *domain.Discount) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDiscountRepository) UpdateStatus(ctx context.Context, id int64, status domain.DiscountStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockDiscountRepository) ReplaceConditions(ctx context.Context, discountID int64, conds []domain.DiscountCondition) ([]domain.DiscountCondition, error) {
	args := m.Called(ctx, discountID, conds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DiscountCondition), args.Error(1)
}

type mockCodeRepository struct {
	mock.Mock
}

func (m *mockCodeRepository) CreateCodes(ctx context.Context, codes []domain.DiscountCode) error {
	args := m.Called(ctx, codes)
	return args.Error(0)
}

func (m *mockCodeRepository) GetByCode(ctx context.Context, code string) (*domain.DiscountCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DiscountCode), args.Error(1)
}

func (m *mockCodeRepository) ListByDiscount(ctx context.Context, discountID int64) ([]domain.DiscountCode, error) {
	args := m.Called(ctx, discountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DiscountCode), args.Error(1)
}

// mockRedemptionRepository runs InTx callbacks against tx.
type mockRedemptionRepository struct {
	mock.Mock
	tx *mockRedemptionTx
}

func (m *mockRedemptionRepository) UsageCounts(ctx context.Context, q repository.UsageQuery) (domain.UsageCounts, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(domain.UsageCounts), args.Error(1)
}

func (m *mockRedemptionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.DiscountRedemption, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DiscountRedemption), args.Error(1)
}

func (m *mockRedemptionRepository) InTx(ctx context.Context, fn func(tx repository.RedemptionTx) error) error {
	m.Called(ctx)
	return fn(m.tx)
}

type mockRedemptionTx struct {
	mock.Mock
}

func (m *mockRedemptionTx) LockDiscount(ctx context.Context, id int64) (*domain.Discount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockRedemptionTx) UsageCounts(ctx context.Context, q repository.UsageQuery) (domain.UsageCounts, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(domain.UsageCounts), args.Error(1)
}

func (m *mockRedemptionTx) Insert(ctx context.Context, r *domain.DiscountRedemption) (bool, error) {
	args := m.Called(ctx, r)
	return args.Bool(0), args.Error(1)
}

func (m *mockRedemptionTx) IncrementDiscountUsage(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRedemptionTx) IncrementCodeUsage(ctx context.Context, codeID int64) (bool, error) {
	args := m.Called(ctx, codeID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRedemptionTx) DeleteByOrder(ctx context.Context, orderID string) ([]domain.DiscountRedemption, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DiscountRedemption), args.Error(1)
}

func (m *mockRedemptionTx) DecrementDiscountUsage(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRedemptionTx) DecrementCodeUsage(ctx context.Context, codeID int64) error {
	args := m.Called(ctx, codeID)
	return args.Error(0)
}

type mockCampaignRepository struct {
	mock.Mock
}

func (m *mockCampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockCampaignRepository) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Campaign), args.Error(1)
}

func (m *mockCampaignRepository) List(ctx context.Context, filter repository.CampaignFilter) ([]domain.Campaign, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Campaign), args.Int(1), args.Error(2)
}

func (m *mockCampaignRepository) RecordEvent(ctx context.Context, e *domain.CampaignEvent) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *mockCampaignRepository) RollupDay(ctx context.Context, day time.Time) (int64, error) {
	args := m.Called(ctx, day)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCampaignRepository) GetAnalytics(ctx context.Context, campaignID int64, from, to time.Time) ([]domain.CampaignAnalytics, error) {
	args := m.Called(ctx, campaignID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CampaignAnalytics), args.Error(1)
}

type mockCatalogCache struct {
	mock.Mock
}

func (m *mockCatalogCache) Get(ctx context.Context) ([]domain.Discount, bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]domain.Discount), args.Bool(1), args.Error(2)
}

func (m *mockCatalogCache) Set(ctx context.Context, discounts []domain.Discount) error {
	args := m.Called(ctx, discounts)
	return args.Error(0)
}

func (m *mockCatalogCache) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- Mock Publisher ---

// mockPublisher satisfies every event publisher interface of the package.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishDiscountCreated(ctx context.Context, d *domain.Discount) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockPublisher) PublishDiscountUpdated(ctx context.Context, d *domain.Discount) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockPublisher) PublishRedeemed(ctx context.Context, c *domain.Confirmation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockPublisher) PublishRedemptionReversed(ctx context.Context, orderID string, reversed []domain.DiscountRedemption) error {
	args := m.Called(ctx, orderID, reversed)
	return args.Error(0)
}

func (m *mockPublisher) PublishConversionRecorded(ctx context.Context, e *domain.CampaignEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// --- Test Helpers ---

var fixedNow = time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC) // a Wednesday

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testDeps struct {
	discounts   *mockDiscountRepository
	codes       *mockCodeRepository
	redemptions *mockRedemptionRepository
	tx          *mockRedemptionTx
	cache       *mockCatalogCache
	publisher   *mockPublisher
}

func newTestDeps() *testDeps {
	tx := new(mockRedemptionTx)
	return &testDeps{
		discounts:   new(mockDiscountRepository),
		codes:       new(mockCodeRepository),
		redemptions: &mockRedemptionRepository{tx: tx},
		tx:          tx,
		cache:       new(mockCatalogCache),
		publisher:   new(mockPublisher),
	}
}

// newTestService builds a DiscountService without a catalog cache and with a
// frozen clock.
func newTestService(deps *testDeps) *DiscountService {
	svc := NewDiscountService(deps.discounts, deps.codes, deps.redemptions, nil, deps.publisher, time.UTC, newTestLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func activeDiscount(id int64, typ domain.DiscountType, value int64) domain.Discount {
	return domain.Discount{
		ID:             id,
		Name:           "Discount",
		Type:           typ,
		Status:         domain.DiscountStatusActive,
		Value:          value,
		StackingPolicy: domain.StackingStack,
		Channels:       []string{},
		Currencies:     []string{},
		Conditions:     []domain.DiscountCondition{},
	}
}

func sampleOrder() domain.OrderContext {
	return domain.OrderContext{
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Channel:    "web",
		Currency:   "usd",
		Lines: []domain.CartLine{
			{ProductID: "p-1", CategoryIDs: []string{"shoes"}, Quantity: 2, UnitPrice: 5000},
		},
		ShippingAmount: 500,
	}
}

func int64Ptr(i int64) *int64 {
	return &i
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
