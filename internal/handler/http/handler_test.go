package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
	"github.com/utafrali/discount-engine/internal/service"
	"github.com/utafrali/discount-engine/pkg/health"
	"github.com/utafrali/discount-engine/pkg/httputil"
	"github.com/utafrali/discount-engine/pkg/middleware"
)

// ============================================================================
// Mock repositories
// ============================================================================

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
	return args.Get(0).([]domain.Discount), args.Int(1), args.Error(2)
}

func (m *mockDiscountRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Discount, error) {
	args := m.Called(ctx, now)
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
	return args.Get(0).([]domain.DiscountCode), args.Error(1)
}

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
	return args.Get(0).([]domain.CampaignAnalytics), args.Error(1)
}

// nopPublisher drops every event.
type nopPublisher struct{}

func (nopPublisher) PublishDiscountCreated(context.Context, *domain.Discount) error { return nil }
func (nopPublisher) PublishDiscountUpdated(context.Context, *domain.Discount) error { return nil }
func (nopPublisher) PublishRedeemed(context.Context, *domain.Confirmation) error { return nil }
func (nopPublisher) PublishRedemptionReversed(context.Context, string, []domain.DiscountRedemption) error {
	return nil
}
func (nopPublisher) PublishConversionRecorded(context.Context, *domain.CampaignEvent) error { return nil }

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	router      http.Handler
	discounts   *mockDiscountRepository
	codes       *mockCodeRepository
	redemptions *mockRedemptionRepository
	tx          *mockRedemptionTx
	campaigns   *mockCampaignRepository
}

// newTestEnv wires real services over mock repositories behind the
// production router.
func newTestEnv() *testEnv {
	tx := new(mockRedemptionTx)
	env := &testEnv{
		discounts:   new(mockDiscountRepository),
		codes:       new(mockCodeRepository),
		redemptions: &mockRedemptionRepository{tx: tx},
		tx:          tx,
		campaigns:   new(mockCampaignRepository),
	}

	logger := testLogger()
	discountSvc := service.NewDiscountService(env.discounts, env.codes, env.redemptions, nil, nopPublisher{}, time.UTC, logger)
	campaignSvc := service.NewCampaignService(env.campaigns, nopPublisher{}, logger)
	redemptionSvc := service.NewRedemptionService(discountSvc, env.redemptions, campaignSvc, nopPublisher{}, logger)

	env.router = NewRouter(discountSvc, redemptionSvc, campaignSvc, health.NewHandler(), logger, RouterConfig{})
	return env
}

type requestOption func(*http.Request)

func asAdmin(r *http.Request) {
	r.Header.Set(middleware.UserIDHeader, "admin-1")
	r.Header.Set(middleware.UserRoleHeader, middleware.RoleAdmin)
}

func asCustomer(r *http.Request) {
	r.Header.Set(middleware.UserIDHeader, "cust-1")
	r.Header.Set(middleware.UserRoleHeader, "customer")
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// decodeData decodes the data field of the response envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func activeDiscount(id int64, typ domain.DiscountType, value int64) domain.Discount {
	return domain.Discount{
		ID:             id,
		Name:           "Discount",
		Type:           typ,
		Status:         domain.DiscountStatusActive,
		Value:          value,
		StackingPolicy: domain.StackingStack,
	}
}
