package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/engine"
	"github.com/utafrali/discount-engine/internal/repository"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
)

// QuoteInput holds the parameters of a cart preview.
type QuoteInput struct {
	Order domain.OrderContext
	Code  string
}

// Quote prices an order with every discount it is eligible for. It has no
// side effects: nothing is counted against usage limits.
func (s *DiscountService) Quote(ctx context.Context, input *QuoteInput) (*domain.Quote, error) {
	order := input.Order
	if err := prepareOrder(&order, s.now()); err != nil {
		return nil, err
	}

	el, err := s.resolve(ctx, &order, input.Code)
	if err != nil {
		QuotesTotal.WithLabelValues(OutcomeError).Inc()
		return nil, err
	}

	q := s.price(el, &order)
	observeQuote(q)

	s.logger.DebugContext(ctx, "quote computed",
		slog.Int64("subtotal", q.Subtotal),
		slog.Int64("discount_total", q.DiscountTotal),
		slog.Int("applied", len(q.Applied)),
		slog.Int("rejected", len(q.Rejected)),
	)
	return q, nil
}

// ResolveEligible returns the discounts order is eligible for, sorted by
// (priority, id), and the reason every other catalog entry was rejected.
func (s *DiscountService) ResolveEligible(ctx context.Context, order *domain.OrderContext, code string) (*domain.Eligibility, error) {
	o := *order
	if err := prepareOrder(&o, s.now()); err != nil {
		return nil, err
	}
	return s.resolve(ctx, &o, code)
}

func (s *DiscountService) price(el *domain.Eligibility, order *domain.OrderContext) *domain.Quote {
	codes := map[int64]*domain.DiscountCode{}
	if el.Code != nil {
		codes[el.Code.DiscountID] = el.Code
	}

	q := engine.Resolve(el.Eligible, order, codes)
	q.Rejected = el.Rejected
	if el.CodeError != nil {
		q.CodeError = errorMessage(el.CodeError)
	}
	return q
}

func (s *DiscountService) resolve(ctx context.Context, order *domain.OrderContext, rawCode string) (*domain.Eligibility, error) {
	now := order.At
	local := engine.LocalizeOrder(order, s.loc)

	el := &domain.Eligibility{
		Eligible: []domain.Discount{},
		Rejected: []domain.Rejection{},
	}

	if code := domain.NormalizeCode(rawCode); code != "" {
		lookup, err := s.lookupCode(ctx, code, now)
		if err != nil {
			return nil, err
		}
		el.Code, el.CodeError = lookup.code, lookup.err
	}

	catalog, err := s.loadCatalog(ctx, now)
	if err != nil {
		return nil, err
	}

	codeMatched := false
	for i := range catalog {
		d := &catalog[i]
		viaCode := el.Code != nil && el.Code.DiscountID == d.ID
		if viaCode {
			codeMatched = true
		}

		reason, detail, err := s.check(ctx, d, local, el.Code, viaCode)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			el.Eligible = append(el.Eligible, *d)
			continue
		}

		el.Rejected = append(el.Rejected, domain.Rejection{DiscountID: d.ID, Reason: reason, Detail: detail})
		if viaCode {
			el.CodeError = codeRejection(d, reason)
			el.Code = nil
		}
	}

	if el.Code != nil && !codeMatched {
		el.CodeError = apperrors.InvalidInput("discount code is not valid for any active discount")
		el.Code = nil
	}

	engine.SortCandidates(el.Eligible)
	return el, nil
}

// check runs every eligibility test on one catalog entry in order: window,
// code requirement, restrictions, usage limits, then conditions. It returns
// the first failing reason, or "" when d is eligible.
func (s *DiscountService) check(ctx context.Context, d *domain.Discount, order *domain.OrderContext, code *domain.DiscountCode, viaCode bool) (reason, detail string, err error) {
	if reason := engine.CheckWindow(d, order.At); reason != "" {
		return reason, "", nil
	}
	if d.RequiresCode && !viaCode {
		return domain.ReasonRequiresCode, "", nil
	}
	if reason := engine.CheckRestrictions(d, order, s.loc); reason != "" {
		return reason, "", nil
	}
	if !d.HasUsesLeft() {
		return domain.ReasonGlobalLimit, "", nil
	}

	var codeID *int64
	if viaCode {
		codeID = &code.ID
	}
	if needsUsageCounts(d, order.CustomerID, codeID) {
		q := usageQuery(d, order, codeID, s.loc)
		counts, err := s.redemptions.UsageCounts(ctx, q)
		if err != nil {
			return "", "", fmt.Errorf("count usage for discount %d: %w", d.ID, err)
		}
		if limitErr := checkUsageLimits(d, counts, q); limitErr != nil {
			return limitReason(limitErr.Limit), limitErr.Error(), nil
		}
	}

	pred, err := engine.CompileAll(d)
	if err != nil {
		s.logger.WarnContext(ctx, "discount has invalid configuration",
			slog.Int64("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
		return domain.ReasonInvalidConfig, err.Error(), nil
	}
	if !pred(order) {
		return domain.ReasonConditionFailed, "", nil
	}
	return "", "", nil
}

// codeLookup is the outcome of resolving an entered code: either a usable
// code or the reason it cannot be used.
type codeLookup struct {
	code *domain.DiscountCode
	err  error
}

// lookupCode resolves an entered code. A code that cannot be used is reported
// in the lookup, not as a failure: automatic discounts are still evaluated.
func (s *DiscountService) lookupCode(ctx context.Context, code string, now time.Time) (codeLookup, error) {
	c, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return codeLookup{err: apperrors.NotFound("discount code", code)}, nil
		}
		return codeLookup{}, fmt.Errorf("look up discount code: %w", err)
	}
	if c.Usable(now) {
		return codeLookup{code: c}, nil
	}

	switch {
	case !c.Active:
		return codeLookup{err: apperrors.InvalidInput("discount code is no longer active")}, nil
	case c.Expired(now):
		return codeLookup{err: apperrors.InvalidInput("discount code has expired")}, nil
	case c.Exhausted():
		return codeLookup{err: &domain.LimitExceededError{
			DiscountID: c.DiscountID,
			Limit:      domain.LimitCode,
			Max:        *c.MaxUses,
			Used:       c.UsageCount,
		}}, nil
	}
	return codeLookup{code: c}, nil
}

// loadCatalog returns the active catalog, from the cache when possible. Cache
// failures degrade to a repository read.
func (s *DiscountService) loadCatalog(ctx context.Context, now time.Time) ([]domain.Discount, error) {
	if s.cache != nil {
		ds, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "discount catalog cache read failed",
				slog.String("error", err.Error()),
			)
		} else if ok {
			return ds, nil
		}
	}

	ds, err := s.discounts.ListActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load active discounts: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, ds); err != nil {
			s.logger.WarnContext(ctx, "discount catalog cache write failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return ds, nil
}

func needsUsageCounts(d *domain.Discount, customerID string, codeID *int64) bool {
	return (d.PerCustomerLimit > 0 && customerID != "") ||
		(d.PerCodeLimit > 0 && codeID != nil) ||
		d.PerDayLimit > 0
}

func usageQuery(d *domain.Discount, order *domain.OrderContext, codeID *int64, loc *time.Location) repository.UsageQuery {
	return repository.UsageQuery{
		DiscountID: d.ID,
		CustomerID: order.CustomerID,
		CodeID:     codeID,
		DayStart:   engine.DayStart(order.At, loc),
	}
}

// checkUsageLimits compares existing redemption counts with the limits of d.
// Anonymous orders are not subject to the per-customer limit.
func checkUsageLimits(d *domain.Discount, counts domain.UsageCounts, q repository.UsageQuery) *domain.LimitExceededError {
	if d.PerCustomerLimit > 0 && q.CustomerID != "" && counts.Customer >= d.PerCustomerLimit {
		return &domain.LimitExceededError{DiscountID: d.ID, Limit: domain.LimitCustomer, Max: d.PerCustomerLimit, Used: counts.Customer}
	}
	if d.PerCodeLimit > 0 && q.CodeID != nil && counts.Code >= d.PerCodeLimit {
		return &domain.LimitExceededError{DiscountID: d.ID, Limit: domain.LimitCode, Max: d.PerCodeLimit, Used: counts.Code}
	}
	if d.PerDayLimit > 0 && counts.Day >= d.PerDayLimit {
		return &domain.LimitExceededError{DiscountID: d.ID, Limit: domain.LimitDay, Max: d.PerDayLimit, Used: counts.Day}
	}
	return nil
}

func limitReason(limit string) string {
	switch limit {
	case domain.LimitCustomer:
		return domain.ReasonCustomerLimit
	case domain.LimitCode:
		return domain.ReasonCodeLimit
	case domain.LimitDay:
		return domain.ReasonDayLimit
	default:
		return domain.ReasonGlobalLimit
	}
}

func codeRejection(d *domain.Discount, reason string) error {
	switch reason {
	case domain.ReasonGlobalLimit:
		return &domain.LimitExceededError{DiscountID: d.ID, Limit: domain.LimitGlobal, Max: d.MaxUses, Used: d.UsageCount}
	case domain.ReasonCustomerLimit, domain.ReasonCodeLimit, domain.ReasonDayLimit:
		return &domain.LimitExceededError{DiscountID: d.ID, Limit: reasonLimit(reason)}
	default:
		return apperrors.InvalidInput("discount code does not apply to this order: " + reason)
	}
}

func reasonLimit(reason string) string {
	switch reason {
	case domain.ReasonCustomerLimit:
		return domain.LimitCustomer
	case domain.ReasonCodeLimit:
		return domain.LimitCode
	default:
		return domain.LimitDay
	}
}

// prepareOrder normalizes order at now and rejects values no checkout would
// send.
func prepareOrder(order *domain.OrderContext, now time.Time) error {
	if err := order.Normalize(now); err != nil {
		return apperrors.InvalidInput("order line totals exceed the supported amount range")
	}

	if len(order.Currency) != 3 {
		return apperrors.InvalidInput("currency must be a 3-letter ISO code")
	}
	if order.ShippingAmount < 0 {
		return apperrors.InvalidInput("shipping_amount must not be negative")
	}
	for i, l := range order.Lines {
		if l.Quantity <= 0 {
			return apperrors.InvalidInput(fmt.Sprintf("lines[%d].quantity must be positive", i))
		}
		if l.UnitPrice < 0 {
			return apperrors.InvalidInput(fmt.Sprintf("lines[%d].unit_price must not be negative", i))
		}
	}
	if order.Subtotal < 0 {
		return apperrors.InvalidInput("subtotal must not be negative")
	}
	return nil
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
