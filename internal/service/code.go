package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/utafrali/discount-engine/internal/domain"
	apperrors "github.com/utafrali/discount-engine/pkg/errors"
	"github.com/utafrali/discount-engine/pkg/slug"
)

const (
	maxCodeLength   = 64
	maxGeneratedSet = 1000
	codePrefixLen   = 8
	codeSuffixLen   = 8
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]*$`)

// Unambiguous characters for generated code suffixes (no 0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CreateCodeInput holds the parameters for creating discount codes.
type CreateCodeInput struct {
	Code      string
	MaxUses   *int64
	ExpiresAt *time.Time
}

// CreateCode attaches a single customer-facing code to a discount.
func (s *DiscountService) CreateCode(ctx context.Context, discountID int64, input *CreateCodeInput) (*domain.DiscountCode, error) {
	if _, err := s.discounts.GetByID(ctx, discountID); err != nil {
		return nil, fmt.Errorf("get discount for code: %w", err)
	}

	code := domain.NormalizeCode(input.Code)
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if err := validateCodeLimits(input); err != nil {
		return nil, err
	}

	codes := []domain.DiscountCode{newCode(discountID, code, input)}
	if err := s.codes.CreateCodes(ctx, codes); err != nil {
		return nil, fmt.Errorf("create discount code: %w", err)
	}

	s.logger.InfoContext(ctx, "discount code created",
		slog.Int64("discount_id", discountID),
		slog.String("code", code),
	)
	return &codes[0], nil
}

// GenerateCodes creates n random codes for a discount. Each code is the
// discount name's prefix followed by a random suffix, e.g. SUMMERSA-7KQ2M9XD.
func (s *DiscountService) GenerateCodes(ctx context.Context, discountID int64, n int, input *CreateCodeInput) ([]domain.DiscountCode, error) {
	if n <= 0 || n > maxGeneratedSet {
		return nil, apperrors.InvalidInput(fmt.Sprintf("generate must be between 1 and %d", maxGeneratedSet))
	}
	if err := validateCodeLimits(input); err != nil {
		return nil, err
	}

	d, err := s.discounts.GetByID(ctx, discountID)
	if err != nil {
		return nil, fmt.Errorf("get discount for codes: %w", err)
	}

	prefix := slug.CodePrefix(d.Name, codePrefixLen)
	seen := make(map[string]struct{}, n)
	codes := make([]domain.DiscountCode, 0, n)
	for len(codes) < n {
		suffix, err := randomSuffix(codeSuffixLen)
		if err != nil {
			return nil, fmt.Errorf("generate code suffix: %w", err)
		}
		code := suffix
		if prefix != "" {
			code = prefix + "-" + suffix
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, newCode(discountID, code, input))
	}

	if err := s.codes.CreateCodes(ctx, codes); err != nil {
		return nil, fmt.Errorf("create generated codes: %w", err)
	}

	s.logger.InfoContext(ctx, "discount codes generated",
		slog.Int64("discount_id", discountID),
		slog.Int("count", n),
		slog.String("prefix", prefix),
	)
	return codes, nil
}

// ListCodes returns the codes of a discount.
func (s *DiscountService) ListCodes(ctx context.Context, discountID int64) ([]domain.DiscountCode, error) {
	if _, err := s.discounts.GetByID(ctx, discountID); err != nil {
		return nil, fmt.Errorf("get discount for codes: %w", err)
	}
	codes, err := s.codes.ListByDiscount(ctx, discountID)
	if err != nil {
		return nil, fmt.Errorf("list discount codes: %w", err)
	}
	return codes, nil
}

func newCode(discountID int64, code string, input *CreateCodeInput) domain.DiscountCode {
	return domain.DiscountCode{
		DiscountID: discountID,
		Code:       code,
		MaxUses:    input.MaxUses,
		ExpiresAt:  input.ExpiresAt,
		Active:     true,
	}
}

func validateCode(code string) error {
	if code == "" {
		return apperrors.InvalidInput("code is required")
	}
	if len(code) > maxCodeLength {
		return apperrors.InvalidInput(fmt.Sprintf("code must be at most %d characters", maxCodeLength))
	}
	if !codePattern.MatchString(code) {
		return apperrors.InvalidInput("code may only contain letters, digits, '-' and '_'")
	}
	return nil
}

func validateCodeLimits(input *CreateCodeInput) error {
	if input.MaxUses != nil && *input.MaxUses <= 0 {
		return apperrors.InvalidInput("max_uses must be positive")
	}
	return nil
}

func randomSuffix(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}
