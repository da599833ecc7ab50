package sponsor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/models"
)

type Service interface {
	// Validate checks that code can be applied to a new checkout. It does not
	// consume the code: the checkout may be abandoned.
	Validate(ctx context.Context, code string) (discountPercent float64, sponsorName string, err error)
	// Claim consumes the code once payment is confirmed. A false result means
	// another purchase claimed it first.
	Claim(ctx context.Context, tx pgx.Tx, code string) (bool, error)
}

type service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) Service {
	return &service{
		repo:   repo,
		logger: logger,
	}
}

func (s *service) Validate(ctx context.Context, code string) (float64, string, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return 0, "", fmt.Errorf("empty sponsor code: %w", apperrors.ErrNotFound)
	}

	voucher, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return 0, "", err
	}

	if voucher.Used {
		return 0, "", fmt.Errorf("sponsor code %s: %w", code, apperrors.ErrAlreadyUsed)
	}

	if voucher.DiscountExtra <= 0 {
		return 0, "", fmt.Errorf("sponsor code %s: %w", code, apperrors.ErrNoActiveDiscount)
	}

	return voucher.DiscountExtra, voucher.Sponsor, nil
}

func (s *service) Claim(ctx context.Context, tx pgx.Tx, code string) (bool, error) {
	code = models.NormalizeCode(code)

	claimed, err := s.repo.Claim(ctx, tx, code)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.Warn("Sponsor code was already claimed", zap.String("sponsor_code", code))
	}

	return claimed, nil
}
