package partner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/models"
)

type Service interface {
	GetBySlug(ctx context.Context, slug string) (*models.Partner, error)
	// EnsureStock fails with ErrOutOfStock when the offer has a stock limit
	// that issued vouchers already reached.
	EnsureStock(ctx context.Context, slug, offerTitle string) error
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

func (s *service) GetBySlug(ctx context.Context, slug string) (*models.Partner, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, apperrors.Validation("partner slug is required")
	}
	return s.repo.GetBySlug(ctx, slug)
}

func (s *service) EnsureStock(ctx context.Context, slug, offerTitle string) error {
	inventory, err := s.repo.GetInventory(ctx, slug, offerTitle)
	if err != nil {
		return err
	}
	if inventory == nil || inventory.StockLimit == nil {
		return nil
	}

	issued, err := s.repo.CountIssued(ctx, slug, offerTitle)
	if err != nil {
		return err
	}

	if issued >= *inventory.StockLimit {
		s.logger.Info("Offer sold out",
			zap.String("partner_slug", slug),
			zap.String("offer_title", offerTitle),
			zap.Int64("stock_limit", *inventory.StockLimit))
		return fmt.Errorf("%s / %s: %w", slug, offerTitle, apperrors.ErrOutOfStock)
	}

	return nil
}
