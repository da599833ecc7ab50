package partner

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/ember"
	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/models"
)

type Repository interface {
	GetBySlug(ctx context.Context, slug string) (*models.Partner, error)
	GetInventory(ctx context.Context, slug, offerTitle string) (*models.OfferInventory, error)
	CountIssued(ctx context.Context, slug, offerTitle string) (int64, error)
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
	cache  *ember.MultiCache
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger, cache *ember.MultiCache) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
		cache:  cache,
	}
}

// GetBySlug is served from cache when possible. The PIN is not serialized
// into the cache, and the redemption path never uses this method: PINs and
// payout accounts are re-read under the voucher row lock.
func (r *repository) GetBySlug(ctx context.Context, slug string) (*models.Partner, error) {
	cacheKey := fmt.Sprintf("partner:%s", slug)

	partner := models.NewPartner()
	found, err := r.cache.Get(ctx, cacheKey, partner)
	if err != nil {
		r.logger.Warn("Failed to get partner from cache", zap.Error(err), zap.String("slug", slug))
	} else if found {
		return partner, nil
	}

	const query = `
    SELECT id, slug, name, COALESCE(email, ''), stripe_account_id, pin,
           COALESCE(voucher_validity_days, 0), COALESCE(discount_percent, 0), created_at
    FROM partners
    WHERE slug = @slug
    `

	if err = r.conn.QueryRow(ctx, query, pgx.NamedArgs{"slug": slug}).Scan(
		&partner.ID,
		&partner.Slug,
		&partner.Name,
		&partner.Email,
		&partner.StripeAccountID,
		&partner.PIN,
		&partner.VoucherValidityDays,
		&partner.DiscountPercent,
		&partner.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("partner %s: %w", slug, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}

	if err = r.cache.Set(ctx, cacheKey, partner); err != nil {
		r.logger.Warn("Failed to cache partner", zap.Error(err), zap.String("slug", slug))
	}

	return partner, nil
}

func (r *repository) GetInventory(ctx context.Context, slug, offerTitle string) (*models.OfferInventory, error) {
	const query = `
    SELECT partner_slug, offer_title, stock_limit
    FROM offer_inventory
    WHERE partner_slug = @slug AND offer_title = @offer_title
    `

	inventory := &models.OfferInventory{}
	if err := r.conn.QueryRow(ctx, query, pgx.NamedArgs{
		"slug":        slug,
		"offer_title": offerTitle,
	}).Scan(&inventory.PartnerSlug, &inventory.OfferTitle, &inventory.StockLimit); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get offer inventory: %w", err)
	}

	return inventory, nil
}

func (r *repository) CountIssued(ctx context.Context, slug, offerTitle string) (int64, error) {
	const query = `
    SELECT COUNT(*)
    FROM vouchers
    WHERE partner_slug = @slug AND product_name = @offer_title
    `

	var count int64
	if err := r.conn.QueryRow(ctx, query, pgx.NamedArgs{
		"slug":        slug,
		"offer_title": offerTitle,
	}).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count issued vouchers: %w", err)
	}

	return count, nil
}
