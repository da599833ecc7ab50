package sponsor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/models"
)

type Repository interface {
	GetByCode(ctx context.Context, code string) (*models.SponsorVoucher, error)
	// Claim marks the code used if it is still unused and reports whether
	// this call was the one that claimed it.
	Claim(ctx context.Context, tx pgx.Tx, code string) (bool, error)
}

type repository struct {
	conn driver.PostgresPool
}

func NewRepository(conn driver.PostgresPool) Repository {
	return &repository{conn: conn}
}

func (r *repository) GetByCode(ctx context.Context, code string) (*models.SponsorVoucher, error) {
	const query = `
    SELECT id, code, sponsor, discount_extra::float8, used, used_at
    FROM sponsor_vouchers
    WHERE code = @code
    `

	voucher := &models.SponsorVoucher{}
	if err := r.conn.QueryRow(ctx, query, pgx.NamedArgs{"code": code}).Scan(
		&voucher.ID,
		&voucher.Code,
		&voucher.Sponsor,
		&voucher.DiscountExtra,
		&voucher.Used,
		&voucher.UsedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sponsor code %s: %w", code, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get sponsor voucher: %w", err)
	}

	return voucher, nil
}

func (r *repository) Claim(ctx context.Context, tx pgx.Tx, code string) (bool, error) {
	const query = `
    UPDATE sponsor_vouchers
    SET used = TRUE, used_at = NOW()
    WHERE code = @code AND used = FALSE
    `

	tag, err := tx.Exec(ctx, query, pgx.NamedArgs{"code": code})
	if err != nil {
		return false, fmt.Errorf("failed to claim sponsor voucher: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
