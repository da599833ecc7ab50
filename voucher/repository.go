package voucher

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/ignite"
	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
)

// ErrCodeCollision is returned by Create when the generated code is taken.
var ErrCodeCollision = errors.New("voucher code collision")

type Repository interface {
	// Create inserts an active voucher. It returns ErrDuplicateEvent when the
	// checkout session already produced a voucher and ErrCodeCollision when
	// the code is taken; neither aborts tx.
	Create(ctx context.Context, tx pgx.Tx, voucher *models.Voucher) error
	ExistsBySession(ctx context.Context, sessionID string) (bool, error)
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) ([]*models.Voucher, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Voucher, error)
	ListSponsorConflicts(ctx context.Context) ([]*models.Voucher, error)
	// ListDeferred pages through vouchers waiting for a payout, oldest
	// redemption first. after is the last voucher of the previous page, nil
	// for the first one.
	ListDeferred(ctx context.Context, after *models.Voucher, limit int) ([]*models.Voucher, error)

	// GetForUpdate locks the voucher row and reads the owning partner's
	// redemption credentials in the same statement.
	GetForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.LockedVoucher, error)
	MarkRedeemed(ctx context.Context, tx pgx.Tx, voucher *models.Voucher) error
	MarkTransferSucceeded(ctx context.Context, tx pgx.Tx, code, transferID string) error
	// RecordTransferFailure stores the last processor error. bumpAttempt
	// advances the attempt counter so the next try uses a fresh idempotency key.
	RecordTransferFailure(ctx context.Context, tx pgx.Tx, code, message string, bumpAttempt bool) error
}

const voucherColumns = `
    v.id, v.code, v.partner_slug, v.product_name, v.email, v.amount_cents, v.currency,
    v.stripe_session_id, v.stripe_payment_intent_id, v.stripe_charge_id, v.status,
    v.platform_fee_cents, v.partner_share_cents, v.sponsor_code, v.sponsor_conflict,
    v.expires_at, v.used_at, v.transfer_status, v.stripe_transfer_id, v.transfer_error_msg,
    v.transfer_attempts, v.created_at, v.updated_at`

type repository struct {
	conn        driver.PostgresPool
	logger      *zap.Logger
	poolManager ignite.Manager
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger, poolManager ignite.Manager) (Repository, error) {

	if err := poolManager.RegisterPool(reflect.TypeOf(&models.Voucher{}), ignite.Config[any]{
		InitialSize: 10,
		MaxSize:     100,
		MaxIdleTime: 10 * time.Minute,
		Factory:     func() (any, error) { return models.NewVoucher(), nil },
		Reset:       func(obj any) error { *obj.(*models.Voucher) = models.Voucher{}; return nil },
	}); err != nil {
		return nil, fmt.Errorf("failed to register voucher pool: %w", err)
	}

	return &repository{
		conn:        conn,
		logger:      logger,
		poolManager: poolManager,
	}, nil
}

func (r *repository) getFromPool(ctx context.Context) (*models.Voucher, func(), error) {
	pool, err := r.poolManager.GetPool(reflect.TypeOf(&models.Voucher{}))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get pool: %w", err)
	}

	objWrapper, err := pool.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object from pool: %w", err)
	}

	return objWrapper.Object.(*models.Voucher), func() { pool.Put(objWrapper) }, nil
}

func scanVoucher(row pgx.Row, v *models.Voucher, extra ...any) error {
	dest := []any{
		&v.ID, &v.Code, &v.PartnerSlug, &v.ProductName, &v.Email, &v.AmountCharged, &v.Currency,
		&v.StripeSessionID, &v.StripePaymentIntentID, &v.StripeChargeID, &v.Status,
		&v.PlatformFeeAmount, &v.PartnerShareAmount, &v.SponsorCode, &v.SponsorConflict,
		&v.ExpiresAt, &v.UsedAt, &v.TransferStatus, &v.StripeTransferID, &v.TransferError,
		&v.TransferAttempts, &v.CreatedAt, &v.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

func (r *repository) Create(ctx context.Context, tx pgx.Tx, voucher *models.Voucher) error {
	const query = `
    INSERT INTO vouchers (
        code, partner_slug, product_name, email, amount_cents, currency,
        stripe_session_id, stripe_payment_intent_id, stripe_charge_id, status,
        platform_fee_cents, partner_share_cents, sponsor_code, sponsor_conflict,
        expires_at, transfer_status
    ) VALUES (
        @code, @partner_slug, @product_name, @email, @amount, @currency,
        @session_id, @payment_intent_id, @charge_id, @status,
        @platform_fee, @partner_share, @sponsor_code, @sponsor_conflict,
        @expires_at, @transfer_status
    )
    ON CONFLICT DO NOTHING
    RETURNING id, created_at, updated_at
    `

	err := tx.QueryRow(ctx, query, pgx.NamedArgs{
		"code":              voucher.Code,
		"partner_slug":      voucher.PartnerSlug,
		"product_name":      voucher.ProductName,
		"email":             voucher.Email,
		"amount":            voucher.AmountCharged,
		"currency":          voucher.Currency,
		"session_id":        voucher.StripeSessionID,
		"payment_intent_id": voucher.StripePaymentIntentID,
		"charge_id":         voucher.StripeChargeID,
		"status":            voucher.Status,
		"platform_fee":      voucher.PlatformFeeAmount,
		"partner_share":     voucher.PartnerShareAmount,
		"sponsor_code":      voucher.SponsorCode,
		"sponsor_conflict":  voucher.SponsorConflict,
		"expires_at":        voucher.ExpiresAt,
		"transfer_status":   voucher.TransferStatus,
	}).Scan(&voucher.ID, &voucher.CreatedAt, &voucher.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to create voucher: %w", err)
	}

	const sessionQuery = `SELECT EXISTS (SELECT 1 FROM vouchers WHERE stripe_session_id = @session_id)`

	var duplicate bool
	if err = tx.QueryRow(ctx, sessionQuery, pgx.NamedArgs{"session_id": voucher.StripeSessionID}).Scan(&duplicate); err != nil {
		return fmt.Errorf("failed to check voucher session: %w", err)
	}
	if duplicate {
		return fmt.Errorf("session %s: %w", voucher.StripeSessionID, apperrors.ErrDuplicateEvent)
	}

	return ErrCodeCollision
}

func (r *repository) ExistsBySession(ctx context.Context, sessionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM vouchers WHERE stripe_session_id = @session_id)`

	var exists bool
	if err := r.conn.QueryRow(ctx, query, pgx.NamedArgs{"session_id": sessionID}).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check voucher session: %w", err)
	}

	return exists, nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers v WHERE v.code = @code`

	voucher := models.NewVoucher()
	if err := scanVoucher(r.conn.QueryRow(ctx, query, pgx.NamedArgs{"code": code}), voucher); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("voucher %s: %w", code, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}

	return voucher, nil
}

func (r *repository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) ([]*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
    FROM vouchers v
    WHERE v.stripe_payment_intent_id = @payment_intent_id
    ORDER BY v.created_at DESC`

	return r.list(ctx, query, pgx.NamedArgs{"payment_intent_id": paymentIntentID})
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
    FROM vouchers v
    ORDER BY v.created_at DESC
    LIMIT @limit`

	return r.list(ctx, query, pgx.NamedArgs{"limit": limit})
}

func (r *repository) ListSponsorConflicts(ctx context.Context) ([]*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
    FROM vouchers v
    WHERE v.sponsor_conflict
    ORDER BY v.created_at`

	return r.list(ctx, query, pgx.NamedArgs{})
}

func (r *repository) ListDeferred(ctx context.Context, after *models.Voucher, limit int) ([]*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
    FROM vouchers v
    WHERE v.transfer_status = @transfer_status
      AND (@first::boolean
           OR (COALESCE(v.used_at, '-infinity'::timestamptz), v.id) >
              (COALESCE(@after_used_at::timestamptz, '-infinity'::timestamptz), @after_id::bigint))
    ORDER BY COALESCE(v.used_at, '-infinity'::timestamptz), v.id
    LIMIT @limit`

	args := pgx.NamedArgs{
		"transfer_status": enum.TransferStatusDeferred,
		"first":           after == nil,
		"after_used_at":   nil,
		"after_id":        int64(0),
		"limit":           limit,
	}
	if after != nil {
		args["after_used_at"] = after.UsedAt
		args["after_id"] = after.ID
	}

	return r.list(ctx, query, args)
}

// list scans through a pooled buffer and hands out copies, so callers never
// hold an object that went back to the pool.
func (r *repository) list(ctx context.Context, query string, args pgx.NamedArgs) ([]*models.Voucher, error) {
	rows, err := r.conn.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	defer rows.Close()

	buffer, release, err := r.getFromPool(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vouchers := make([]*models.Voucher, 0)
	for rows.Next() {
		*buffer = models.Voucher{}
		if err = scanVoucher(rows, buffer); err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		voucher := *buffer
		vouchers = append(vouchers, &voucher)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}

	return vouchers, nil
}

func (r *repository) GetForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.LockedVoucher, error) {
	query := `SELECT ` + voucherColumns + `, p.pin, p.name, COALESCE(p.stripe_account_id, '')
    FROM vouchers v
    JOIN partners p ON p.slug = v.partner_slug
    WHERE v.code = @code
    FOR UPDATE OF v`

	locked := &models.LockedVoucher{}
	if err := scanVoucher(tx.QueryRow(ctx, query, pgx.NamedArgs{"code": code}), &locked.Voucher,
		&locked.PartnerPIN, &locked.PartnerName, &locked.StripeAccountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("voucher %s: %w", code, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock voucher: %w", err)
	}

	return locked, nil
}

func (r *repository) MarkRedeemed(ctx context.Context, tx pgx.Tx, voucher *models.Voucher) error {
	const query = `
    UPDATE vouchers
    SET status = @status,
        used_at = @used_at,
        transfer_status = @transfer_status,
        stripe_transfer_id = @transfer_id,
        transfer_error_msg = @transfer_error,
        transfer_attempts = @transfer_attempts,
        stripe_charge_id = COALESCE(NULLIF(@charge_id, ''), stripe_charge_id),
        updated_at = NOW()
    WHERE code = @code AND status = @active
    `

	tag, err := tx.Exec(ctx, query, pgx.NamedArgs{
		"code":              voucher.Code,
		"status":            voucher.Status,
		"used_at":           voucher.UsedAt,
		"transfer_status":   voucher.TransferStatus,
		"transfer_id":       voucher.StripeTransferID,
		"transfer_error":    voucher.TransferError,
		"transfer_attempts": voucher.TransferAttempts,
		"charge_id":         voucher.StripeChargeID,
		"active":            enum.VoucherStatusActive,
	})
	if err != nil {
		return fmt.Errorf("failed to mark voucher redeemed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("voucher %s: %w", voucher.Code, apperrors.ErrAlreadyConsumed)
	}

	return nil
}

func (r *repository) MarkTransferSucceeded(ctx context.Context, tx pgx.Tx, code, transferID string) error {
	const query = `
    UPDATE vouchers
    SET transfer_status = @success,
        stripe_transfer_id = @transfer_id,
        transfer_error_msg = '',
        updated_at = NOW()
    WHERE code = @code AND transfer_status = @deferred
    `

	tag, err := tx.Exec(ctx, query, pgx.NamedArgs{
		"code":        code,
		"transfer_id": transferID,
		"success":     enum.TransferStatusSuccess,
		"deferred":    enum.TransferStatusDeferred,
	})
	if err != nil {
		return fmt.Errorf("failed to mark transfer succeeded: %w", err)
	}
	if tag.RowsAffected() != 1 {
		r.logger.Warn("Deferred transfer already settled", zap.String("voucher_code", code))
	}

	return nil
}

func (r *repository) RecordTransferFailure(ctx context.Context, tx pgx.Tx, code, message string, bumpAttempt bool) error {
	const query = `
    UPDATE vouchers
    SET transfer_error_msg = @message,
        transfer_attempts = transfer_attempts + CASE WHEN @bump::boolean THEN 1 ELSE 0 END,
        updated_at = NOW()
    WHERE code = @code
    `

	if _, err := tx.Exec(ctx, query, pgx.NamedArgs{
		"code":    code,
		"message": message,
		"bump":    bumpAttempt,
	}); err != nil {
		return fmt.Errorf("failed to record transfer failure: %w", err)
	}

	return nil
}
