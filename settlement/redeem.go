package settlement

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/voucher"
)

type Service interface {
	// Redeem consumes a voucher on the partner's PIN and releases the
	// partner share. A deferred payout still consumes the voucher.
	Redeem(ctx context.Context, code, pin string) (*models.RedemptionResult, error)
}

type service struct {
	repo    voucher.Repository
	tm      driver.Transactor
	settler *settler
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo voucher.Repository, gateway processor.Gateway, tm driver.Transactor, logger *zap.Logger) Service {
	return &service{
		repo:    repo,
		tm:      tm,
		settler: &settler{gateway: gateway, logger: logger},
		logger:  logger,
		now:     time.Now,
	}
}

func (s *service) Redeem(ctx context.Context, code, pin string) (*models.RedemptionResult, error) {
	code = models.NormalizeCode(code)
	pin = strings.TrimSpace(pin)
	if code == "" || pin == "" {
		return nil, apperrors.Validation("voucher code and PIN are required")
	}

	var (
		result    *models.RedemptionResult
		failure   *apperrors.SettlementError
		createdID string
		lockedRow *models.LockedVoucher
	)

	err := s.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		locked, err := s.repo.GetForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		lockedRow = locked

		if subtle.ConstantTimeCompare([]byte(locked.PartnerPIN), []byte(pin)) != 1 {
			s.logger.Warn("Redemption rejected, wrong PIN",
				zap.String("voucher_code", code),
				zap.String("partner_slug", locked.PartnerSlug))
			return apperrors.ErrUnauthorized
		}
		if locked.Status.Consumed() {
			return apperrors.ErrAlreadyConsumed
		}

		now := s.now()
		if locked.Expired(now) {
			return apperrors.ErrExpired
		}

		transfer, settlementErr := s.settler.transfer(ctx, locked)

		v := &locked.Voucher
		v.Status = enum.VoucherStatusUsed
		v.UsedAt = &now

		switch {
		case settlementErr == nil:
			createdID = transfer.ID
			v.TransferStatus = enum.TransferStatusSuccess
			v.StripeTransferID = transfer.ID
			v.TransferError = ""
		case deferrable(settlementErr):
			v.TransferStatus = enum.TransferStatusDeferred
			v.TransferError = settlementErr.Error()
			v.TransferAttempts++
		default:
			failure = settlementErr
			return settlementErr
		}

		if err = s.repo.MarkRedeemed(ctx, tx, v); err != nil {
			if settlementErr == nil {
				s.logger.Error("Transfer created but voucher update failed, the next attempt adopts it",
					zap.Error(err),
					zap.String("voucher_code", code),
					zap.String("transfer_id", transfer.ID))
			}
			return err
		}

		result = &models.RedemptionResult{
			Code:           v.Code,
			Status:         v.Status,
			TransferStatus: v.TransferStatus,
			UsedAt:         now,
			Deferred:       v.TransferStatus == enum.TransferStatusDeferred,
		}
		return nil
	})
	if err != nil {
		switch {
		case failure != nil:
			s.recordFailure(ctx, lockedRow.Code, failure.Error(), failure.Definitive)
		case createdID != "":
			s.recordFailure(ctx, lockedRow.Code, "transfer "+createdID+" created but not recorded", false)
		}
		return nil, err
	}

	if result.Deferred {
		s.logger.Warn("Voucher redeemed, partner payout deferred",
			zap.String("voucher_code", code),
			zap.String("partner_slug", lockedRow.PartnerSlug),
			zap.Int64("partner_share", lockedRow.PartnerShareAmount))
	} else {
		s.logger.Info("Voucher redeemed",
			zap.String("voucher_code", code),
			zap.String("partner_slug", lockedRow.PartnerSlug),
			zap.String("transfer_id", lockedRow.StripeTransferID))
	}

	return result, nil
}

// recordFailure stores a transfer problem after the redemption rolled back.
// The voucher status is left alone. The attempt counter only moves when the
// processor's answer was definitive. Any recorded message makes the next
// attempt check Stripe for an existing transfer first.
func (s *service) recordFailure(ctx context.Context, code, message string, definitive bool) {
	ctx = context.WithoutCancel(ctx)
	if err := s.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.repo.RecordTransferFailure(ctx, tx, code, message, definitive)
	}); err != nil {
		s.logger.Error("Failed to record transfer failure",
			zap.Error(err),
			zap.String("voucher_code", code))
	}
}
