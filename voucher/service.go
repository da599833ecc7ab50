package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
	"goflare.io/voucherhub/notifier"
	"goflare.io/voucherhub/partner"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/split"
	"goflare.io/voucherhub/sponsor"
)

const codeAttempts = 5

type Service interface {
	// Issue turns a paid checkout into an active voucher. A redelivered
	// confirmation returns ErrDuplicateEvent and issues nothing.
	Issue(ctx context.Context, completed *models.CompletedCheckout) (*models.Voucher, error)
	// Check reports a voucher's state without touching it.
	Check(ctx context.Context, code string) (*models.VoucherStatusReport, error)
}

type service struct {
	repo     Repository
	partner  partner.Service
	sponsor  sponsor.Service
	gateway  processor.Gateway
	notifier notifier.Notifier
	tm       driver.Transactor
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	partner partner.Service,
	sponsor sponsor.Service,
	gateway processor.Gateway,
	notifier notifier.Notifier,
	tm driver.Transactor,
	logger *zap.Logger,
) Service {
	return &service{
		repo:     repo,
		partner:  partner,
		sponsor:  sponsor,
		gateway:  gateway,
		notifier: notifier,
		tm:       tm,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *service) Issue(ctx context.Context, completed *models.CompletedCheckout) (*models.Voucher, error) {
	if completed == nil || completed.SessionID == "" {
		return nil, apperrors.Validation("missing checkout session id")
	}

	exists, err := s.repo.ExistsBySession(ctx, completed.SessionID)
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.Info("Voucher already issued for session", zap.String("session_id", completed.SessionID))
		return nil, fmt.Errorf("session %s: %w", completed.SessionID, apperrors.ErrDuplicateEvent)
	}

	meta, err := models.ParseCheckoutMetadata(completed.Metadata)
	if err != nil {
		s.logger.Error("Rejected checkout metadata", zap.Error(err), zap.String("session_id", completed.SessionID))
		return nil, err
	}

	partnerModel, err := s.partner.GetBySlug(ctx, meta.PartnerSlug)
	if err != nil {
		return nil, err
	}

	email := meta.Email
	if email == "" {
		email = strings.TrimSpace(completed.CustomerEmail)
	}
	if email == "" {
		return nil, apperrors.Validation("checkout session %s has no buyer email", completed.SessionID)
	}

	fee, share, err := s.settleSplit(completed, meta)
	if err != nil {
		return nil, err
	}

	var chargeID string
	if completed.PaymentIntentID != "" {
		chargeID, err = s.gateway.LatestChargeID(ctx, completed.PaymentIntentID)
		if err != nil {
			s.logger.Warn("Failed to resolve charge for payment intent, transfer will not reference it",
				zap.Error(err),
				zap.String("payment_intent_id", completed.PaymentIntentID))
			chargeID = ""
		}
	}

	now := s.now()
	voucher := models.NewVoucher()
	voucher.PartnerSlug = partnerModel.Slug
	voucher.ProductName = meta.ProductName
	voucher.Email = email
	voucher.AmountCharged = completed.AmountTotal
	voucher.Currency = strings.ToLower(completed.Currency)
	voucher.StripeSessionID = completed.SessionID
	voucher.StripePaymentIntentID = completed.PaymentIntentID
	voucher.StripeChargeID = chargeID
	voucher.Status = enum.VoucherStatusActive
	voucher.TransferStatus = enum.TransferStatusPending
	voucher.PlatformFeeAmount = fee
	voucher.PartnerShareAmount = share
	voucher.SponsorCode = meta.SponsorCode
	voucher.ExpiresAt = now.AddDate(0, 0, partnerModel.ValidityDays())

	if err = s.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		voucher.SponsorConflict = false
		if meta.SponsorCode != "" {
			claimed, err := s.sponsor.Claim(ctx, tx, meta.SponsorCode)
			if err != nil {
				return err
			}
			if !claimed {
				voucher.SponsorConflict = true
			}
		}

		return retry.Do(
			func() error {
				code, err := GenerateCode()
				if err != nil {
					return err
				}
				voucher.Code = code
				return s.repo.Create(ctx, tx, voucher)
			},
			retry.RetryIf(func(err error) bool {
				return errors.Is(err, ErrCodeCollision)
			}),
			retry.Attempts(codeAttempts),
			retry.DelayType(retry.FixedDelay),
			retry.Delay(0),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		)
	}); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateEvent) {
			s.logger.Info("Concurrent delivery already issued voucher", zap.String("session_id", completed.SessionID))
			return nil, err
		}
		s.logger.Error("Failed to issue voucher",
			zap.Error(err),
			zap.String("session_id", completed.SessionID),
			zap.String("partner_slug", partnerModel.Slug))
		return nil, fmt.Errorf("failed to issue voucher: %w", err)
	}

	if voucher.SponsorConflict {
		s.logger.Error("Sponsor code was already claimed, buyer was charged the discounted price; compensation required",
			zap.String("voucher_code", voucher.Code),
			zap.String("sponsor_code", meta.SponsorCode),
			zap.String("session_id", completed.SessionID),
			zap.Int64("amount_charged", voucher.AmountCharged))
	}

	s.logger.Info("Voucher issued",
		zap.String("voucher_code", voucher.Code),
		zap.String("partner_slug", voucher.PartnerSlug),
		zap.String("session_id", voucher.StripeSessionID),
		zap.Int64("amount_charged", voucher.AmountCharged),
		zap.Int64("platform_fee", voucher.PlatformFeeAmount),
		zap.Int64("partner_share", voucher.PartnerShareAmount),
		zap.Time("expires_at", voucher.ExpiresAt))

	s.notify(ctx, voucher, partnerModel, meta)

	return voucher, nil
}

// settleSplit takes the fee quoted at checkout and derives the share from the
// amount actually charged, so the stored split always balances.
func (s *service) settleSplit(completed *models.CompletedCheckout, meta *models.CheckoutMetadata) (int64, int64, error) {
	amount := completed.AmountTotal
	if amount <= 0 {
		return 0, 0, apperrors.Validation("checkout session %s has no amount", completed.SessionID)
	}

	expected, err := split.Calculate(meta.BaseAmount, meta.ExtraDiscount)
	if err != nil {
		return 0, 0, err
	}

	fee := meta.PlatformFee
	if fee == 0 {
		fee = expected.PlatformFeeAmount
	}

	if expected.AmountToCharge != amount || expected.PlatformFeeAmount != fee {
		s.logger.Warn("Checkout split diverges from recomputation",
			zap.String("session_id", completed.SessionID),
			zap.Int64("amount_charged", amount),
			zap.Int64("expected_amount", expected.AmountToCharge),
			zap.Int64("platform_fee", fee),
			zap.Int64("expected_fee", expected.PlatformFeeAmount))
	}

	share := amount - fee
	if share <= 0 {
		return 0, 0, apperrors.Validation("checkout session %s leaves no partner share", completed.SessionID)
	}
	if meta.PartnerShare != 0 && meta.PartnerShare != share {
		s.logger.Warn("Partner share in checkout metadata does not match charged amount",
			zap.String("session_id", completed.SessionID),
			zap.Int64("metadata_share", meta.PartnerShare),
			zap.Int64("partner_share", share))
	}

	return fee, share, nil
}

func (s *service) notify(ctx context.Context, voucher *models.Voucher, partner *models.Partner, meta *models.CheckoutMetadata) {
	subject, html, err := renderBuyerEmail(voucher, partner, meta)
	if err != nil {
		s.logger.Error("Failed to render voucher email", zap.Error(err), zap.String("voucher_code", voucher.Code))
		return
	}

	if err = s.notifier.Send(ctx, voucher.Email, subject, html); err != nil {
		s.logger.Error("Failed to send voucher email",
			zap.Error(err),
			zap.String("voucher_code", voucher.Code),
			zap.String("email", voucher.Email))
	}
}

func (s *service) Check(ctx context.Context, code string) (*models.VoucherStatusReport, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return nil, apperrors.Validation("voucher code is required")
	}

	report := &models.VoucherStatusReport{Code: code}

	voucher, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			report.Status = enum.CheckStatusNotFound
			return report, nil
		}
		return nil, err
	}

	switch {
	case voucher.Status.Consumed():
		report.Status = enum.CheckStatusUsed
	case voucher.Expired(s.now()):
		report.Status = enum.CheckStatusExpired
	default:
		report.Status = enum.CheckStatusValid
		report.PartnerSlug = voucher.PartnerSlug
		report.ProductName = voucher.ProductName
	}

	return report, nil
}
