// Package settlement redeems vouchers and moves the partner's share out of
// platform escrow.
package settlement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/processor"
)

// IdempotencyKey names one transfer attempt for a voucher. The attempt
// number only advances after the processor definitively refused a transfer,
// so retrying an unknown outcome replays the same request.
func IdempotencyKey(code string, attempt int) string {
	return fmt.Sprintf("voucher-%s-transfer-%d", code, attempt)
}

// transferLookupSlack widens the created filter of the transfer lookup to
// absorb clock drift between the database and Stripe.
const transferLookupSlack = time.Hour

func transferGroup(partnerSlug string) string {
	return "partner_" + partnerSlug
}

type settler struct {
	gateway processor.Gateway
	logger  *zap.Logger
}

// transfer pays the partner share of a locked voucher.
func (s *settler) transfer(ctx context.Context, v *models.LockedVoucher) (*stripe.Transfer, *apperrors.SettlementError) {
	if v.StripeAccountID == "" {
		s.logger.Error("Partner has no payout account",
			zap.String("voucher_code", v.Code),
			zap.String("partner_slug", v.PartnerSlug))
		return nil, &apperrors.SettlementError{
			Code: "missing_payout_account",
			Err:  fmt.Errorf("partner %s has no payout account", v.PartnerSlug),
		}
	}

	// Idempotency keys expire after a day, so a transfer whose outcome was
	// never confirmed is looked up in Stripe before anything is sent again.
	if v.TransferError != "" {
		existing, lookupErr := s.findExisting(ctx, v)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			return existing, nil
		}
	}

	if v.StripeChargeID == "" && v.StripePaymentIntentID != "" {
		chargeID, err := s.gateway.LatestChargeID(ctx, v.StripePaymentIntentID)
		if err != nil {
			s.logger.Error("Failed to resolve charge for transfer",
				zap.Error(err),
				zap.String("voucher_code", v.Code),
				zap.String("payment_intent_id", v.StripePaymentIntentID))
			return nil, &apperrors.SettlementError{Code: "charge_lookup_failed", Err: err}
		}
		v.StripeChargeID = chargeID
	}

	transfer, err := s.gateway.CreateTransfer(ctx, &processor.TransferRequest{
		Amount:             v.PartnerShareAmount,
		Currency:           v.Currency,
		DestinationAccount: v.StripeAccountID,
		SourceChargeID:     v.StripeChargeID,
		TransferGroup:      transferGroup(v.PartnerSlug),
		IdempotencyKey:     IdempotencyKey(v.Code, v.TransferAttempts),
		Metadata: map[string]string{
			"voucher_code":  v.Code,
			"partner_slug":  v.PartnerSlug,
			"platform_fee":  strconv.FormatInt(v.PlatformFeeAmount, 10),
			"partner_share": strconv.FormatInt(v.PartnerShareAmount, 10),
		},
	})
	if err != nil {
		settlementErr := processor.ClassifyTransferError(err)
		s.logger.Error("Transfer to partner failed",
			zap.Error(err),
			zap.String("voucher_code", v.Code),
			zap.String("partner_slug", v.PartnerSlug),
			zap.String("destination", v.StripeAccountID),
			zap.Int64("amount", v.PartnerShareAmount),
			zap.String("stripe_code", settlementErr.Code),
			zap.Bool("retryable", settlementErr.Retryable),
			zap.Bool("definitive", settlementErr.Definitive),
			zap.Int("attempt", v.TransferAttempts))
		return nil, settlementErr
	}

	s.logger.Info("Transfer to partner created",
		zap.String("voucher_code", v.Code),
		zap.String("transfer_id", transfer.ID),
		zap.String("destination", v.StripeAccountID),
		zap.Int64("amount", v.PartnerShareAmount))

	return transfer, nil
}

func (s *settler) findExisting(ctx context.Context, v *models.LockedVoucher) (*stripe.Transfer, *apperrors.SettlementError) {
	query := &processor.TransferQuery{
		DestinationAccount: v.StripeAccountID,
		TransferGroup:      transferGroup(v.PartnerSlug),
		VoucherCode:        v.Code,
	}
	if !v.CreatedAt.IsZero() {
		query.CreatedSince = v.CreatedAt.Add(-transferLookupSlack)
	}

	existing, err := s.gateway.FindTransfer(ctx, query)
	if err != nil {
		s.logger.Error("Failed to look up earlier transfers",
			zap.Error(err),
			zap.String("voucher_code", v.Code),
			zap.String("destination", v.StripeAccountID))
		return nil, &apperrors.SettlementError{Code: "transfer_lookup_failed", Err: err}
	}
	if existing != nil {
		s.logger.Warn("Found a transfer from an earlier attempt, adopting it",
			zap.String("voucher_code", v.Code),
			zap.String("transfer_id", existing.ID),
			zap.String("previous_error", v.TransferError),
			zap.Int64("amount", existing.Amount))
	}

	return existing, nil
}

// deferrable reports whether a failure should consume the voucher and leave
// the payout to the sweeper.
func deferrable(err *apperrors.SettlementError) bool {
	return err.Retryable && err.Definitive
}
