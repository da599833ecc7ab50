// Package split computes how a purchase price divides between the platform
// fee and the partner payout.
package split

import (
	"math"

	"goflare.io/voucherhub/apperrors"
)

const (
	// BasePlatformRate is the platform's share of the partner-discounted price.
	BasePlatformRate = 0.18

	basisPoints     = 10000
	basePlatformBps = 1800
	// MinPlatformFee is the smallest fee the processor accepts.
	MinPlatformFee = 1
)

type Result struct {
	AmountToCharge     int64 `json:"amount_to_charge"`
	PlatformFeeAmount  int64 `json:"platform_fee_amount"`
	PartnerShareAmount int64 `json:"partner_share_amount"`
}

// Calculate splits chargeAmount (smallest currency unit, already reflecting the
// partner's standing discount). A positive extraDiscountPercent compounds a
// sponsor discount on top and is absorbed by the platform margin, so the
// partner share does not change.
func Calculate(chargeAmount int64, extraDiscountPercent float64) (Result, error) {
	if chargeAmount <= 0 {
		return Result{}, apperrors.Validation("charge amount must be positive, got %d", chargeAmount)
	}
	if extraDiscountPercent < 0 || extraDiscountPercent > 100 || math.IsNaN(extraDiscountPercent) {
		return Result{}, apperrors.Validation("extra discount must be within (0, 100], got %v", extraDiscountPercent)
	}

	discountBps := int64(math.Round(extraDiscountPercent * 100))
	if discountBps >= basePlatformBps {
		return Result{}, apperrors.ErrDiscountExceedsMargin
	}

	result := Result{
		AmountToCharge:    roundRatio(chargeAmount, basisPoints-discountBps),
		PlatformFeeAmount: roundRatio(chargeAmount, basePlatformBps-discountBps),
	}
	if result.PlatformFeeAmount < MinPlatformFee {
		result.PlatformFeeAmount = MinPlatformFee
	}
	result.PartnerShareAmount = result.AmountToCharge - result.PlatformFeeAmount

	if result.PartnerShareAmount <= 0 {
		return Result{}, apperrors.Validation("charge amount %d too small to pay the partner", chargeAmount)
	}

	return result, nil
}

// roundRatio returns round(amount * bps / 10000) rounding halves up.
func roundRatio(amount, bps int64) int64 {
	return (amount*bps + basisPoints/2) / basisPoints
}

// Balanced reports whether fee and share add up to the charged amount within
// the one-unit rounding tolerance.
func Balanced(amountCharged, fee, share int64) bool {
	diff := amountCharged - fee - share
	return diff >= -1 && diff <= 1
}
