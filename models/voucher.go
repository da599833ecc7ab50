package models

import (
	"time"

	"goflare.io/voucherhub/models/enum"
)

type Voucher struct {
	ID                    int64               `json:"id"`
	Code                  string              `json:"code"`
	PartnerSlug           string              `json:"partner_slug"`
	ProductName           string              `json:"product_name"`
	Email                 string              `json:"email"`
	AmountCharged         int64               `json:"amount_charged"`
	Currency              string              `json:"currency"`
	StripeSessionID       string              `json:"stripe_session_id"`
	StripePaymentIntentID string              `json:"stripe_payment_intent_id"`
	StripeChargeID        string              `json:"stripe_charge_id"`
	Status                enum.VoucherStatus  `json:"status"`
	PlatformFeeAmount     int64               `json:"platform_fee_amount"`
	PartnerShareAmount    int64               `json:"partner_share_amount"`
	SponsorCode           string              `json:"sponsor_code,omitempty"`
	SponsorConflict       bool                `json:"sponsor_conflict"`
	ExpiresAt             time.Time           `json:"expires_at"`
	UsedAt                *time.Time          `json:"used_at,omitempty"`
	TransferStatus        enum.TransferStatus `json:"transfer_status"`
	StripeTransferID      string              `json:"stripe_transfer_id,omitempty"`
	TransferError         string              `json:"transfer_error,omitempty"`
	TransferAttempts      int                 `json:"transfer_attempts"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

func NewVoucher() *Voucher {
	return &Voucher{}
}

func (v *Voucher) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// LockedVoucher is a voucher row read under FOR UPDATE together with the
// owning partner's redemption credentials.
type LockedVoucher struct {
	Voucher
	PartnerPIN      string
	PartnerName     string
	StripeAccountID string
}

// VoucherStatusReport is the PIN-less view of a voucher.
type VoucherStatusReport struct {
	Code        string           `json:"code"`
	Status      enum.CheckStatus `json:"status"`
	PartnerSlug string           `json:"partner_slug,omitempty"`
	ProductName string           `json:"product_name,omitempty"`
}

// RedemptionResult is returned to the partner after a successful redemption.
// Deferred means the voucher is consumed but the payout is still pending.
type RedemptionResult struct {
	Code           string              `json:"code"`
	Status         enum.VoucherStatus  `json:"status"`
	TransferStatus enum.TransferStatus `json:"transfer_status"`
	UsedAt         time.Time           `json:"used_at"`
	Deferred       bool                `json:"deferred"`
}
