// Package voucherhub sells partner experiences as vouchers. Buyers pay through
// Stripe checkout, the money stays with the platform, and the partner share is
// transferred when the partner redeems the voucher with their PIN.
package voucherhub

import (
	"context"

	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/settlement"
)

type VoucherHub interface {
	CreateCheckoutSession(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutSession, error) // Interacts with Stripe
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error                         // Interacts with Stripe

	RedeemVoucher(ctx context.Context, code, pin string) (*models.RedemptionResult, error) // Interacts with Stripe
	CheckVoucher(ctx context.Context, code string) (*models.VoucherStatusReport, error)
	SweepDeferredTransfers(ctx context.Context) (*settlement.SweepReport, error) // Interacts with Stripe
	ReconcileEvents(ctx context.Context) (*ReconcileReport, error)               // Interacts with Stripe

	Close()
}
