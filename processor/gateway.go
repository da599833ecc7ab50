// Package processor talks to Stripe: hosted checkout sessions, transfers to
// connected accounts and webhook verification.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"goflare.io/voucherhub/config"
)

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*stripe.CheckoutSession, error)
	LatestChargeID(ctx context.Context, paymentIntentID string) (string, error)
	CreateTransfer(ctx context.Context, req *TransferRequest) (*stripe.Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (*stripe.Transfer, error)
	// FindTransfer returns the transfer already made for a voucher, or nil
	// when Stripe has none.
	FindTransfer(ctx context.Context, query *TransferQuery) (*stripe.Transfer, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
	GetEvent(ctx context.Context, eventID string) (*stripe.Event, error)
}

type CheckoutSessionRequest struct {
	Email       string
	ProductName string
	Amount      int64
	Currency    string
	// PlatformFee and DestinationAccount describe the split; the funds stay on
	// the platform until redemption, so they travel as metadata.
	PlatformFee        int64
	DestinationAccount string
	TransferGroup      string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
}

type TransferRequest struct {
	Amount             int64
	Currency           string
	DestinationAccount string
	SourceChargeID     string
	TransferGroup      string
	IdempotencyKey     string
	Metadata           map[string]string
}

// TransferQuery narrows the transfer listing to one partner and one voucher.
type TransferQuery struct {
	DestinationAccount string
	TransferGroup      string
	VoucherCode        string
	CreatedSince       time.Time
}

type stripeGateway struct {
	client        *client.API
	webhookSecret string
}

func NewStripeGateway(cfg *config.Config) Gateway {
	return &stripeGateway{
		client:        client.New(cfg.Stripe.SecretKey, nil),
		webhookSecret: cfg.Stripe.WebhookSecret,
	}
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:      stripe.String(req.Email),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(req.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferGroup: stripe.String(req.TransferGroup),
			Metadata:      req.Metadata,
		},
	}
	params.Context = ctx

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe checkout session: %w", err)
	}

	return session, nil
}

func (g *stripeGateway) LatestChargeID(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.client.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get Stripe payment intent: %w", err)
	}
	if pi.LatestCharge == nil {
		return "", nil
	}

	return pi.LatestCharge.ID, nil
}

func (g *stripeGateway) CreateTransfer(ctx context.Context, req *TransferRequest) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationAccount),
		Metadata:    req.Metadata,
	}
	if req.SourceChargeID != "" {
		params.SourceTransaction = stripe.String(req.SourceChargeID)
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	transfer, err := g.client.Transfers.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe transfer: %w", err)
	}

	return transfer, nil
}

func (g *stripeGateway) GetTransfer(ctx context.Context, transferID string) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{}
	params.Context = ctx

	transfer, err := g.client.Transfers.Get(transferID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get Stripe transfer: %w", err)
	}

	return transfer, nil
}

func (g *stripeGateway) FindTransfer(ctx context.Context, query *TransferQuery) (*stripe.Transfer, error) {
	params := &stripe.TransferListParams{
		Destination: stripe.String(query.DestinationAccount),
	}
	if query.TransferGroup != "" {
		params.TransferGroup = stripe.String(query.TransferGroup)
	}
	if !query.CreatedSince.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: query.CreatedSince.Unix()}
	}
	params.Context = ctx

	iter := g.client.Transfers.List(params)
	for iter.Next() {
		transfer := iter.Transfer()
		if transfer.Metadata["voucher_code"] == query.VoucherCode {
			return transfer, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list Stripe transfers: %w", err)
	}

	return nil, nil
}

func (g *stripeGateway) GetEvent(ctx context.Context, eventID string) (*stripe.Event, error) {
	params := &stripe.EventParams{}
	params.Context = ctx

	event, err := g.client.Events.Get(eventID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get Stripe event: %w", err)
	}

	return event, nil
}

func (g *stripeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("failed to verify webhook signature: %w", err)
	}
	return event, nil
}
