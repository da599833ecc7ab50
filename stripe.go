package voucherhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/checkout_session"
	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/event"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/settlement"
	"goflare.io/voucherhub/voucher"
)

const eventQueueSize = 1000

type StripeVoucherHub struct {
	gateway      processor.Gateway
	natsConn     *nats.Conn
	eventManager *EventManager
	workerPool   *WorkerPool
	logger       *zap.Logger

	checkoutSession checkout_session.Service
	event           event.Service
	voucher         voucher.Service
	settlement      settlement.Service
	sweeper         *settlement.Sweeper

	now func() time.Time
}

// NewStripeVoucherHub wires the services to the Stripe webhook pipeline.
// natsConn may be nil; events are then processed inside the webhook request.
func NewStripeVoucherHub(
	config *config.Config,
	gateway processor.Gateway,
	natsConn *nats.Conn,
	checkoutSession checkout_session.Service,
	event event.Service,
	voucher voucher.Service,
	settlement settlement.Service,
	sweeper *settlement.Sweeper,
	logger *zap.Logger,
) (VoucherHub, error) {
	sv := &StripeVoucherHub{
		gateway:         gateway,
		natsConn:        natsConn,
		checkoutSession: checkoutSession,
		event:           event,
		voucher:         voucher,
		settlement:      settlement,
		sweeper:         sweeper,
		logger:          logger,
		now:             time.Now,
	}

	sv.eventManager = NewEventManager(natsConn, logger)
	sv.registerEventHandlers()

	if sv.eventManager.Async() {
		sv.workerPool = NewWorkerPool(config.Nats.Workers, eventQueueSize, sv.ProcessEvent, logger)
		if err := sv.eventManager.SubscribeToEvents(sv.workerPool); err != nil {
			sv.workerPool.Shutdown()
			return nil, err
		}
	}

	return sv, nil
}

func (sv *StripeVoucherHub) CreateCheckoutSession(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutSession, error) {
	return sv.checkoutSession.Create(ctx, req)
}

func (sv *StripeVoucherHub) RedeemVoucher(ctx context.Context, code, pin string) (*models.RedemptionResult, error) {
	return sv.settlement.Redeem(ctx, code, pin)
}

func (sv *StripeVoucherHub) CheckVoucher(ctx context.Context, code string) (*models.VoucherStatusReport, error) {
	return sv.voucher.Check(ctx, code)
}

func (sv *StripeVoucherHub) SweepDeferredTransfers(ctx context.Context) (*settlement.SweepReport, error) {
	return sv.sweeper.Sweep(ctx)
}

// HandleStripeWebhook verifies and records a Stripe event, then processes it
// inline or hands it to the worker pool. An error tells Stripe to redeliver.
func (sv *StripeVoucherHub) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	stripeEvent, err := sv.gateway.ConstructEvent(payload, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	if _, exists := sv.eventManager.GetHandler(stripeEvent.Type); !exists {
		sv.logger.Debug("Ignoring Stripe event", zap.String("event_id", stripeEvent.ID), zap.String("event_type", string(stripeEvent.Type)))
		return nil
	}

	processed, err := sv.event.IsEventProcessed(ctx, stripeEvent.ID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		sv.logger.Info("Event is already processed", zap.String("event_id", stripeEvent.ID))
		return nil
	}

	eventModel := &models.Event{
		ID:        stripeEvent.ID,
		Type:      stripeEvent.Type,
		Processed: false,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err = sv.event.Create(ctx, eventModel); err != nil {
		sv.logger.Error("Failed to create event", zap.Error(err))
		return err
	}

	if sv.eventManager.Async() {
		if err = sv.eventManager.PublishEvent(&stripeEvent); err != nil {
			return fmt.Errorf("failed to publish event to NATS: %w", err)
		}
		return nil
	}

	return sv.ProcessEvent(ctx, &stripeEvent)
}

func (sv *StripeVoucherHub) ProcessEvent(ctx context.Context, event *stripe.Event) error {
	handler, exists := sv.eventManager.GetHandler(event.Type)
	if !exists {
		return fmt.Errorf("no handler registered for event type: %s", event.Type)
	}

	if err := handler(ctx, event); err != nil {
		sv.logger.Error("Failed to handle event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return err
	}

	if err := sv.event.MarkEventAsProcessed(context.WithoutCancel(ctx), event.ID); err != nil {
		sv.logger.Error("Failed to mark event as processed", zap.Error(err))
		return err
	}

	sv.logger.Info("Stripe event processed", zap.String("event_id", event.ID))

	return nil
}

func (sv *StripeVoucherHub) handleCheckoutSessionPaid(ctx context.Context, stripeEvent *stripe.Event) error {
	session := new(stripe.CheckoutSession)
	if err := json.Unmarshal(stripeEvent.Data.Raw, session); err != nil {
		sv.logger.Error("Failed to unmarshal checkout session event", zap.Error(err))
		return err
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		sv.logger.Info("Checkout session not paid yet",
			zap.String("session_id", session.ID),
			zap.String("payment_status", string(session.PaymentStatus)))
		return nil
	}

	completed := &models.CompletedCheckout{
		SessionID:     session.ID,
		AmountTotal:   session.AmountTotal,
		Currency:      string(session.Currency),
		CustomerEmail: session.CustomerEmail,
		Metadata:      session.Metadata,
	}
	if session.PaymentIntent != nil {
		completed.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		completed.CustomerEmail = session.CustomerDetails.Email
	}

	_, err := sv.voucher.Issue(ctx, completed)
	switch {
	case err == nil, errors.Is(err, apperrors.ErrDuplicateEvent):
		return nil
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrNotFound):
		// Redelivery cannot fix a bad payload. The buyer has paid, so this
		// needs an operator.
		sv.logger.Error("Paid checkout could not be turned into a voucher; manual review required",
			zap.Error(err),
			zap.String("session_id", session.ID),
			zap.Int64("amount_total", session.AmountTotal))
		return nil
	default:
		return err
	}
}

func (sv *StripeVoucherHub) handleCheckoutSessionClosed(_ context.Context, stripeEvent *stripe.Event) error {
	session := new(stripe.CheckoutSession)
	if err := json.Unmarshal(stripeEvent.Data.Raw, session); err != nil {
		sv.logger.Error("Failed to unmarshal checkout session event", zap.Error(err))
		return err
	}

	sv.logger.Info("Checkout session closed without payment",
		zap.String("session_id", session.ID),
		zap.String("event_type", string(stripeEvent.Type)),
		zap.String("partner_slug", session.Metadata["partner_slug"]))
	return nil
}

func (sv *StripeVoucherHub) handleTransferEvent(_ context.Context, stripeEvent *stripe.Event) error {
	transfer := new(stripe.Transfer)
	if err := json.Unmarshal(stripeEvent.Data.Raw, transfer); err != nil {
		sv.logger.Error("Failed to unmarshal transfer event", zap.Error(err))
		return err
	}

	sv.logger.Warn("Partner transfer reversed",
		zap.String("transfer_id", transfer.ID),
		zap.String("voucher_code", transfer.Metadata["voucher_code"]),
		zap.Int64("amount_reversed", transfer.AmountReversed))
	return nil
}

func (sv *StripeVoucherHub) Close() {
	sv.logger.Info("Initiating graceful shutdown of workers and dispatcher")
	if sv.natsConn != nil {
		sv.natsConn.Close()
	}
	if sv.workerPool != nil {
		sv.workerPool.Shutdown()
	}
	sv.logger.Info("StripeVoucherHub successfully shutdown")
}
