package voucherhub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

const (
	eventSubjectPrefix = "stripe.event."
	eventQueueGroup    = "voucherhub-workers"
)

type EventHandler func(context.Context, *stripe.Event) error

type EventManager struct {
	natsConn *nats.Conn
	handlers map[stripe.EventType]EventHandler
	logger   *zap.Logger
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	return &EventManager{
		natsConn: natsConn,
		handlers: make(map[stripe.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType stripe.EventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType stripe.EventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

// Async reports whether events travel over NATS instead of being processed
// in the webhook request.
func (em *EventManager) Async() bool {
	return em.natsConn != nil
}

func (em *EventManager) PublishEvent(event *stripe.Event) error {
	subject := eventSubjectPrefix + string(event.Type)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err = em.natsConn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SubscribeToEvents feeds published events into wp. Instances share a queue
// group so each event is handled once.
func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	_, err := em.natsConn.QueueSubscribe(eventSubjectPrefix+">", eventQueueGroup, func(msg *nats.Msg) {
		var event stripe.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.Error(err), zap.String("subject", msg.Subject))
			return
		}

		if err := wp.Submit(context.Background(), &event); err != nil {
			em.logger.Error("Failed to submit event", zap.Error(err), zap.String("event_id", event.ID))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	return nil
}

func (sv *StripeVoucherHub) registerEventHandlers() {

	eventHandlers := map[stripe.EventType]EventHandler{
		// Checkout Session
		stripe.EventTypeCheckoutSessionCompleted:             sv.handleCheckoutSessionPaid,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: sv.handleCheckoutSessionPaid,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:    sv.handleCheckoutSessionClosed,
		stripe.EventTypeCheckoutSessionExpired:               sv.handleCheckoutSessionClosed,

		// Transfer
		stripe.EventTypeTransferReversed: sv.handleTransferEvent,
	}

	for eventType, handler := range eventHandlers {
		sv.eventManager.RegisterHandler(eventType, handler)
	}
}
