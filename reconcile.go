package voucherhub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goflare.io/voucherhub/models"
)

const (
	// reconcileGrace leaves recent events to the worker that received them.
	reconcileGrace     = 5 * time.Minute
	reconcileBatchSize = 100
)

// ReconcileReport summarizes one pass over recorded but unprocessed events.
type ReconcileReport struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// ReconcileEvents re-runs events that were acknowledged to Stripe but never
// processed: a worker failed, or the message bus dropped them. Each event is
// fetched again from Stripe so the payload is authoritative.
func (sv *StripeVoucherHub) ReconcileEvents(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	receivedBefore := sv.now().Add(-reconcileGrace)

	var after *models.Event
pages:
	for {
		pending, err := sv.event.ListUnprocessed(ctx, receivedBefore, after, reconcileBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
		}

		for _, recorded := range pending {
			if err = ctx.Err(); err != nil {
				sv.logger.Warn("Event reconciliation interrupted", zap.Error(err), zap.Int("visited", report.Total))
				break pages
			}
			report.Total++

			stripeEvent, err := sv.gateway.GetEvent(ctx, recorded.ID)
			if err != nil {
				sv.logger.Error("Failed to fetch unprocessed event",
					zap.Error(err),
					zap.String("event_id", recorded.ID),
					zap.Time("received_at", recorded.CreatedAt))
				report.Failed++
				continue
			}

			if err = sv.ProcessEvent(ctx, stripeEvent); err != nil {
				report.Failed++
				continue
			}
			report.Processed++
		}

		if len(pending) < reconcileBatchSize {
			break
		}
		after = pending[len(pending)-1]
	}

	if report.Total > 0 {
		sv.logger.Info("Event reconciliation finished",
			zap.Int("total", report.Total),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed))
	}

	return report, nil
}
