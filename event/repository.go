package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, id string) error
	// ListUnprocessed pages through events received before the cutoff that
	// were never marked processed, oldest first. after is the last event of
	// the previous page, nil for the first one.
	ListUnprocessed(ctx context.Context, receivedBefore time.Time, after *models.Event, limit int) ([]*models.Event, error)
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

// Create records a received event. A redelivered event keeps its row.
func (r *repository) Create(ctx context.Context, event *models.Event) error {
	const query = `
    INSERT INTO stripe_events (id, type, processed)
    VALUES (@id, @type, @processed)
    ON CONFLICT (id) DO NOTHING
    `

	if _, err := r.conn.Exec(ctx, query, pgx.NamedArgs{
		"id":        event.ID,
		"type":      string(event.Type),
		"processed": event.Processed,
	}); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	const query = `
    SELECT id, type, processed, created_at, updated_at
    FROM stripe_events
    WHERE id = @id
    `

	event := &models.Event{}
	var eventType string
	if err := r.conn.QueryRow(ctx, query, pgx.NamedArgs{"id": id}).Scan(
		&event.ID,
		&eventType,
		&event.Processed,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	event.Type = stripe.EventType(eventType)

	return event, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	const query = `
    UPDATE stripe_events
    SET processed = TRUE, updated_at = NOW()
    WHERE id = @id
    `

	if _, err := r.conn.Exec(ctx, query, pgx.NamedArgs{"id": id}); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	return nil
}

func (r *repository) ListUnprocessed(ctx context.Context, receivedBefore time.Time, after *models.Event, limit int) ([]*models.Event, error) {
	const query = `
    SELECT id, type, processed, created_at, updated_at
    FROM stripe_events
    WHERE NOT processed
      AND created_at < @before
      AND (@first::boolean OR (created_at, id) > (@after_created_at::timestamptz, @after_id::text))
    ORDER BY created_at, id
    LIMIT @limit
    `

	args := pgx.NamedArgs{
		"before":           receivedBefore,
		"first":            after == nil,
		"after_created_at": receivedBefore,
		"after_id":         "",
		"limit":            limit,
	}
	if after != nil {
		args["after_created_at"] = after.CreatedAt
		args["after_id"] = after.ID
	}

	rows, err := r.conn.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		event := &models.Event{}
		var eventType string
		if err = rows.Scan(&event.ID, &eventType, &event.Processed, &event.CreatedAt, &event.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = stripe.EventType(eventType)
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}

	return events, nil
}
