package event

import (
	"context"
	"errors"
	"time"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/models"
)

type Service interface {
	Create(ctx context.Context, event *models.Event) error
	// IsEventProcessed reports false for events never seen before.
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventAsProcessed(ctx context.Context, eventID string) error
	ListUnprocessed(ctx context.Context, receivedBefore time.Time, after *models.Event, limit int) ([]*models.Event, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, event *models.Event) error {
	return s.repo.Create(ctx, event)
}

func (s *service) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	event, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return event.Processed, nil
}

func (s *service) MarkEventAsProcessed(ctx context.Context, eventID string) error {
	return s.repo.MarkAsProcessed(ctx, eventID)
}

func (s *service) ListUnprocessed(ctx context.Context, receivedBefore time.Time, after *models.Event, limit int) ([]*models.Event, error) {
	return s.repo.ListUnprocessed(ctx, receivedBefore, after, limit)
}
