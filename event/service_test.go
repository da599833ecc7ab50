package event

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/models"
)

type memoryRepository struct {
	events map[string]*models.Event
}

func (m *memoryRepository) Create(_ context.Context, event *models.Event) error {
	if _, ok := m.events[event.ID]; !ok {
		cp := *event
		m.events[event.ID] = &cp
	}
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id string) (*models.Event, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return e, nil
}

func (m *memoryRepository) MarkAsProcessed(_ context.Context, id string) error {
	if e, ok := m.events[id]; ok {
		e.Processed = true
	}
	return nil
}

func (m *memoryRepository) ListUnprocessed(_ context.Context, before time.Time, after *models.Event, limit int) ([]*models.Event, error) {
	var out []*models.Event
	for _, e := range m.events {
		if !e.Processed && e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if after != nil {
		n := sort.Search(len(out), func(i int) bool { return out[i].ID > after.ID })
		out = out[n:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestEventLifecycle(t *testing.T) {
	svc := NewService(&memoryRepository{events: map[string]*models.Event{}})
	ctx := context.Background()

	processed, err := svc.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, svc.Create(ctx, &models.Event{ID: "evt_1", Type: stripe.EventTypeCheckoutSessionCompleted}))
	processed, err = svc.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, svc.MarkEventAsProcessed(ctx, "evt_1"))
	processed, err = svc.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)

	// A redelivery does not reset the processed flag.
	require.NoError(t, svc.Create(ctx, &models.Event{ID: "evt_1", Type: stripe.EventTypeCheckoutSessionCompleted}))
	processed, err = svc.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestListUnprocessedSkipsRecentAndProcessed(t *testing.T) {
	received := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	repo := &memoryRepository{events: map[string]*models.Event{
		"evt_a": {ID: "evt_a", CreatedAt: received},
		"evt_b": {ID: "evt_b", CreatedAt: received, Processed: true},
		"evt_c": {ID: "evt_c", CreatedAt: received.Add(time.Hour)},
		"evt_d": {ID: "evt_d", CreatedAt: received.Add(time.Minute)},
	}}
	svc := NewService(repo)

	pending, err := svc.ListUnprocessed(context.Background(), received.Add(30*time.Minute), nil, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(pending))
	for _, e := range pending {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"evt_a", "evt_d"}, ids)
}
