package voucherhub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

func TestWorkerPoolProcessesSubmittedEvents(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)

	pool := NewWorkerPool(4, 10, func(_ context.Context, event *stripe.Event) error {
		defer wg.Done()
		mu.Lock()
		seen[event.ID] = true
		mu.Unlock()
		return nil
	}, zap.NewNop())

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(context.Background(), &stripe.Event{ID: fmt.Sprintf("evt_%d", i)}))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events were not processed")
	}

	pool.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 20)
}

func TestWorkerPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1, 1, func(context.Context, *stripe.Event) error { return nil }, zap.NewNop())
	pool.Shutdown()
	pool.Shutdown()

	err := pool.Submit(context.Background(), &stripe.Event{ID: "evt_late"})
	assert.ErrorIs(t, err, ErrWorkerPoolStopped)
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	pool := NewWorkerPool(1, 1, func(context.Context, *stripe.Event) error {
		<-block
		return nil
	}, zap.NewNop())
	defer func() {
		close(block)
		pool.Shutdown()
	}()

	require.NoError(t, pool.Submit(context.Background(), &stripe.Event{ID: "evt_1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// One job is running, the next fills the queue; the third has nowhere to go.
	err := pool.Submit(ctx, &stripe.Event{ID: "evt_2"})
	if err == nil {
		err = pool.Submit(ctx, &stripe.Event{ID: "evt_3"})
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
