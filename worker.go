package voucherhub

import (
	"context"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

// EventProcessor handles one verified Stripe event.
type EventProcessor func(ctx context.Context, event *stripe.Event) error

type WorkRequest struct {
	Event *stripe.Event
	Ctx   context.Context
}

type Worker struct {
	ID      int
	jobs    <-chan WorkRequest
	quit    chan struct{}
	done    chan struct{}
	process EventProcessor
	logger  *zap.Logger
}

func NewWorker(id int, jobs <-chan WorkRequest, process EventProcessor, logger *zap.Logger) *Worker {
	return &Worker{
		ID:      id,
		jobs:    jobs,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		process: process,
		logger:  logger,
	}
}

func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		for {
			select {
			case job := <-w.jobs:
				w.handle(job)
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Worker) handle(job WorkRequest) {
	if err := job.Ctx.Err(); err != nil {
		w.logger.Warn("Job context canceled before processing",
			zap.Error(err),
			zap.String("event_type", string(job.Event.Type)),
			zap.String("event_id", job.Event.ID))
		return
	}

	w.logger.Info("Processing event",
		zap.Int("worker_id", w.ID),
		zap.String("event_type", string(job.Event.Type)),
		zap.String("event_id", job.Event.ID))

	if err := w.process(job.Ctx, job.Event); err != nil {
		w.logger.Error("Failed to process event",
			zap.Error(err),
			zap.String("event_type", string(job.Event.Type)),
			zap.String("event_id", job.Event.ID))
		return
	}

	w.logger.Info("Event processed",
		zap.String("event_type", string(job.Event.Type)),
		zap.String("event_id", job.Event.ID))
}

// Stop asks the worker to exit after its current job and waits for it.
func (w *Worker) Stop() {
	close(w.quit)
	<-w.done
}
