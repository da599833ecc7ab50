package voucherhub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

const (
	minTickerInterval = 5 * time.Second
	maxTickerInterval = 30 * time.Second
)

// ErrWorkerPoolStopped is returned by Submit after Shutdown.
var ErrWorkerPoolStopped = errors.New("worker pool stopped")

// Dispatcher scales a set of workers reading from one job queue between one
// worker and maxWorkers, following the queue length.
type Dispatcher struct {
	maxWorkers int
	jobQueue   chan WorkRequest
	process    EventProcessor
	logger     *zap.Logger
	workers    []*Worker
	nextID     int
	stop       chan struct{}
	stopped    chan struct{}
	mu         sync.Mutex
}

func NewDispatcher(maxWorkers, jobQueueSize int, process EventProcessor, logger *zap.Logger) *Dispatcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Dispatcher{
		maxWorkers: maxWorkers,
		jobQueue:   make(chan WorkRequest, jobQueueSize),
		process:    process,
		logger:     logger,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (d *Dispatcher) Run() {
	d.mu.Lock()
	d.addWorker()
	d.mu.Unlock()

	go d.supervise()
}

func (d *Dispatcher) supervise() {
	defer close(d.stopped)

	tickerInterval := 10 * time.Second
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.adjustWorkerPool()

			jobQueueLength := len(d.jobQueue)
			if jobQueueLength > 50 {
				tickerInterval = minTickerInterval
			} else if jobQueueLength > 20 {
				tickerInterval = 10 * time.Second
			} else {
				tickerInterval = maxTickerInterval
			}

			ticker.Reset(tickerInterval)
		case <-d.stop:
			return
		}
	}
}

// addWorker must be called with d.mu held.
func (d *Dispatcher) addWorker() {
	d.nextID++
	worker := NewWorker(d.nextID, d.jobQueue, d.process, d.logger)
	worker.Start()
	d.workers = append(d.workers, worker)
}

func (d *Dispatcher) adjustWorkerPool() {
	d.mu.Lock()
	defer d.mu.Unlock()

	queued := len(d.jobQueue)
	current := len(d.workers)

	switch {
	case queued > current && current < d.maxWorkers:
		d.addWorker()
		d.logger.Info("Added new worker", zap.Int("workers", len(d.workers)), zap.Int("queued", queued))
	case queued == 0 && current > 1:
		worker := d.workers[current-1]
		d.workers = d.workers[:current-1]
		worker.Stop()
		d.logger.Info("Removed worker", zap.Int("worker_id", worker.ID))
	}
}

func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.stopped

	d.mu.Lock()
	workers := d.workers
	d.workers = nil
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, worker := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()
}

// WorkerPool accepts events from the message bus and runs them on the
// dispatcher's workers.
type WorkerPool struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
	closed     chan struct{}
	once       sync.Once
}

func NewWorkerPool(maxWorkers, queueSize int, process EventProcessor, logger *zap.Logger) *WorkerPool {
	d := NewDispatcher(maxWorkers, queueSize, process, logger)
	d.Run()
	return &WorkerPool{
		dispatcher: d,
		logger:     logger,
		closed:     make(chan struct{}),
	}
}

// Submit queues an event, blocking while the queue is full.
func (wp *WorkerPool) Submit(ctx context.Context, event *stripe.Event) error {
	select {
	case <-wp.closed:
		return ErrWorkerPoolStopped
	default:
	}

	select {
	case wp.dispatcher.jobQueue <- WorkRequest{Event: event, Ctx: ctx}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.closed:
		return ErrWorkerPoolStopped
	}
}

// Shutdown stops accepting events and waits for running jobs. Queued jobs
// that no worker picked up are dropped; their events stay unprocessed in the
// event ledger.
func (wp *WorkerPool) Shutdown() {
	wp.once.Do(func() {
		close(wp.closed)
		wp.dispatcher.Stop()
		if n := len(wp.dispatcher.jobQueue); n > 0 {
			wp.logger.Warn("Dropped queued events on shutdown", zap.Int("count", n))
		}
	})
}
