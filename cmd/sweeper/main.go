package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

func main() {

	app, err := InitializeSweeper()
	if err != nil {
		panic(err)
	}
	defer app.logger.Sync()

	logger := cronLogger{logger: app.logger.Sugar()}
	scheduler := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err = scheduler.AddFunc(app.cfg.Sweeper.Schedule, app.sweep); err != nil {
		app.logger.Fatal("Failed to schedule deferred transfer sweep",
			zap.Error(err), zap.String("schedule", app.cfg.Sweeper.Schedule))
	}
	if _, err = scheduler.AddFunc(app.cfg.Sweeper.ReconcileSchedule, app.reconcile); err != nil {
		app.logger.Fatal("Failed to schedule event reconciliation",
			zap.Error(err), zap.String("schedule", app.cfg.Sweeper.ReconcileSchedule))
	}

	scheduler.Start()
	app.logger.Info("Sweeper started",
		zap.String("schedule", app.cfg.Sweeper.Schedule),
		zap.String("reconcile_schedule", app.cfg.Sweeper.ReconcileSchedule))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.logger.Info("Shutting down sweeper")
	select {
	case <-scheduler.Stop().Done():
		app.logger.Info("Sweeper stopped")
	case <-time.After(stopTimeout):
		app.logger.Warn("Sweeper forced to stop with a sweep still running")
	}
}

func (a *application) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Sweeper.Timeout)
	defer cancel()

	report, err := a.hub.SweepDeferredTransfers(ctx)
	if err != nil {
		a.logger.Error("Deferred transfer sweep failed", zap.Error(err))
		return
	}
	if report.Skipped {
		return
	}
	if report.Failed > 0 {
		a.logger.Warn("Deferred transfer sweep left failures",
			zap.Int("failed", report.Failed), zap.Int("total", report.Total))
	}
}

func (a *application) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Sweeper.Timeout)
	defer cancel()

	report, err := a.hub.ReconcileEvents(ctx)
	if err != nil {
		a.logger.Error("Event reconciliation failed", zap.Error(err))
		return
	}
	if report.Failed > 0 {
		a.logger.Warn("Event reconciliation left failures",
			zap.Int("failed", report.Failed), zap.Int("total", report.Total))
	}
}
