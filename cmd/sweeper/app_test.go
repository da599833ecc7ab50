package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/config"
)

func TestCronLoggerKeepsErrorField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := cronLogger{logger: zap.New(core).Sugar()}

	logger.Info("wake", "now", "2024-05-01T10:00:00Z")
	logger.Error(errors.New("boom"), "panic", "job", "sweep")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "sweep", entries[1].ContextMap()["job"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

type reconcilingHub struct {
	voucherhub.VoucherHub
	report *voucherhub.ReconcileReport
	err    error
	calls  int
}

func (h *reconcilingHub) ReconcileEvents(context.Context) (*voucherhub.ReconcileReport, error) {
	h.calls++
	return h.report, h.err
}

func TestReconcileWarnsOnFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hub := &reconcilingHub{report: &voucherhub.ReconcileReport{Total: 3, Processed: 2, Failed: 1}}
	app := &application{
		cfg:    &config.Config{Sweeper: config.SweeperConfig{Timeout: time.Minute}},
		hub:    hub,
		logger: zap.New(core),
	}

	app.reconcile()

	assert.Equal(t, 1, hub.calls)
	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	assert.Len(t, warnings, 1)
	assert.Equal(t, int64(1), warnings[0].ContextMap()["failed"])
}

func TestReconcileLogsError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	app := &application{
		cfg:    &config.Config{Sweeper: config.SweeperConfig{Timeout: time.Minute}},
		hub:    &reconcilingHub{err: errors.New("database unavailable")},
		logger: zap.New(core),
	}

	app.reconcile()

	assert.Len(t, logs.FilterLevelExact(zapcore.ErrorLevel).All(), 1)
	assert.Nil(t, noEventBus())
}
