package main

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/config"
)

type application struct {
	cfg    *config.Config
	hub    voucherhub.VoucherHub
	logger *zap.Logger
}

// noEventBus keeps the sweeper out of the webhook queue group, so reconciled
// events are processed in the calling job.
func noEventBus() *nats.Conn {
	return nil
}

// cronLogger routes scheduler messages through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
