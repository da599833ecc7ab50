package main

import (
	"go.uber.org/zap"

	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/settlement"
	"goflare.io/voucherhub/voucher"
)

// operator bundles what the operator commands need. Every command builds one
// from the config file and closes it when done.
type operator struct {
	pool     driver.PostgresPool
	vouchers voucher.Repository
	checker  voucher.Service
	sweeper  *settlement.Sweeper
	gateway  processor.Gateway
	logger   *zap.Logger
}

func (o *operator) Close() {
	if o.pool != nil {
		o.pool.Close()
	}
	_ = o.logger.Sync()
}

type bootstrapFunc func(configPath string) (*operator, error)
