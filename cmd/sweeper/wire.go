//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/checkout_session"
	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/event"
	"goflare.io/voucherhub/lock"
	"goflare.io/voucherhub/notifier"
	"goflare.io/voucherhub/partner"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/settlement"
	"goflare.io/voucherhub/sponsor"
	"goflare.io/voucherhub/voucher"
)

func InitializeSweeper() (*application, error) {

	wire.Build(
		config.ProvideApplicationConfig,
		config.NewLogger,
		config.ProvidePostgresConn,
		config.ProvideRedis,
		config.ProvideEmber,
		config.ProvideIgnite,
		noEventBus,
		driver.NewTransactionManager,
		wire.Bind(new(driver.Transactor), new(*driver.TransactionManager)),
		lock.NewRedisLock,
		wire.Bind(new(lock.Locker), new(*lock.RedisLock)),
		processor.NewStripeGateway,
		notifier.NewNotifier,
		partner.NewRepository,
		partner.NewService,
		sponsor.NewRepository,
		sponsor.NewService,
		voucher.NewRepository,
		voucher.NewService,
		settlement.NewService,
		settlement.NewSweeper,
		checkout_session.NewService,
		event.NewRepository,
		event.NewService,
		voucherhub.NewStripeVoucherHub,
		wire.Struct(new(application), "*"),
	)

	return &application{}, nil
}
