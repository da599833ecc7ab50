package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/handlers"
)

type Server struct {
	echo           *echo.Echo
	logger         *zap.Logger
	address        string
	allowedOrigins []string
	VoucherHub     voucherhub.VoucherHub
	Checkout       handlers.CheckoutHandler
	Voucher        handlers.VoucherHandler
	Webhook        handlers.WebhookHandler
}

func NewServer(
	cfg *config.Config,
	VoucherHub voucherhub.VoucherHub,
	Checkout handlers.CheckoutHandler,
	Voucher handlers.VoucherHandler,
	Webhook handlers.WebhookHandler,
	logger *zap.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true

	s := &Server{
		echo:           e,
		logger:         logger,
		address:        cfg.Server.Addr,
		allowedOrigins: cfg.Server.AllowedOrigins,
		VoucherHub:     VoucherHub,
		Checkout:       Checkout,
		Voucher:        Voucher,
		Webhook:        Webhook,
	}
	s.registerMiddlewares()
	s.registerRoutes()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts listening for connections on the provided address.
func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

// Run starts the server on the configured address and blocks until SIGINT or
// SIGTERM, then shuts the HTTP server down and closes the voucher hub so
// running webhook jobs finish.
func (s *Server) Run() error {

	go func() {
		if err := s.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("Server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	s.VoucherHub.Close()

	return err
}

func (s *Server) registerMiddlewares() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return xid.New().String() },
	}))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	s.echo.Use(s.requestLogger())
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("Request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID))
			return nil
		},
	})
}

func (s *Server) registerRoutes() {

	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	s.echo.POST("/api/payments/create-checkout-session", s.Checkout.CreateCheckoutSession)
	s.echo.POST("/api/payments/webhook", s.Webhook.HandleStripeWebhook)

	s.echo.POST("/api/vouchers/validate", s.Voucher.ValidateVoucher)
	s.echo.GET("/api/vouchers/:code", s.Voucher.GetVoucher)
}
