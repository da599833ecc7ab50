package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/handlers"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
)

type stubHub struct {
	voucherhub.VoucherHub
}

func (stubHub) CheckVoucher(_ context.Context, code string) (*models.VoucherStatusReport, error) {
	return &models.VoucherStatusReport{Code: code, Status: enum.CheckStatusValid}, nil
}

func newTestServer() *Server {
	hub := stubHub{}
	cfg := &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"https://voucherhub.pt"}}}
	return NewServer(cfg, hub,
		handlers.NewCheckoutHandler(hub),
		handlers.NewVoucherHandler(hub),
		handlers.NewWebhookHandler(hub),
		zap.NewNop())
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestVoucherRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vouchers/VH-0A1B2C3D", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"valid"`)
}

func TestCORSAllowList(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/vouchers/validate", strings.NewReader(""))
	req.Header.Set(echo.HeaderOrigin, "https://voucherhub.pt")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://voucherhub.pt", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodOptions, "/api/vouchers/validate", strings.NewReader(""))
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
