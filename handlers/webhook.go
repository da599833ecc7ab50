package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/apperrors"
)

type WebhookHandler interface {
	HandleStripeWebhook(c echo.Context) error
}

type webhookHandler struct {
	VoucherHub voucherhub.VoucherHub
}

func NewWebhookHandler(
	VoucherHub voucherhub.VoucherHub,
) WebhookHandler {
	return &webhookHandler{
		VoucherHub: VoucherHub,
	}
}

// HandleStripeWebhook handles POST /api/payments/webhook. The body must be
// read raw: the signature covers the exact bytes.
func (wh *webhookHandler) HandleStripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
	}

	signature := c.Request().Header.Get("Stripe-Signature")

	if err = wh.VoucherHub.HandleStripeWebhook(c.Request().Context(), payload, signature); err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Webhook Error"})
		}
		// Stripe redelivers on a 5xx.
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to handle webhook"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
