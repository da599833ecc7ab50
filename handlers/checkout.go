package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/models"
)

type CheckoutHandler interface {
	CreateCheckoutSession(c echo.Context) error
}

type checkoutHandler struct {
	VoucherHub voucherhub.VoucherHub
}

func NewCheckoutHandler(
	VoucherHub voucherhub.VoucherHub,
) CheckoutHandler {
	return &checkoutHandler{
		VoucherHub: VoucherHub,
	}
}

// CreateCheckoutSession handles POST /api/payments/create-checkout-session
func (ch *checkoutHandler) CreateCheckoutSession(c echo.Context) error {
	var req models.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}

	session, err := ch.VoucherHub.CreateCheckoutSession(c.Request().Context(), &req)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, session)
}
