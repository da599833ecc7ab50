package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"goflare.io/voucherhub"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
)

type VoucherHandler interface {
	ValidateVoucher(c echo.Context) error
	GetVoucher(c echo.Context) error
}

type voucherHandler struct {
	VoucherHub voucherhub.VoucherHub
}

func NewVoucherHandler(
	VoucherHub voucherhub.VoucherHub,
) VoucherHandler {
	return &voucherHandler{
		VoucherHub: VoucherHub,
	}
}

type redeemResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*models.RedemptionResult
}

// ValidateVoucher handles POST /api/vouchers/validate. With a PIN the voucher
// is redeemed, without one its status is only reported.
func (vh *voucherHandler) ValidateVoucher(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
		PIN  string `json:"pin"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Voucher code is required"})
	}

	if strings.TrimSpace(req.PIN) == "" {
		return vh.check(c, req.Code)
	}

	result, err := vh.VoucherHub.RedeemVoucher(c.Request().Context(), req.Code, req.PIN)
	if err != nil {
		return errorJSON(c, err)
	}

	message := "Voucher redeemed. The partner payout was processed."
	if result.Deferred {
		message = "Voucher redeemed. The partner payout will be processed automatically once funds are available."
	}

	return c.JSON(http.StatusOK, redeemResponse{Success: true, Message: message, RedemptionResult: result})
}

// GetVoucher handles GET /api/vouchers/:code
func (vh *voucherHandler) GetVoucher(c echo.Context) error {
	return vh.check(c, c.Param("code"))
}

func (vh *voucherHandler) check(c echo.Context, code string) error {
	report, err := vh.VoucherHub.CheckVoucher(c.Request().Context(), code)
	if err != nil {
		return errorJSON(c, err)
	}
	if report.Status == enum.CheckStatusNotFound {
		return c.JSON(http.StatusNotFound, report)
	}

	return c.JSON(http.StatusOK, report)
}
