package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"goflare.io/voucherhub/apperrors"
)

const settlementRetryMessage = "The partner payout could not be completed. The voucher was not used, please try again in a moment."

// errorStatus maps a service error to an HTTP status and a message that is
// safe to show the caller.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrAlreadyUsed),
		errors.Is(err, apperrors.ErrNoActiveDiscount),
		errors.Is(err, apperrors.ErrDiscountExceedsMargin):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusForbidden, "Incorrect PIN"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, apperrors.ErrAlreadyConsumed):
		return http.StatusConflict, "Voucher already used"
	case errors.Is(err, apperrors.ErrExpired):
		return http.StatusConflict, "Voucher expired"
	case errors.Is(err, apperrors.ErrOutOfStock):
		return http.StatusConflict, "Offer sold out"
	case errors.Is(err, apperrors.ErrFatalSettlement), errors.Is(err, apperrors.ErrRetryableSettlement):
		return http.StatusBadGateway, settlementRetryMessage
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func errorJSON(c echo.Context, err error) error {
	status, message := errorStatus(err)
	return c.JSON(status, map[string]string{"error": message})
}
