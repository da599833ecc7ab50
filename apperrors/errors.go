package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrAlreadyConsumed = errors.New("voucher already consumed")
	ErrExpired         = errors.New("voucher expired")

	ErrAlreadyUsed           = errors.New("sponsor code already used")
	ErrNoActiveDiscount      = errors.New("sponsor code has no active discount")
	ErrDiscountExceedsMargin = errors.New("sponsor discount exceeds platform margin")
	ErrOutOfStock            = errors.New("offer out of stock")

	// ErrDuplicateEvent marks a redelivered payment confirmation. Callers treat it as success.
	ErrDuplicateEvent = errors.New("duplicate event")

	ErrRetryableSettlement = errors.New("retryable settlement failure")
	ErrFatalSettlement     = errors.New("fatal settlement failure")
)

// Validation wraps a message as an ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// SettlementError is returned when a transfer to a partner account fails.
type SettlementError struct {
	Retryable bool
	// Definitive is false when the processor outcome is unknown (timeout, network).
	Definitive bool
	Code       string
	Err        error
}

func (e *SettlementError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s settlement failure (%s): %v", kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s settlement failure: %v", kind, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

func (e *SettlementError) Is(target error) bool {
	switch target {
	case ErrRetryableSettlement:
		return e.Retryable
	case ErrFatalSettlement:
		return !e.Retryable
	}
	return false
}
