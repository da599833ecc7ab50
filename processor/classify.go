package processor

import (
	"errors"

	"github.com/stripe/stripe-go/v79"

	"goflare.io/voucherhub/apperrors"
)

// insufficientBalanceCodes are the only transfer failures expected to clear
// on their own as buyer payments settle.
var insufficientBalanceCodes = map[stripe.ErrorCode]struct{}{
	stripe.ErrorCodeBalanceInsufficient: {},
	stripe.ErrorCodeInsufficientFunds:   {},
}

// ClassifyTransferError maps a transfer failure onto a SettlementError.
// Anything that is not a Stripe error with a 4xx response is treated as an
// unknown outcome: the transfer may or may not have happened.
func ClassifyTransferError(err error) *apperrors.SettlementError {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &apperrors.SettlementError{Err: err}
	}

	settlementErr := &apperrors.SettlementError{
		Code: string(stripeErr.Code),
		Err:  err,
	}
	if _, ok := insufficientBalanceCodes[stripeErr.Code]; ok {
		settlementErr.Retryable = true
	}
	settlementErr.Definitive = stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500

	return settlementErr
}
