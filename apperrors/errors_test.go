package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettlementErrorMatching(t *testing.T) {
	retryable := &SettlementError{Retryable: true, Definitive: true, Code: "balance_insufficient", Err: errors.New("no funds")}
	fatal := &SettlementError{Definitive: true, Code: "account_invalid", Err: errors.New("bad destination")}

	assert.ErrorIs(t, retryable, ErrRetryableSettlement)
	assert.NotErrorIs(t, retryable, ErrFatalSettlement)
	assert.ErrorIs(t, fmt.Errorf("failed to redeem: %w", fatal), ErrFatalSettlement)
	assert.NotErrorIs(t, fatal, ErrRetryableSettlement)
	assert.Contains(t, fatal.Error(), "account_invalid")
}

func TestValidation(t *testing.T) {
	err := Validation("amount must be positive, got %d", -1)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "got -1")
}
