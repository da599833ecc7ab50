package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/lock"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
	"goflare.io/voucherhub/processor"
)

const testCode = "VH-0A1B2C3D"

var redeemNow = time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)

func seedVoucher(repo *memoryRepository, mutate ...func(v *models.Voucher)) {
	v := &models.Voucher{
		Code:               testCode,
		PartnerSlug:        "surf-school",
		ProductName:        "Surf lesson",
		AmountCharged:      1500,
		Currency:           "eur",
		StripeChargeID:     "ch_123",
		Status:             enum.VoucherStatusActive,
		TransferStatus:     enum.TransferStatusPending,
		PlatformFeeAmount:  270,
		PartnerShareAmount: 1230,
		ExpiresAt:          redeemNow.AddDate(0, 1, 0),
	}
	for _, fn := range mutate {
		fn(v)
	}
	if v.ID == 0 {
		v.ID = int64(len(repo.vouchers) + 1)
	}
	repo.vouchers[v.Code] = v
}

func newTestService(failures ...error) (*service, *memoryRepository, *scriptedGateway) {
	repo := newMemoryRepository()
	gateway := &scriptedGateway{failures: failures}
	svc := NewService(repo, gateway, fakeTransactor{}, zap.NewNop()).(*service)
	svc.now = func() time.Time { return redeemNow }
	return svc, repo, gateway
}

func newTestSweeper(repo *memoryRepository, gateway *scriptedGateway, locker lock.Locker) *Sweeper {
	return NewSweeper(&config.Config{}, repo, gateway, fakeTransactor{}, locker, zap.NewNop())
}

func TestRedeemSuccess(t *testing.T) {
	svc, repo, gateway := newTestService()
	seedVoucher(repo)

	result, err := svc.Redeem(context.Background(), " vh-0a1b2c3d ", " 4321 ")
	require.NoError(t, err)

	assert.Equal(t, enum.VoucherStatusUsed, result.Status)
	assert.Equal(t, enum.TransferStatusSuccess, result.TransferStatus)
	assert.False(t, result.Deferred)
	assert.Equal(t, redeemNow, result.UsedAt)

	stored := repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusUsed, stored.Status)
	assert.Equal(t, enum.TransferStatusSuccess, stored.TransferStatus)
	assert.Equal(t, "tr_1", stored.StripeTransferID)
	require.NotNil(t, stored.UsedAt)
	assert.Equal(t, redeemNow, *stored.UsedAt)

	require.Len(t, gateway.requests, 1)
	req := gateway.requests[0]
	assert.Equal(t, int64(1230), req.Amount)
	assert.Equal(t, "acct_123", req.DestinationAccount)
	assert.Equal(t, "ch_123", req.SourceChargeID)
	assert.Equal(t, "voucher-VH-0A1B2C3D-transfer-0", req.IdempotencyKey)
}

func TestRedeemWrongPINChangesNothing(t *testing.T) {
	svc, repo, gateway := newTestService()
	seedVoucher(repo)
	before := repo.get(testCode)

	_, err := svc.Redeem(context.Background(), testCode, "0000")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	assert.Equal(t, before, repo.get(testCode))
	assert.Empty(t, gateway.requests)
}

func TestRedeemRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		svc, _, _ := newTestService()
		_, err := svc.Redeem(ctx, testCode, "4321")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("missing pin", func(t *testing.T) {
		svc, repo, _ := newTestService()
		seedVoucher(repo)
		_, err := svc.Redeem(ctx, testCode, " ")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("expired with correct pin", func(t *testing.T) {
		svc, repo, gateway := newTestService()
		seedVoucher(repo, func(v *models.Voucher) { v.ExpiresAt = redeemNow.Add(-time.Second) })

		_, err := svc.Redeem(ctx, testCode, "4321")
		assert.ErrorIs(t, err, apperrors.ErrExpired)
		assert.Equal(t, enum.VoucherStatusActive, repo.get(testCode).Status)
		assert.Empty(t, gateway.requests)
	})

	t.Run("already used", func(t *testing.T) {
		svc, repo, gateway := newTestService()
		seedVoucher(repo, func(v *models.Voucher) { v.Status = enum.VoucherStatusUsed })

		_, err := svc.Redeem(ctx, testCode, "4321")
		assert.ErrorIs(t, err, apperrors.ErrAlreadyConsumed)
		assert.Empty(t, gateway.requests)
	})

	t.Run("legacy deferred status", func(t *testing.T) {
		svc, repo, _ := newTestService()
		seedVoucher(repo, func(v *models.Voucher) { v.Status = enum.VoucherStatusTransferDeferred })

		_, err := svc.Redeem(ctx, testCode, "4321")
		assert.ErrorIs(t, err, apperrors.ErrAlreadyConsumed)
	})

	t.Run("partner without payout account", func(t *testing.T) {
		svc, repo, gateway := newTestService()
		repo.account = ""
		seedVoucher(repo)

		_, err := svc.Redeem(ctx, testCode, "4321")
		assert.ErrorIs(t, err, apperrors.ErrFatalSettlement)
		assert.Equal(t, enum.VoucherStatusActive, repo.get(testCode).Status)
		assert.Empty(t, gateway.requests)
	})
}

func TestRedeemTwiceSecondIsConsumed(t *testing.T) {
	svc, repo, gateway := newTestService()
	seedVoucher(repo)
	ctx := context.Background()

	_, err := svc.Redeem(ctx, testCode, "4321")
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, testCode, "4321")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyConsumed)
	assert.Len(t, gateway.requests, 1)
}

func TestRedeemFatalLeavesVoucherActive(t *testing.T) {
	svc, repo, gateway := newTestService(invalidAccount)
	seedVoucher(repo)
	ctx := context.Background()

	_, err := svc.Redeem(ctx, testCode, "4321")
	assert.ErrorIs(t, err, apperrors.ErrFatalSettlement)
	assert.NotErrorIs(t, err, apperrors.ErrRetryableSettlement)

	stored := repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusActive, stored.Status)
	assert.Equal(t, enum.TransferStatusPending, stored.TransferStatus)
	assert.Nil(t, stored.UsedAt)
	assert.Contains(t, stored.TransferError, "account_invalid")
	assert.Equal(t, 1, stored.TransferAttempts)

	// The refused request is not replayed: the next attempt gets a new key.
	_, err = svc.Redeem(ctx, testCode, "4321")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"voucher-VH-0A1B2C3D-transfer-0",
		"voucher-VH-0A1B2C3D-transfer-1",
	}, gateway.keys())
}

func TestRedeemUnknownOutcomeReusesKey(t *testing.T) {
	svc, repo, gateway := newTestService(timeout)
	seedVoucher(repo)
	ctx := context.Background()

	_, err := svc.Redeem(ctx, testCode, "4321")
	assert.ErrorIs(t, err, apperrors.ErrFatalSettlement)

	stored := repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusActive, stored.Status)
	assert.Zero(t, stored.TransferAttempts)

	_, err = svc.Redeem(ctx, testCode, "4321")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"voucher-VH-0A1B2C3D-transfer-0",
		"voucher-VH-0A1B2C3D-transfer-0",
	}, gateway.keys())
}

func TestRedeemDeferredThenSweep(t *testing.T) {
	svc, repo, gateway := newTestService(insufficientBalance)
	seedVoucher(repo)
	ctx := context.Background()

	result, err := svc.Redeem(ctx, testCode, "4321")
	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.Equal(t, enum.VoucherStatusUsed, result.Status)
	assert.Equal(t, enum.TransferStatusDeferred, result.TransferStatus)

	stored := repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusUsed, stored.Status)
	assert.Equal(t, enum.TransferStatusDeferred, stored.TransferStatus)
	assert.Contains(t, stored.TransferError, "balance_insufficient")
	require.NotNil(t, stored.UsedAt)
	usedAt := *stored.UsedAt

	_, err = svc.Redeem(ctx, testCode, "4321")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyConsumed)

	locker := &fakeLocker{}
	report, err := newTestSweeper(repo, gateway, locker).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Total: 1, Settled: 1}, report)
	assert.Equal(t, 1, locker.released)

	stored = repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusUsed, stored.Status)
	assert.Equal(t, enum.TransferStatusSuccess, stored.TransferStatus)
	assert.Equal(t, "tr_2", stored.StripeTransferID)
	assert.Empty(t, stored.TransferError)
	assert.Equal(t, usedAt, *stored.UsedAt)

	assert.Equal(t, []string{
		"voucher-VH-0A1B2C3D-transfer-0",
		"voucher-VH-0A1B2C3D-transfer-1",
	}, gateway.keys())
}

func TestSweepKeepsDeferredOnFailure(t *testing.T) {
	repo := newMemoryRepository()
	usedAt := redeemNow.Add(-time.Hour)
	seedVoucher(repo, func(v *models.Voucher) {
		v.Status = enum.VoucherStatusUsed
		v.UsedAt = &usedAt
		v.TransferStatus = enum.TransferStatusDeferred
		v.TransferAttempts = 1
	})
	gateway := &scriptedGateway{failures: []error{insufficientBalance, invalidAccount}}
	sweeper := newTestSweeper(repo, gateway, &fakeLocker{})
	ctx := context.Background()

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Total: 1, Deferred: 1}, report)
	assert.Equal(t, enum.TransferStatusDeferred, repo.get(testCode).TransferStatus)
	assert.Equal(t, 2, repo.get(testCode).TransferAttempts)

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Total: 1, Failed: 1}, report)

	stored := repo.get(testCode)
	assert.Equal(t, enum.TransferStatusDeferred, stored.TransferStatus)
	assert.Equal(t, enum.VoucherStatusUsed, stored.Status)
	assert.Contains(t, stored.TransferError, "account_invalid")
	assert.Equal(t, usedAt, *stored.UsedAt)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	repo := newMemoryRepository()
	gateway := &scriptedGateway{}
	usedAt := redeemNow
	seedVoucher(repo, func(v *models.Voucher) {
		v.Status = enum.VoucherStatusUsed
		v.UsedAt = &usedAt
		v.TransferStatus = enum.TransferStatusDeferred
	})

	report, err := newTestSweeper(repo, gateway, &fakeLocker{held: true}).Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Empty(t, gateway.requests)
	assert.Equal(t, enum.TransferStatusDeferred, repo.get(testCode).TransferStatus)
}

func TestSweepOrdersByUsedAt(t *testing.T) {
	repo := newMemoryRepository()
	gateway := &scriptedGateway{}
	for i, code := range []string{"VH-00000003", "VH-00000001", "VH-00000002"} {
		usedAt := redeemNow.Add(-time.Duration(10-i) * time.Minute)
		if code == "VH-00000001" {
			usedAt = redeemNow.Add(-time.Hour)
		}
		seedVoucher(repo, func(v *models.Voucher) {
			v.Code = code
			v.Status = enum.VoucherStatusUsed
			v.UsedAt = &usedAt
			v.TransferStatus = enum.TransferStatusDeferred
		})
	}

	report, err := newTestSweeper(repo, gateway, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Settled)

	require.Len(t, gateway.requests, 3)
	assert.Equal(t, "VH-00000001", gateway.requests[0].Metadata["voucher_code"])
	assert.Equal(t, "VH-00000003", gateway.requests[1].Metadata["voucher_code"])
	assert.Equal(t, "VH-00000002", gateway.requests[2].Metadata["voucher_code"])
}

func TestRedeemAdoptsTransferThatLandedDespiteTimeout(t *testing.T) {
	svc, repo, gateway := newTestService(timeout)
	seedVoucher(repo)
	ctx := context.Background()

	_, err := svc.Redeem(ctx, testCode, "4321")
	assert.ErrorIs(t, err, apperrors.ErrFatalSettlement)
	assert.Empty(t, gateway.lookups)

	// Stripe made the transfer after all; the idempotency key may be long gone.
	gateway.landed = map[string]*stripe.Transfer{
		testCode: {ID: "tr_landed", Amount: 1230},
	}

	result, err := svc.Redeem(ctx, testCode, "4321")
	require.NoError(t, err)
	assert.Equal(t, enum.TransferStatusSuccess, result.TransferStatus)

	stored := repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusUsed, stored.Status)
	assert.Equal(t, "tr_landed", stored.StripeTransferID)
	assert.Empty(t, stored.TransferError)

	assert.Len(t, gateway.requests, 1)
	require.Len(t, gateway.lookups, 1)
	assert.Equal(t, &processor.TransferQuery{
		DestinationAccount: "acct_123",
		TransferGroup:      "partner_surf-school",
		VoucherCode:        testCode,
	}, gateway.lookups[0])
}

func TestRedeemLookupFailureFailsClosed(t *testing.T) {
	svc, repo, gateway := newTestService(timeout)
	seedVoucher(repo)
	ctx := context.Background()

	_, err := svc.Redeem(ctx, testCode, "4321")
	require.Error(t, err)

	gateway.lookupErr = errors.New("stripe unavailable")
	_, err = svc.Redeem(ctx, testCode, "4321")
	assert.ErrorIs(t, err, apperrors.ErrFatalSettlement)

	stored := repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusActive, stored.Status)
	assert.Contains(t, stored.TransferError, "transfer_lookup_failed")
	assert.Zero(t, stored.TransferAttempts)
	assert.Len(t, gateway.requests, 1)
}

func TestSweepAdoptsLandedTransfer(t *testing.T) {
	repo := newMemoryRepository()
	usedAt := redeemNow.Add(-48 * time.Hour)
	seedVoucher(repo, func(v *models.Voucher) {
		v.Status = enum.VoucherStatusUsed
		v.UsedAt = &usedAt
		v.TransferStatus = enum.TransferStatusDeferred
		v.TransferError = "fatal settlement failure: request to Stripe timed out"
	})
	gateway := &scriptedGateway{landed: map[string]*stripe.Transfer{
		testCode: {ID: "tr_landed", Amount: 1230},
	}}

	report, err := newTestSweeper(repo, gateway, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Total: 1, Settled: 1}, report)

	stored := repo.get(testCode)
	assert.Equal(t, enum.TransferStatusSuccess, stored.TransferStatus)
	assert.Equal(t, "tr_landed", stored.StripeTransferID)
	assert.Empty(t, gateway.requests)
}

func TestRedeemResolvesMissingCharge(t *testing.T) {
	svc, repo, gateway := newTestService()
	gateway.chargeID = "ch_late"
	seedVoucher(repo, func(v *models.Voucher) {
		v.StripeChargeID = ""
		v.StripePaymentIntentID = "pi_123"
	})

	_, err := svc.Redeem(context.Background(), testCode, "4321")
	require.NoError(t, err)

	require.Len(t, gateway.requests, 1)
	assert.Equal(t, "ch_late", gateway.requests[0].SourceChargeID)
	assert.Equal(t, "ch_late", repo.get(testCode).StripeChargeID)
}

func TestRedeemChargeLookupFailureKeepsVoucherActive(t *testing.T) {
	svc, repo, gateway := newTestService()
	gateway.chargeErr = errors.New("stripe unavailable")
	seedVoucher(repo, func(v *models.Voucher) {
		v.StripeChargeID = ""
		v.StripePaymentIntentID = "pi_123"
	})

	_, err := svc.Redeem(context.Background(), testCode, "4321")
	assert.ErrorIs(t, err, apperrors.ErrFatalSettlement)

	stored := repo.get(testCode)
	assert.Equal(t, enum.VoucherStatusActive, stored.Status)
	assert.Contains(t, stored.TransferError, "charge_lookup_failed")
	assert.Empty(t, gateway.requests)
}

func TestSweepReachesVouchersBeyondFirstPage(t *testing.T) {
	repo := newMemoryRepository()
	total := defaultBatchSize + 1
	newest := ""
	for i := 0; i < total; i++ {
		usedAt := redeemNow.Add(time.Duration(i) * time.Minute)
		code := fmt.Sprintf("VH-%08X", i)
		newest = code
		seedVoucher(repo, func(v *models.Voucher) {
			v.Code = code
			v.Status = enum.VoucherStatusUsed
			v.UsedAt = &usedAt
			v.TransferStatus = enum.TransferStatusDeferred
		})
	}

	// The oldest batch belongs to a partner whose account was revoked.
	failures := make([]error, defaultBatchSize)
	for i := range failures {
		failures[i] = invalidAccount
	}
	gateway := &scriptedGateway{failures: failures}
	sweeper := newTestSweeper(repo, gateway, nil)

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Total: total, Settled: 1, Failed: defaultBatchSize}, report)
	assert.Equal(t, 2, repo.pages)

	stored := repo.get(newest)
	assert.Equal(t, enum.TransferStatusSuccess, stored.TransferStatus)
	assert.Equal(t, enum.TransferStatusDeferred, repo.get(fmt.Sprintf("VH-%08X", 0)).TransferStatus)
}

func TestSweepPagesWithEqualUsedAt(t *testing.T) {
	repo := newMemoryRepository()
	usedAt := redeemNow
	for i := 0; i < 5; i++ {
		code := fmt.Sprintf("VH-%08X", i)
		seedVoucher(repo, func(v *models.Voucher) {
			v.Code = code
			v.Status = enum.VoucherStatusUsed
			v.UsedAt = &usedAt
			v.TransferStatus = enum.TransferStatusDeferred
		})
	}
	gateway := &scriptedGateway{failures: []error{invalidAccount, invalidAccount}}
	sweeper := newTestSweeper(repo, gateway, nil)
	sweeper.batchSize = 2

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Total: 5, Settled: 3, Failed: 2}, report)
	assert.Equal(t, 3, repo.pages)
	assert.Len(t, gateway.requests, 5)
}
