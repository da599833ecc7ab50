package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/lock"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/voucher"
)

type memoryRepository struct {
	voucher.Repository
	mu       sync.Mutex
	vouchers map[string]*models.Voucher
	pin      string
	account  string
	pages    int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		vouchers: map[string]*models.Voucher{},
		pin:      "4321",
		account:  "acct_123",
	}
}

func (m *memoryRepository) get(code string) models.Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.vouchers[code]
}

func (m *memoryRepository) GetForUpdate(_ context.Context, _ pgx.Tx, code string) (*models.LockedVoucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[code]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &models.LockedVoucher{
		Voucher:         *v,
		PartnerPIN:      m.pin,
		PartnerName:     "Surf School",
		StripeAccountID: m.account,
	}, nil
}

func (m *memoryRepository) MarkRedeemed(_ context.Context, _ pgx.Tx, v *models.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.vouchers[v.Code]
	if stored.Status != enum.VoucherStatusActive {
		return apperrors.ErrAlreadyConsumed
	}
	stored.Status = v.Status
	stored.UsedAt = v.UsedAt
	stored.TransferStatus = v.TransferStatus
	stored.StripeTransferID = v.StripeTransferID
	stored.TransferError = v.TransferError
	stored.TransferAttempts = v.TransferAttempts
	if v.StripeChargeID != "" {
		stored.StripeChargeID = v.StripeChargeID
	}
	return nil
}

func (m *memoryRepository) MarkTransferSucceeded(_ context.Context, _ pgx.Tx, code, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.vouchers[code]
	stored.TransferStatus = enum.TransferStatusSuccess
	stored.StripeTransferID = transferID
	stored.TransferError = ""
	return nil
}

func (m *memoryRepository) RecordTransferFailure(_ context.Context, _ pgx.Tx, code, message string, bumpAttempt bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.vouchers[code]
	stored.TransferError = message
	if bumpAttempt {
		stored.TransferAttempts++
	}
	return nil
}

func (m *memoryRepository) ListDeferred(_ context.Context, after *models.Voucher, limit int) ([]*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Voucher
	for _, v := range m.vouchers {
		if v.TransferStatus == enum.TransferStatusDeferred {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return deferredBefore(out[i], out[j]) })
	if after != nil {
		n := sort.Search(len(out), func(i int) bool { return deferredBefore(after, out[i]) })
		out = out[n:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	m.pages++
	return out, nil
}

func deferredBefore(a, b *models.Voucher) bool {
	if !a.UsedAt.Equal(*b.UsedAt) {
		return a.UsedAt.Before(*b.UsedAt)
	}
	return a.ID < b.ID
}

// scriptedGateway answers CreateTransfer with the queued errors, then succeeds.
// landed holds transfers Stripe made even though the caller saw an error.
type scriptedGateway struct {
	processor.Gateway
	mu        sync.Mutex
	failures  []error
	requests  []*processor.TransferRequest
	landed    map[string]*stripe.Transfer
	lookups   []*processor.TransferQuery
	lookupErr error
	chargeID  string
	chargeErr error
}

func (g *scriptedGateway) FindTransfer(_ context.Context, query *processor.TransferQuery) (*stripe.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups = append(g.lookups, query)
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	return g.landed[query.VoucherCode], nil
}

func (g *scriptedGateway) LatestChargeID(context.Context, string) (string, error) {
	return g.chargeID, g.chargeErr
}

func (g *scriptedGateway) CreateTransfer(_ context.Context, req *processor.TransferRequest) (*stripe.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		return nil, fmt.Errorf("failed to create Stripe transfer: %w", err)
	}
	return &stripe.Transfer{ID: fmt.Sprintf("tr_%d", len(g.requests)), Amount: req.Amount}, nil
}

func (g *scriptedGateway) keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.requests))
	for _, r := range g.requests {
		keys = append(keys, r.IdempotencyKey)
	}
	return keys
}

type fakeTransactor struct{}

func (fakeTransactor) ExecuteTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeLocker struct {
	held     bool
	released int
}

type fakeLock struct{ locker *fakeLocker }

func (l fakeLock) Release(context.Context) error {
	l.locker.held = false
	l.locker.released++
	return nil
}

func (f *fakeLocker) Obtain(context.Context, string, time.Duration) (lock.Lock, error) {
	if f.held {
		return nil, lock.ErrNotObtained
	}
	f.held = true
	return fakeLock{locker: f}, nil
}

var (
	insufficientBalance = &stripe.Error{
		Code:           stripe.ErrorCodeBalanceInsufficient,
		HTTPStatusCode: 400,
		Msg:            "Insufficient funds in Stripe account",
	}
	invalidAccount = &stripe.Error{
		Code:           stripe.ErrorCode("account_invalid"),
		HTTPStatusCode: 400,
		Msg:            "No such destination",
	}
	timeout = fmt.Errorf("request to Stripe timed out: %w", context.DeadlineExceeded)
)
