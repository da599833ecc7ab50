package checkout_session

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/processor"
)

type fakePartners struct {
	partners map[string]*models.Partner
	soldOut  bool
}

func (f *fakePartners) GetBySlug(_ context.Context, slug string) (*models.Partner, error) {
	p, ok := f.partners[slug]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

func (f *fakePartners) EnsureStock(context.Context, string, string) error {
	if f.soldOut {
		return apperrors.ErrOutOfStock
	}
	return nil
}

type fakeSponsors struct {
	discounts map[string]float64
}

func (f *fakeSponsors) Validate(_ context.Context, code string) (float64, string, error) {
	d, ok := f.discounts[code]
	if !ok {
		return 0, "", apperrors.ErrNotFound
	}
	return d, "Acme", nil
}

func (f *fakeSponsors) Claim(context.Context, pgx.Tx, string) (bool, error) {
	return true, nil
}

type recordingGateway struct {
	processor.Gateway
	last *processor.CheckoutSessionRequest
}

func (g *recordingGateway) CreateCheckoutSession(_ context.Context, req *processor.CheckoutSessionRequest) (*stripe.CheckoutSession, error) {
	g.last = req
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
}

func newTestService() (Service, *recordingGateway, *fakePartners) {
	account := "acct_123"
	partners := &fakePartners{partners: map[string]*models.Partner{
		"surf-school": {Slug: "surf-school", Name: "Surf School", StripeAccountID: &account},
		"no-payout":   {Slug: "no-payout", Name: "No Payout"},
	}}
	sponsors := &fakeSponsors{discounts: map[string]float64{"ACME-01": 5, "GREEDY": 20}}
	gateway := &recordingGateway{}
	cfg := &config.Config{App: config.AppConfig{FrontendURL: "https://voucherhub.pt/", DefaultCurrency: "eur"}}

	return NewService(cfg, partners, sponsors, gateway, zap.NewNop()), gateway, partners
}

func TestCreateWithoutSponsor(t *testing.T) {
	svc, gateway, _ := newTestService()

	session, err := svc.Create(context.Background(), &models.CheckoutRequest{
		Email:       "buyer@example.com",
		PartnerSlug: "surf-school",
		ProductName: "Surf lesson",
		Amount:      1500,
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, int64(1500), session.AmountToCharge)
	require.NotNil(t, gateway.last)
	assert.Equal(t, int64(1500), gateway.last.Amount)
	assert.Equal(t, int64(270), gateway.last.PlatformFee)
	assert.Equal(t, "eur", gateway.last.Currency)
	assert.Equal(t, "acct_123", gateway.last.DestinationAccount)
	assert.Equal(t, "https://voucherhub.pt/success.html?session_id={CHECKOUT_SESSION_ID}", gateway.last.SuccessURL)

	meta, err := models.ParseCheckoutMetadata(gateway.last.Metadata)
	require.NoError(t, err)
	assert.Equal(t, int64(1230), meta.PartnerShare)
	assert.Equal(t, int64(1500), meta.OriginalPrice)
}

func TestCreateWithSponsor(t *testing.T) {
	svc, gateway, _ := newTestService()

	session, err := svc.Create(context.Background(), &models.CheckoutRequest{
		Email:       "buyer@example.com",
		PartnerSlug: "surf-school",
		ProductName: "Surf lesson",
		Amount:      1275,
		Currency:    "EUR",
		SponsorCode: " acme-01 ",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1211), session.AmountToCharge)
	assert.Equal(t, int64(166), gateway.last.PlatformFee)

	meta, err := models.ParseCheckoutMetadata(gateway.last.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "ACME-01", meta.SponsorCode)
	assert.Equal(t, 5.0, meta.ExtraDiscount)
	assert.Equal(t, int64(1045), meta.PartnerShare)
}

func TestCreateRejections(t *testing.T) {
	svc, gateway, partners := newTestService()
	ctx := context.Background()

	valid := func() *models.CheckoutRequest {
		return &models.CheckoutRequest{
			Email:       "buyer@example.com",
			PartnerSlug: "surf-school",
			ProductName: "Surf lesson",
			Amount:      1500,
		}
	}

	req := valid()
	req.Email = "not-an-email"
	_, err := svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	req = valid()
	req.Amount = -10
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	req = valid()
	req.PartnerSlug = "unknown"
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	req = valid()
	req.PartnerSlug = "no-payout"
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	req = valid()
	req.SponsorCode = "GREEDY"
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrDiscountExceedsMargin)

	partners.soldOut = true
	_, err = svc.Create(ctx, valid())
	assert.ErrorIs(t, err, apperrors.ErrOutOfStock)

	assert.Nil(t, gateway.last)
}
