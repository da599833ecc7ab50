package checkout_session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"goflare.io/voucherhub/apperrors"
	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/partner"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/split"
	"goflare.io/voucherhub/sponsor"
)

// Service creates hosted checkout sessions. Nothing is persisted locally:
// until Stripe confirms the payment, the session metadata is the only record.
type Service interface {
	Create(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutSession, error)
}

type service struct {
	partner     partner.Service
	sponsor     sponsor.Service
	gateway     processor.Gateway
	frontendURL string
	currency    string
	logger      *zap.Logger
}

func NewService(
	cfg *config.Config,
	partner partner.Service,
	sponsor sponsor.Service,
	gateway processor.Gateway,
	logger *zap.Logger,
) Service {
	currency := cfg.App.DefaultCurrency
	if currency == "" {
		currency = "eur"
	}
	return &service{
		partner:     partner,
		sponsor:     sponsor,
		gateway:     gateway,
		frontendURL: strings.TrimRight(cfg.App.FrontendURL, "/"),
		currency:    currency,
		logger:      logger,
	}
}

func (s *service) Create(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutSession, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	partnerModel, err := s.partner.GetBySlug(ctx, req.PartnerSlug)
	if err != nil {
		return nil, err
	}
	if partnerModel.PayoutAccount() == "" {
		return nil, apperrors.Validation("partner %s has no payout account configured", partnerModel.Slug)
	}

	if err = s.partner.EnsureStock(ctx, partnerModel.Slug, req.ProductName); err != nil {
		return nil, err
	}

	var (
		discount    float64
		sponsorName string
		sponsorCode = models.NormalizeCode(req.SponsorCode)
	)
	if sponsorCode != "" {
		discount, sponsorName, err = s.sponsor.Validate(ctx, sponsorCode)
		if err != nil {
			return nil, err
		}
	}

	result, err := split.Calculate(req.Amount, discount)
	if err != nil {
		if errors.Is(err, apperrors.ErrDiscountExceedsMargin) {
			s.logger.Warn("Sponsor code discount exceeds platform margin",
				zap.String("sponsor_code", sponsorCode),
				zap.Float64("extra_discount", discount))
		}
		return nil, err
	}

	metadata := &models.CheckoutMetadata{
		Email:          req.Email,
		PartnerSlug:    partnerModel.Slug,
		ProductName:    req.ProductName,
		OriginalPrice:  req.OriginalPrice,
		BaseAmount:     req.Amount,
		SponsorCode:    sponsorCode,
		SponsorName:    sponsorName,
		ExtraDiscount:  discount,
		PlatformFee:    result.PlatformFeeAmount,
		PartnerShare:   result.PartnerShareAmount,
		DestinationAcc: partnerModel.PayoutAccount(),
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, &processor.CheckoutSessionRequest{
		Email:              req.Email,
		ProductName:        req.ProductName,
		Amount:             result.AmountToCharge,
		Currency:           req.Currency,
		PlatformFee:        result.PlatformFeeAmount,
		DestinationAccount: partnerModel.PayoutAccount(),
		TransferGroup:      fmt.Sprintf("partner_%s", partnerModel.Slug),
		SuccessURL:         s.frontendURL + "/success.html?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:          s.frontendURL + "/cancel.html",
		Metadata:           metadata.ToMap(),
	})
	if err != nil {
		s.logger.Error("Failed to create checkout session",
			zap.Error(err),
			zap.String("partner_slug", partnerModel.Slug),
			zap.Int64("amount", result.AmountToCharge))
		return nil, err
	}

	s.logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.String("partner_slug", partnerModel.Slug),
		zap.Int64("amount_to_charge", result.AmountToCharge),
		zap.Int64("platform_fee", result.PlatformFeeAmount),
		zap.Int64("partner_share", result.PartnerShareAmount),
		zap.String("sponsor_code", sponsorCode))

	return &models.CheckoutSession{
		ID:             session.ID,
		URL:            session.URL,
		AmountToCharge: result.AmountToCharge,
	}, nil
}

func (s *service) validate(req *models.CheckoutRequest) error {
	if req == nil {
		return apperrors.Validation("missing checkout request")
	}

	req.Email = strings.TrimSpace(req.Email)
	req.PartnerSlug = strings.TrimSpace(req.PartnerSlug)
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))

	if req.Email == "" || req.PartnerSlug == "" || req.ProductName == "" || req.Amount == 0 {
		return apperrors.Validation("missing fields: email, partner_slug, product_name, amount")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return apperrors.Validation("invalid email %q", req.Email)
	}
	if req.Amount < 0 {
		return apperrors.Validation("amount must be positive")
	}
	if req.OriginalPrice < 0 {
		return apperrors.Validation("original price must not be negative")
	}
	if req.OriginalPrice == 0 {
		req.OriginalPrice = req.Amount
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}

	return nil
}
