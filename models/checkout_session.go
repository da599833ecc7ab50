package models

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"goflare.io/voucherhub/apperrors"
)

// CheckoutMetadataVersion is bumped whenever the metadata layout changes.
const CheckoutMetadataVersion = "1"

// CheckoutRequest is what a buyer submits to start a purchase.
// Amount is already reduced by the partner's standing discount.
type CheckoutRequest struct {
	Email         string `json:"email"`
	PartnerSlug   string `json:"partner_slug"`
	ProductName   string `json:"product_name"`
	Amount        int64  `json:"amount"`
	OriginalPrice int64  `json:"original_price"`
	Currency      string `json:"currency"`
	SponsorCode   string `json:"sponsor_code"`
}

type CheckoutSession struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	AmountToCharge int64  `json:"amount_to_charge"`
}

// CheckoutMetadata is the bookkeeping stashed on the Stripe session between
// checkout and payment confirmation. Stripe is its only durable store.
type CheckoutMetadata struct {
	Email          string
	PartnerSlug    string
	ProductName    string
	OriginalPrice  int64
	BaseAmount     int64
	SponsorCode    string
	SponsorName    string
	ExtraDiscount  float64
	PlatformFee    int64
	PartnerShare   int64
	DestinationAcc string
}

const (
	metaVersion       = "schema_version"
	metaEmail         = "email"
	metaPartnerSlug   = "partner_slug"
	metaProductName   = "product_name"
	metaOriginalPrice = "original_price"
	metaBaseAmount    = "base_amount"
	metaSponsorCode   = "sponsor_code"
	metaSponsorName   = "sponsor_name"
	metaExtraDiscount = "extra_discount"
	metaPlatformFee   = "platform_fee"
	metaPartnerShare  = "partner_share"
	metaDestination   = "destination_account"
)

func (m *CheckoutMetadata) ToMap() map[string]string {
	return map[string]string{
		metaVersion:       CheckoutMetadataVersion,
		metaEmail:         m.Email,
		metaPartnerSlug:   m.PartnerSlug,
		metaProductName:   m.ProductName,
		metaOriginalPrice: strconv.FormatInt(m.OriginalPrice, 10),
		metaBaseAmount:    strconv.FormatInt(m.BaseAmount, 10),
		metaSponsorCode:   m.SponsorCode,
		metaSponsorName:   m.SponsorName,
		metaExtraDiscount: strconv.FormatFloat(m.ExtraDiscount, 'f', -1, 64),
		metaPlatformFee:   strconv.FormatInt(m.PlatformFee, 10),
		metaPartnerShare:  strconv.FormatInt(m.PartnerShare, 10),
		metaDestination:   m.DestinationAcc,
	}
}

// ParseCheckoutMetadata validates metadata that came back from Stripe. The
// payload is attacker-influenceable in principle, so every field is checked.
func ParseCheckoutMetadata(raw map[string]string) (*CheckoutMetadata, error) {
	if raw[metaVersion] != CheckoutMetadataVersion {
		return nil, apperrors.Validation("unsupported checkout metadata version %q", raw[metaVersion])
	}

	m := &CheckoutMetadata{
		Email:          strings.TrimSpace(raw[metaEmail]),
		PartnerSlug:    strings.TrimSpace(raw[metaPartnerSlug]),
		ProductName:    strings.TrimSpace(raw[metaProductName]),
		SponsorCode:    NormalizeCode(raw[metaSponsorCode]),
		SponsorName:    strings.TrimSpace(raw[metaSponsorName]),
		DestinationAcc: strings.TrimSpace(raw[metaDestination]),
	}

	if m.PartnerSlug == "" {
		return nil, apperrors.Validation("checkout metadata missing %s", metaPartnerSlug)
	}
	if m.Email != "" {
		if _, err := mail.ParseAddress(m.Email); err != nil {
			return nil, apperrors.Validation("checkout metadata has invalid email %q", m.Email)
		}
	}

	var err error
	if m.BaseAmount, err = parsePositiveInt(raw, metaBaseAmount, true); err != nil {
		return nil, err
	}
	if m.OriginalPrice, err = parsePositiveInt(raw, metaOriginalPrice, false); err != nil {
		return nil, err
	}
	if m.PlatformFee, err = parsePositiveInt(raw, metaPlatformFee, false); err != nil {
		return nil, err
	}
	if m.PartnerShare, err = parsePositiveInt(raw, metaPartnerShare, false); err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(raw[metaExtraDiscount]); v != "" {
		m.ExtraDiscount, err = strconv.ParseFloat(v, 64)
		if err != nil || m.ExtraDiscount < 0 || m.ExtraDiscount > 100 {
			return nil, apperrors.Validation("checkout metadata has invalid %s %q", metaExtraDiscount, v)
		}
	}
	if m.ExtraDiscount > 0 && m.SponsorCode == "" {
		return nil, apperrors.Validation("checkout metadata has a discount without a sponsor code")
	}
	if m.SponsorCode != "" && m.ExtraDiscount == 0 {
		return nil, apperrors.Validation("checkout metadata has sponsor code %s without a discount", m.SponsorCode)
	}

	return m, nil
}

func parsePositiveInt(raw map[string]string, key string, required bool) (int64, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		if required {
			return 0, apperrors.Validation("checkout metadata missing %s", key)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 || (required && n == 0) {
		return 0, apperrors.Validation("checkout metadata has invalid %s %q", key, v)
	}
	return n, nil
}

// CompletedCheckout is the subset of a paid Stripe checkout session the
// issuer needs.
type CompletedCheckout struct {
	SessionID       string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	Metadata        map[string]string
}

func (c *CompletedCheckout) String() string {
	return fmt.Sprintf("session=%s amount=%d %s", c.SessionID, c.AmountTotal, c.Currency)
}

// NormalizeCode trims and uppercases a voucher or sponsor code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
