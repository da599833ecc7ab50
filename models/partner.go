package models

import "time"

const (
	DefaultVoucherValidityDays = 60
	DefaultPartnerDiscount     = 15
)

// Partner is a service provider whose experiences are sold as vouchers.
// PIN is a low-assurance shared secret typed on site to authorize redemption.
type Partner struct {
	ID                  int64     `json:"id"`
	Slug                string    `json:"slug"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	StripeAccountID     *string   `json:"stripe_account_id,omitempty"`
	PIN                 string    `json:"-"`
	VoucherValidityDays int       `json:"voucher_validity_days"`
	DiscountPercent     int       `json:"discount_percent"`
	CreatedAt           time.Time `json:"created_at"`
}

func NewPartner() *Partner {
	return &Partner{}
}

func (p *Partner) ValidityDays() int {
	if p.VoucherValidityDays <= 0 {
		return DefaultVoucherValidityDays
	}
	return p.VoucherValidityDays
}

func (p *Partner) StandingDiscount() int {
	if p.DiscountPercent <= 0 {
		return DefaultPartnerDiscount
	}
	return p.DiscountPercent
}

func (p *Partner) PayoutAccount() string {
	if p.StripeAccountID == nil {
		return ""
	}
	return *p.StripeAccountID
}

// OfferInventory caps how many vouchers may be sold for one partner offer.
// A nil StockLimit means unlimited.
type OfferInventory struct {
	PartnerSlug string `json:"partner_slug"`
	OfferTitle  string `json:"offer_title"`
	StockLimit  *int64 `json:"stock_limit,omitempty"`
}
