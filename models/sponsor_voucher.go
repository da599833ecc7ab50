package models

import "time"

// SponsorVoucher is a one-time promotional code funded from the platform margin.
type SponsorVoucher struct {
	ID            int64      `json:"id"`
	Code          string     `json:"code"`
	Sponsor       string     `json:"sponsor"`
	DiscountExtra float64    `json:"discount_extra"`
	Used          bool       `json:"used"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
}
