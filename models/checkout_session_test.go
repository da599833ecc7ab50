package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/voucherhub/apperrors"
)

func sampleMetadata() *CheckoutMetadata {
	return &CheckoutMetadata{
		Email:          "buyer@example.com",
		PartnerSlug:    "surf-wave-lisbon",
		ProductName:    "Surf lesson",
		OriginalPrice:  1500,
		BaseAmount:     1275,
		SponsorCode:    "ACME-01",
		SponsorName:    "Acme",
		ExtraDiscount:  5,
		PlatformFee:    166,
		PartnerShare:   1045,
		DestinationAcc: "acct_123",
	}
}

func TestCheckoutMetadataRoundTrip(t *testing.T) {
	in := sampleMetadata()

	out, err := ParseCheckoutMetadata(in.ToMap())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseCheckoutMetadataRejectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"unknown version", func(m map[string]string) { m["schema_version"] = "0" }},
		{"missing partner", func(m map[string]string) { delete(m, "partner_slug") }},
		{"zero base amount", func(m map[string]string) { m["base_amount"] = "0" }},
		{"negative fee", func(m map[string]string) { m["platform_fee"] = "-5" }},
		{"non numeric discount", func(m map[string]string) { m["extra_discount"] = "lots" }},
		{"discount without code", func(m map[string]string) { m["sponsor_code"] = "" }},
		{"code without discount", func(m map[string]string) { m["extra_discount"] = "0" }},
		{"bad email", func(m map[string]string) { m["email"] = "not-an-email" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := sampleMetadata().ToMap()
			tt.mutate(raw)

			_, err := ParseCheckoutMetadata(raw)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ACME-01", NormalizeCode("  acme-01 \n"))
	assert.Equal(t, "", NormalizeCode("   "))
}
