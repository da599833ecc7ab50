package voucher

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"goflare.io/voucherhub/models"
)

var buyerEmail = template.Must(template.New("voucher").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Your voucher for {{.PartnerName}}</h2>
  <p>Thank you for your purchase of <strong>{{.ProductName}}</strong>.</p>
  <p style="font-size: 24px; letter-spacing: 2px;"><strong>{{.Code}}</strong></p>
  <table>
    {{if .OriginalPrice}}<tr><td>Original price</td><td>{{.OriginalPrice}}</td></tr>{{end}}
    <tr><td>Partner discount</td><td>{{.Discount}}%</td></tr>
    {{if .SponsorName}}<tr><td>Offered by</td><td>{{.SponsorName}}</td></tr>{{end}}
    <tr><td>Paid</td><td>{{.AmountPaid}}</td></tr>
    <tr><td>Valid until</td><td>{{.ExpiresAt}}</td></tr>
  </table>
  <p>Show this code to {{.PartnerName}} on the day. They will confirm it with their PIN.</p>
</body>
</html>`))

type buyerEmailData struct {
	Code          string
	PartnerName   string
	ProductName   string
	OriginalPrice string
	Discount      int
	SponsorName   string
	AmountPaid    string
	ExpiresAt     string
}

func renderBuyerEmail(voucher *models.Voucher, partner *models.Partner, meta *models.CheckoutMetadata) (string, string, error) {
	data := buyerEmailData{
		Code:        voucher.Code,
		PartnerName: partner.Name,
		ProductName: voucher.ProductName,
		Discount:    partner.StandingDiscount(),
		SponsorName: meta.SponsorName,
		AmountPaid:  formatAmount(voucher.AmountCharged, voucher.Currency),
		ExpiresAt:   voucher.ExpiresAt.Format(time.DateOnly),
	}
	if meta.OriginalPrice > 0 {
		data.OriginalPrice = formatAmount(meta.OriginalPrice, voucher.Currency)
	}

	var buf bytes.Buffer
	if err := buyerEmail.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render voucher email: %w", err)
	}

	subject := fmt.Sprintf("Your voucher %s for %s", voucher.Code, partner.Name)
	return subject, buf.String(), nil
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
