// Package notifier delivers transactional email to buyers.
package notifier

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"goflare.io/voucherhub/config"
)

type Notifier interface {
	Send(ctx context.Context, to, subject, html string) error
}

// NewNotifier returns a Resend backed notifier, or one that only logs when no
// API key is configured.
func NewNotifier(cfg *config.Config, logger *zap.Logger) Notifier {
	if cfg.Resend.APIKey == "" {
		logger.Warn("Resend API key not configured, emails will only be logged")
		return &logNotifier{logger: logger}
	}
	return &resendNotifier{
		client: resend.NewClient(cfg.Resend.APIKey),
		from:   cfg.Resend.From,
		logger: logger,
	}
}

type resendNotifier struct {
	client *resend.Client
	from   string
	logger *zap.Logger
}

func (n *resendNotifier) Send(ctx context.Context, to, subject, html string) error {
	sent, err := n.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("Email sent", zap.String("to", to), zap.String("email_id", sent.Id))
	return nil
}

type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) Send(_ context.Context, to, subject, _ string) error {
	n.logger.Info("Email not sent, notifier disabled", zap.String("to", to), zap.String("subject", subject))
	return nil
}
