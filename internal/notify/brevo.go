package notify

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"github.com/opina/server/internal/config"
)

// BrevoSender sends transactional e-mail through the Brevo API
type BrevoSender struct {
	client *brevo.APIClient
	sender *brevo.SendSmtpEmailSender
}

// NewBrevoSender creates a sender for the configured account
func NewBrevoSender(cfg config.BrevoConfig) *BrevoSender {
	return newBrevoSender(cfg, "")
}

// newBrevoSender overrides the API base path when basePath is set
func newBrevoSender(cfg config.BrevoConfig, basePath string) *BrevoSender {
	bcfg := brevo.NewConfiguration()
	bcfg.AddDefaultHeader("api-key", cfg.APIKey)
	bcfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	if basePath != "" {
		bcfg.BasePath = basePath
	}
	return &BrevoSender{
		client: brevo.NewAPIClient(bcfg),
		sender: &brevo.SendSmtpEmailSender{Name: cfg.SenderName, Email: cfg.SenderEmail},
	}
}

func (b *BrevoSender) SendEmail(ctx context.Context, to, subject, body string) error {
	_, _, err := b.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender:      b.sender,
		To:          []brevo.SendSmtpEmailTo{{Email: to}},
		Subject:     subject,
		TextContent: body,
		HtmlContent: "<p>" + strings.ReplaceAll(html.EscapeString(body), "\n", "<br>") + "</p>",
	})
	if err != nil {
		return fmt.Errorf("brevo: send email: %w", err)
	}

	log.Printf("notify: email sent to %s", MaskEmail(to))
	return nil
}
