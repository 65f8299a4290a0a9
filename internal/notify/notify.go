// Package notify delivers validation codes by e-mail or SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opina/server/internal/config"
	"github.com/opina/server/internal/model"
)

// ErrNotConfigured is returned when no sender is configured for a channel.
var ErrNotConfigured = errors.New("notification channel not configured")

const codeSubject = "Code de validation Opina"

// EmailSender sends a plain text e-mail
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends a text message
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Gateway can reach users on both channels
type Gateway interface {
	EmailSender
	SMSSender
}

// Dispatcher routes validation codes to the sender of the requested channel.
// A nil sender means the channel is not available.
type Dispatcher struct {
	email   EmailSender
	sms     SMSSender
	codeTTL time.Duration
}

// NewDispatcher creates a dispatcher over the given senders
func NewDispatcher(email EmailSender, sms SMSSender, codeTTL time.Duration) *Dispatcher {
	return &Dispatcher{email: email, sms: sms, codeTTL: codeTTL}
}

// FromConfig builds the dispatcher for the configured providers. In dev mode
// a channel without provider falls back to the logging sender.
func FromConfig(cfg *config.Config) *Dispatcher {
	var email EmailSender
	var sms SMSSender
	if cfg.Brevo.Enabled() {
		email = NewBrevoSender(cfg.Brevo)
	}
	if cfg.Twilio.Enabled() {
		sms = NewTwilioSender(cfg.Twilio)
	}
	if cfg.DevMode {
		if email == nil {
			email = LogSender{}
		}
		if sms == nil {
			sms = LogSender{}
		}
	}
	return NewDispatcher(email, sms, cfg.ValidationCodeTTL)
}

// SendEmail implements Gateway
func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	if d.email == nil {
		return ErrNotConfigured
	}
	return d.email.SendEmail(ctx, to, subject, body)
}

// SendSMS implements Gateway
func (d *Dispatcher) SendSMS(ctx context.Context, to, body string) error {
	if d.sms == nil {
		return ErrNotConfigured
	}
	return d.sms.SendSMS(ctx, to, body)
}

// SendCode delivers a validation code to the destination on channel
func (d *Dispatcher) SendCode(ctx context.Context, channel model.Channel, to, code string) error {
	switch channel {
	case model.ChannelEmail:
		return d.SendEmail(ctx, to, codeSubject, CodeEmailBody(code, d.codeTTL))
	case model.ChannelSMS:
		return d.SendSMS(ctx, to, CodeSMSBody(code))
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
}

// CodeEmailBody is the e-mail text carrying a validation code
func CodeEmailBody(code string, ttl time.Duration) string {
	return fmt.Sprintf("Votre code de validation est: %s\n\nCe code expire dans %d minutes.", code, int(ttl.Minutes()))
}

// CodeSMSBody is the SMS text carrying a validation code
func CodeSMSBody(code string) string {
	return fmt.Sprintf("Votre code de validation Opina est: %s", code)
}
