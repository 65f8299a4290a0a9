package notify

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// LogSender writes messages to the server log instead of delivering them.
// Only used in dev mode.
type LogSender struct{}

func (LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	log.Printf("notify[%s]: email to %s subject=%q body=%q", uuid.NewString(), MaskEmail(to), subject, body)
	return nil
}

func (LogSender) SendSMS(_ context.Context, to, body string) error {
	log.Printf("notify[%s]: sms to %s body=%q", uuid.NewString(), MaskPhone(to), body)
	return nil
}
