package notify

import (
	"context"

	"github.com/ashgrove-care/carewatch/internal/monitoring"
)

// LogSender is the default delivery transport: it writes notifications to the
// service log instead of sending them. Deployments wire a real SMS or email
// provider in its place.
type LogSender struct{}

// SendSMS implements Sender.
func (LogSender) SendSMS(ctx context.Context, phone, body string) error {
	monitoring.Logf("notify: [SMS to %s] %s", phone, body)
	return nil
}

// SendEmail implements Sender.
func (LogSender) SendEmail(ctx context.Context, email, subject, body string) error {
	monitoring.Logf("notify: [email to %s] %s: %s", email, subject, body)
	return nil
}
