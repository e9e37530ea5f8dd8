// Package notify sends the worker's outbound side effects that have no state coupling:
// the build confirmation mail and subscription analytics events.
package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

// Confirmation describes a finished dapp build.
type Confirmation struct {
	OwnerEmail string
	DappName   string
	DNSName    string
}

// SendGrid delivers confirmation mail through the SendGrid v3 API.
type SendGrid struct {
	client *sendgrid.Client
	from   *mail.Email
	exec   *retry.Executor
	logger *zap.Logger
}

// NewSendGrid constructs the mailer. An empty apiKey yields a mailer that only logs.
func NewSendGrid(apiKey, from string, exec *retry.Executor, logger *zap.Logger) *SendGrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SendGrid{from: mail.NewEmail("DappBot", from), exec: exec, logger: logger}
	if apiKey != "" {
		s.client = sendgrid.NewSendClient(apiKey)
	}
	return s
}

// SendConfirmation tells the owner their dapp is live.
func (s *SendGrid) SendConfirmation(ctx context.Context, c Confirmation) error {
	if s.client == nil {
		s.logger.Info("sendgrid disabled, skipping confirmation mail",
			zap.String("owner_email", c.OwnerEmail),
			zap.String("dapp_name", c.DappName),
		)
		return nil
	}

	subject := fmt.Sprintf("Your dapp %s is ready", c.DappName)
	text := fmt.Sprintf("Your dapp %s has finished building and is available at https://%s", c.DappName, c.DNSName)
	html := fmt.Sprintf("<p>Your dapp <strong>%s</strong> has finished building and is available at <a href=\"https://%s\">%s</a>.</p>",
		c.DappName, c.DNSName, c.DNSName)
	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", c.OwnerEmail), text, html)

	return s.exec.Do(ctx, "sendgrid.Send", retry.Default, func(ctx context.Context) error {
		resp, err := s.client.SendWithContext(ctx, msg)
		if err != nil {
			return err
		}
		return statusError(resp.StatusCode, resp.Body)
	})
}

// statusError maps a SendGrid response status onto the retry taxonomy.
func statusError(code int, body string) error {
	switch {
	case code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("sendgrid: status %d: %s", code, body)
	default:
		return retry.Permanent(fmt.Errorf("sendgrid: status %d: %s", code, body))
	}
}
