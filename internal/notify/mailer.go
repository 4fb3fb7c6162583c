package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mailersend/mailersend-go"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// MailerConfig configures outgoing email
type MailerConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
}

// MailerSendMailer delivers messages through MailerSend
type MailerSendMailer struct {
	client *mailersend.Mailersend
	from   mailersend.From
}

// NewMailerSendMailer creates a MailerSend-backed mailer
func NewMailerSendMailer(cfg MailerConfig) (*MailerSendMailer, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("email.api_key", "is required")
	}
	if cfg.FromEmail == "" {
		return nil, domain.NewValidationError("email.from_email", "is required")
	}
	return &MailerSendMailer{
		client: mailersend.NewMailersend(cfg.APIKey),
		from:   mailersend.From{Name: cfg.FromName, Email: cfg.FromEmail},
	}, nil
}

// Send delivers one message
func (m *MailerSendMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return domain.NewValidationError("to", "recipient is required")
	}

	message := m.client.Email.NewMessage()
	message.SetFrom(m.from)
	message.SetRecipients([]mailersend.Recipient{{Email: msg.To}})
	message.SetSubject(msg.Subject)
	message.SetText(msg.Text)
	message.SetHTML(msg.HTML)

	resp, err := m.client.Email.Send(ctx, message)
	if err != nil {
		upstream := &domain.UpstreamError{Service: "mailersend", Message: "send failed", Err: err}
		if resp != nil && resp.Response != nil {
			upstream.StatusCode = resp.StatusCode
			upstream.Status = http.StatusText(resp.StatusCode)
		}
		return upstream
	}
	return nil
}

// String identifies the sender for logs
func (m *MailerSendMailer) String() string {
	return fmt.Sprintf("mailersend(%s)", m.from.Email)
}
