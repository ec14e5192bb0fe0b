package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	mailgun "github.com/mailgun/mailgun-go/v3"
)

const sendTimeout = 10 * time.Second

// MailgunConfig identifies the Mailgun domain and recipients.
type MailgunConfig struct {
	Domain     string
	APIKey     string
	Sender     string
	Recipients []string
	// APIBase overrides the Mailgun endpoint, for the EU region or tests.
	APIBase string
}

// MailgunSender sends alerts as email through Mailgun.
type MailgunSender struct {
	mg         mailgun.Mailgun
	sender     string
	recipients []string
}

// NewMailgunSender validates cfg and returns a sender.
func NewMailgunSender(cfg MailgunConfig) (*MailgunSender, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, errors.New("alert: mailgun domain and api key are required")
	}
	if cfg.Sender == "" || len(cfg.Recipients) == 0 {
		return nil, errors.New("alert: sender and at least one recipient are required")
	}
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		mg.SetAPIBase(cfg.APIBase)
	}
	return &MailgunSender{mg: mg, sender: cfg.Sender, recipients: cfg.Recipients}, nil
}

// Send delivers one message with a 10 second timeout.
func (s *MailgunSender) Send(ctx context.Context, subject, body string) error {
	msg := s.mg.NewMessage(s.sender, subject, body, s.recipients...)

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, id, err := s.mg.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("mailgun: %w", err)
	}
	if id == "" {
		return fmt.Errorf("mailgun: no message id: %s", resp)
	}
	return nil
}
