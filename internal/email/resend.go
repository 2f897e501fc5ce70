package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// ResendConfig holds the configuration for the Resend email sender.
type ResendConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
}

// ResendSender implements Sender using the Resend transactional email API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a new ResendSender
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resend: api key is required")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("resend: from address is required")
	}

	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}

	return &ResendSender{
		client: resend.NewClient(cfg.APIKey),
		from:   from,
	}, nil
}

// Send sends an email via Resend
func (s *ResendSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return nil, classifyResendError(err)
	}

	return &Receipt{
		Provider:   "resend",
		MessageID:  sent.Id,
		AcceptedAt: time.Now().UTC(),
	}, nil
}

// classifyResendError maps Resend API failures onto the delivery taxonomy.
// Rate limits and missing fields have typed errors; every other API failure
// only carries the response message.
func classifyResendError(err error) error {
	if de := AsDeliveryError(err); de.Code != "unknown" {
		return de
	}

	var rateLimited *resend.RateLimitError
	if errors.As(err, &rateLimited) {
		reason := "resend rate limit exceeded"
		if rateLimited.RetryAfter != "" {
			reason += ", retry after " + rateLimited.RetryAfter + "s"
		}
		return NewTransientError("rate_limited", reason, err)
	}
	if errors.Is(err, resend.ErrRateLimit) {
		return NewTransientError("rate_limited", "resend rate limit exceeded", err)
	}
	var missing *resend.MissingRequiredFieldsError
	if errors.As(err, &missing) {
		return NewPermanentError("invalid_message", "resend rejected the message: missing required fields", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return NewTransientError("rate_limited", "resend rate limit exceeded", err)
	case strings.Contains(msg, "internal server error"), strings.Contains(msg, "service unavailable"):
		return NewTransientError("provider_unavailable", "resend is unavailable", err)
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return NewPermanentError("provider_auth", "resend rejected the api key", err)
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid"):
		return NewPermanentError("invalid_recipient", "resend rejected the message", err)
	default:
		return NewTransientError("unknown", "resend call failed", err)
	}
}
