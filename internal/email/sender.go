package email

import (
	"context"
	"time"
)

// Sender is the interface that all email providers must implement.
// This abstraction allows swapping email providers (Gmail, Resend, ...)
// without changing business logic. Implementations return a *DeliveryError
// whenever they can tell a retryable failure from a permanent one.
type Sender interface {
	// Send sends an email to the specified recipient.
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

// Message represents an email message to be sent.
type Message struct {
	To       string // recipient email address
	Subject  string // email subject
	HTMLBody string // HTML email body
	TextBody string // plain-text body
}

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	Provider   string    `json:"provider"`
	MessageID  string    `json:"messageId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}
