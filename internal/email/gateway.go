package email

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/circlehub/newsletter/internal/logger"
)

// ErrNoRecipient is returned when a message has no recipient address
var ErrNoRecipient = errors.New("email: recipient is required")

// Gateway is the single point through which all outbound email flows. It
// wraps a provider Sender and guarantees every failure comes back as a
// *DeliveryError.
type Gateway struct {
	sender      Sender
	appName     string
	sendTimeout time.Duration
	log         *logger.Logger
}

const defaultSendTimeout = 15 * time.Second

// NewGateway creates a new Gateway
func NewGateway(sender Sender, appName string, log *logger.Logger) *Gateway {
	return &Gateway{
		sender:      sender,
		appName:     appName,
		sendTimeout: defaultSendTimeout,
		log:         log.WithComponent("email_gateway"),
	}
}

// WithSendTimeout bounds the provider call made by SendTest
func (g *Gateway) WithSendTimeout(d time.Duration) *Gateway {
	if d > 0 {
		g.sendTimeout = d
	}
	return g
}

// SendOne delivers a single message to one recipient. Exactly one provider
// call is made; retrying is the caller's decision.
func (g *Gateway) SendOne(ctx context.Context, msg Message) (*Receipt, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, NewPermanentError("invalid_recipient", "recipient address is empty", ErrNoRecipient)
	}
	if msg.TextBody == "" && msg.HTMLBody == "" {
		return nil, NewPermanentError("empty_body", "message has no body", nil)
	}

	receipt, err := g.sender.Send(ctx, msg)
	if err != nil {
		de := AsDeliveryError(err)
		g.log.Debug().
			Str("kind", string(de.Kind)).
			Str("code", de.Code).
			Err(de.Err).
			Msg("provider rejected message")
		return nil, de
	}
	return receipt, nil
}

// SendTest sends a fixed plain-text message to verify provider configuration
func (g *Gateway) SendTest(ctx context.Context, to string) error {
	ctx, cancel := context.WithTimeout(ctx, g.sendTimeout)
	defer cancel()

	_, err := g.SendOne(ctx, Message{
		To:       to,
		Subject:  "Test email from " + g.appName,
		TextBody: TestEmailText(g.appName),
	})
	if err != nil {
		return err
	}
	g.log.Info().Msg("test email sent")
	return nil
}
