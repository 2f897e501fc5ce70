package email

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/circlehub/newsletter/internal/logger"
)

// LogSender accepts every message and only logs it. Used for local development.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.WithComponent("log_sender")}
}

// Send logs the message and returns a synthetic receipt
func (s *LogSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, AsDeliveryError(err)
	}

	id := uuid.New().String()
	s.log.Info().
		Str("message_id", id).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("text_bytes", len(msg.TextBody)).
		Int("html_bytes", len(msg.HTMLBody)).
		Msg("email accepted")

	return &Receipt{Provider: "log", MessageID: id, AcceptedAt: time.Now().UTC()}, nil
}
