package email

import (
	"context"
	"fmt"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/logger"
)

// NewSender builds the provider Sender selected by configuration
func NewSender(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) (Sender, error) {
	switch cfg.Provider {
	case "gmail":
		if cfg.Gmail.CredentialsJSON != "" {
			return NewGmailSender(ctx, GmailConfig{
				CredentialsJSON: cfg.Gmail.CredentialsJSON,
				SenderAddress:   cfg.Gmail.SenderAddress,
				SenderName:      cfg.Gmail.SenderName,
			})
		}
		return NewGmailSenderWithToken(ctx,
			cfg.Gmail.ClientID,
			cfg.Gmail.ClientSecret,
			cfg.Gmail.RefreshToken,
			cfg.Gmail.SenderAddress,
			cfg.Gmail.SenderName,
		)
	case "resend":
		return NewResendSender(ResendConfig{
			APIKey:      cfg.Resend.APIKey,
			FromAddress: cfg.Resend.FromAddress,
			FromName:    cfg.Resend.FromName,
		})
	case "log", "":
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
