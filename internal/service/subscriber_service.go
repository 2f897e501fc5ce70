package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/circlehub/newsletter/internal/auth"
	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/email"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/metrics"
	"github.com/circlehub/newsletter/internal/model"
	"github.com/circlehub/newsletter/internal/repository"
)

const (
	confirmCooldownPrefix = "newsletter:confirm:cooldown:"
	recentWindow          = 30 * 24 * time.Hour
	maxNameLength         = 255
)

// SubscriberService owns subscriber records and the double opt-in flow
type SubscriberService struct {
	store    SubscriberStore
	gateway  DeliveryGateway
	cooldown Cooldown
	audit    auditor
	cfg      *config.Config
	log      *logger.Logger
	now      func() time.Time
}

// NewSubscriberService creates a new SubscriberService
func NewSubscriberService(
	store SubscriberStore,
	auditRepo AuditWriter,
	gateway DeliveryGateway,
	cooldown Cooldown,
	cfg *config.Config,
	log *logger.Logger,
) *SubscriberService {
	log = log.WithComponent("subscriber_service")
	return &SubscriberService{
		store:    store,
		gateway:  gateway,
		cooldown: cooldown,
		audit:    auditor{repo: auditRepo, log: log},
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe creates a pending subscription and sends the confirmation email.
// An unsubscribed address is reactivated as pending. Failing to send the
// email does not undo the subscription.
func (s *SubscriberService) Subscribe(ctx context.Context, address string, name *string) (*model.Subscriber, error) {
	if err := auth.ValidateEmail(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	address = auth.NormalizeEmail(address)

	name = trimmedOrNil(name)
	if name != nil && len(*name) > maxNameLength {
		return nil, ErrInvalidName
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}
	tokenHash := auth.HashToken(token)
	now := s.now()

	action := model.AuditActionSubscribed
	existing, err := s.store.GetByEmail(ctx, address)
	switch {
	case err == nil && existing.IsActive:
		return nil, ErrDuplicateSubscriber

	case err == nil:
		if err := s.store.Reactivate(ctx, existing.ID, name, tokenHash, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, ErrDuplicateSubscriber
			}
			return nil, fmt.Errorf("failed to reactivate subscriber: %w", err)
		}
		existing.IsActive = true
		existing.ConfirmedAt = nil
		existing.UnsubscribedAt = nil
		existing.SubscribedAt = now
		existing.UpdatedAt = now
		existing.TokenHash = tokenHash
		if name != nil {
			existing.Name = name
		}
		action = model.AuditActionResubscribed

	case errors.Is(err, repository.ErrNotFound):
		existing = &model.Subscriber{
			ID:           generateID("sub"),
			Email:        address,
			Name:         name,
			SubscribedAt: now,
			IsActive:     true,
			TokenHash:    tokenHash,
			UpdatedAt:    now,
		}
		if err := s.store.Create(ctx, existing); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, ErrDuplicateSubscriber
			}
			return nil, fmt.Errorf("failed to create subscriber: %w", err)
		}

	default:
		return nil, fmt.Errorf("failed to look up subscriber: %w", err)
	}

	existing.ConfirmationToken = token
	s.audit.record(ctx, action, model.AuditResourceSubscriber, existing.ID, nil)
	metrics.SubscriberEvents.WithLabelValues("subscribed").Inc()

	if s.cooldown != nil {
		if _, err := s.cooldown.Acquire(ctx, confirmCooldownPrefix+address, s.resendCooldown()); err != nil {
			s.log.Warn().Err(err).Msg("failed to set confirmation cooldown")
		}
	}
	if err := s.sendConfirmation(ctx, address, token); err != nil {
		s.log.Warn().Err(err).Str("subscriber_id", existing.ID).Msg("failed to send confirmation email")
	}

	return existing, nil
}

// Confirm redeems a confirmation token. A token works exactly once.
func (s *SubscriberService) Confirm(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, ErrInvalidToken
	}

	sub, err := s.store.Confirm(ctx, auth.HashToken(token), s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrInvalidToken
		}
		return false, fmt.Errorf("failed to confirm subscriber: %w", err)
	}

	s.audit.record(ctx, model.AuditActionConfirmed, model.AuditResourceSubscriber, sub.ID, nil)
	metrics.SubscriberEvents.WithLabelValues("confirmed").Inc()
	s.log.Info().Str("subscriber_id", sub.ID).Msg("subscription confirmed")
	return true, nil
}

// ResendConfirmation issues a fresh token to a pending subscriber and emails
// it. Unknown or already confirmed addresses are ignored without error so the
// endpoint does not reveal who is subscribed.
func (s *SubscriberService) ResendConfirmation(ctx context.Context, address string) error {
	if err := auth.ValidateEmail(address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	address = auth.NormalizeEmail(address)

	cooldownKey := confirmCooldownPrefix + address
	if s.cooldown != nil {
		ok, err := s.cooldown.Acquire(ctx, cooldownKey, s.resendCooldown())
		if err != nil {
			return fmt.Errorf("failed to check resend cooldown: %w", err)
		}
		if !ok {
			return ErrConfirmationCooldown
		}
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}

	sub, err := s.store.RotateToken(ctx, address, auth.HashToken(token), s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Debug().Msg("confirmation resend for non-pending address ignored")
			return nil
		}
		return fmt.Errorf("failed to rotate confirmation token: %w", err)
	}

	if err := s.sendConfirmation(ctx, address, token); err != nil {
		// Let the subscriber retry immediately
		if s.cooldown != nil {
			_ = s.cooldown.Release(ctx, cooldownKey)
		}
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}

	s.log.Info().Str("subscriber_id", sub.ID).Msg("confirmation email resent")
	return nil
}

// Unsubscribe deactivates a subscriber. It returns false for unknown or
// already inactive addresses.
func (s *SubscriberService) Unsubscribe(ctx context.Context, address string) (bool, error) {
	if err := auth.ValidateEmail(address); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	address = auth.NormalizeEmail(address)

	sub, err := s.store.Deactivate(ctx, address, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to unsubscribe: %w", err)
	}

	s.audit.record(ctx, model.AuditActionUnsubscribed, model.AuditResourceSubscriber, sub.ID, nil)
	metrics.SubscriberEvents.WithLabelValues("unsubscribed").Inc()
	return true, nil
}

// ListDeliverable returns the active, confirmed subscribers ordered by
// subscription time. The sequence is lazy; ranging over it again starts over.
func (s *SubscriberService) ListDeliverable(ctx context.Context) iter.Seq2[*model.Subscriber, error] {
	return s.store.ListDeliverable(ctx)
}

// Stats summarizes the subscriber base
func (s *SubscriberService) Stats(ctx context.Context) (*model.SubscriberStats, error) {
	stats, err := s.store.Stats(ctx, s.now().Add(-recentWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber stats: %w", err)
	}
	return stats, nil
}

// Export writes every subscriber, including inactive ones, to w as CSV and
// returns the number of rows written
func (s *SubscriberService) Export(ctx context.Context, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"email", "name", "subscribed_at", "confirmed_at", "is_active"}); err != nil {
		return 0, fmt.Errorf("failed to write export header: %w", err)
	}

	rows := 0
	for sub, err := range s.store.ListAll(ctx) {
		if err != nil {
			return rows, fmt.Errorf("failed to export subscribers: %w", err)
		}

		var name, confirmedAt string
		if sub.Name != nil {
			name = *sub.Name
		}
		if sub.ConfirmedAt != nil {
			confirmedAt = sub.ConfirmedAt.UTC().Format(time.RFC3339)
		}

		record := []string{
			sub.Email,
			name,
			sub.SubscribedAt.UTC().Format(time.RFC3339),
			confirmedAt,
			strconv.FormatBool(sub.IsActive),
		}
		if err := cw.Write(record); err != nil {
			return rows, fmt.Errorf("failed to write export row: %w", err)
		}
		rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("failed to flush export: %w", err)
	}
	return rows, nil
}

func (s *SubscriberService) sendConfirmation(ctx context.Context, address, token string) error {
	if s.gateway == nil {
		return nil
	}

	appName := s.cfg.Email.AppName
	if appName == "" {
		appName = "Newsletter"
	}
	link := ConfirmationURL(s.cfg.Email.PublicBaseURL, token)

	timeout := s.cfg.Dispatch.SendTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := s.gateway.SendOne(ctx, email.Message{
		To:       address,
		Subject:  fmt.Sprintf("Confirm your subscription to %s", appName),
		HTMLBody: email.ConfirmationEmailHTML(appName, link),
		TextBody: email.ConfirmationEmailText(appName, link),
	})
	return err
}

func (s *SubscriberService) resendCooldown() time.Duration {
	if s.cfg.Confirmation.ResendCooldown > 0 {
		return s.cfg.Confirmation.ResendCooldown
	}
	return 60 * time.Second
}

// ConfirmationURL builds the public link that redeems token
func ConfirmationURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/subscribers/confirm?token=" + url.QueryEscape(token)
}
