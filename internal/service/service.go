package service

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/circlehub/newsletter/internal/auth"
	"github.com/circlehub/newsletter/internal/email"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/model"
)

// Service errors
var (
	ErrDuplicateSubscriber  = errors.New("an active subscriber with this email already exists")
	ErrInvalidToken         = errors.New("invalid or already used confirmation token")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrInvalidName          = errors.New("name is too long")
	ErrConfirmationCooldown = errors.New("confirmation email was sent recently, please wait")
	ErrInvalidSchedule      = errors.New("scheduled campaigns need a scheduled time in the future")
	ErrCampaignLocked       = errors.New("campaign can no longer be edited or deleted")
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrCampaignConflict     = errors.New("campaign was modified concurrently")
	ErrInvalidCampaign      = errors.New("campaign subject and content are required")
	ErrInvalidStatusChange  = errors.New("campaign status can only be set to draft or scheduled")
	ErrTerminalWrite        = errors.New("failed to record campaign delivery outcome")
)

// SubscriberStore persists subscribers. Implemented by repository.SubscriberRepository.
type SubscriberStore interface {
	Create(ctx context.Context, sub *model.Subscriber) error
	GetByEmail(ctx context.Context, email string) (*model.Subscriber, error)
	Reactivate(ctx context.Context, id string, name *string, tokenHash string, now time.Time) error
	RotateToken(ctx context.Context, email, tokenHash string, now time.Time) (*model.Subscriber, error)
	Confirm(ctx context.Context, tokenHash string, now time.Time) (*model.Subscriber, error)
	Deactivate(ctx context.Context, email string, now time.Time) (*model.Subscriber, error)
	ListDeliverable(ctx context.Context) iter.Seq2[*model.Subscriber, error]
	ListAll(ctx context.Context) iter.Seq2[*model.Subscriber, error]
	Stats(ctx context.Context, since time.Time) (*model.SubscriberStats, error)
}

// AudienceSource yields the deliverable subscribers of one dispatch
type AudienceSource interface {
	ListDeliverable(ctx context.Context) iter.Seq2[*model.Subscriber, error]
}

// CampaignStore persists campaigns. Implemented by repository.CampaignRepository.
// Every status-changing method is a compare-and-set on the stored status.
type CampaignStore interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, filter model.CampaignFilter) ([]*model.Campaign, int, error)
	Update(ctx context.Context, c *model.Campaign, expected model.CampaignStatus) error
	Delete(ctx context.Context, id string, expected model.CampaignStatus) error
	Transition(ctx context.Context, id string, from, to model.CampaignStatus) (bool, error)
	ClaimDue(ctx context.Context, id string, now time.Time) (bool, error)
	Touch(ctx context.Context, id string) (bool, error)
	ReplaceInterrupted(ctx context.Context, outcome model.DispatchOutcome, interruptedReason string) error
	MarkSent(ctx context.Context, id string, recipientCount int, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, failedAt time.Time) error
	FindDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	FindStale(ctx context.Context, before time.Time) ([]*model.Campaign, error)
	IncrementOpens(ctx context.Context, id string) (bool, error)
	IncrementClicks(ctx context.Context, id string) (bool, error)
}

// LinkSigner signs click-tracking redirect targets. Implemented by auth.LinkSigner.
type LinkSigner interface {
	Sign(campaignID, target string) string
}

// AuditWriter appends audit log entries. Implemented by repository.AuditRepository.
type AuditWriter interface {
	Create(ctx context.Context, entry *model.AuditLog) error
}

// AuditTrail is an AuditWriter that can also read back a resource's history
type AuditTrail interface {
	AuditWriter
	ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*model.AuditLog, error)
}

// DeliveryGateway sends single messages. Implemented by email.Gateway.
type DeliveryGateway interface {
	SendOne(ctx context.Context, msg email.Message) (*email.Receipt, error)
	SendTest(ctx context.Context, to string) error
}

// OutcomeJournal keeps dispatch outcomes that could not be written to the
// campaign store, so the reconciler can apply them later.
type OutcomeJournal interface {
	Record(ctx context.Context, outcome model.DispatchOutcome) error
	// Lookup returns nil, nil when no outcome is journaled for the campaign
	Lookup(ctx context.Context, campaignID string) (*model.DispatchOutcome, error)
	Clear(ctx context.Context, campaignID string) error
}

// Cooldown is a keyed, expiring "recently done" marker
type Cooldown interface {
	// Acquire sets key for ttl and reports false when it was already set
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// auditor writes best-effort audit entries; a failed write is logged, never returned
type auditor struct {
	repo AuditWriter
	log  *logger.Logger
}

func (a auditor) record(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	if a.repo == nil {
		return
	}

	entry := &model.AuditLog{
		ID:           generateID("aud"),
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if actor := auth.OperatorFrom(ctx); actor != "" {
		entry.Actor = &actor
	}

	if err := a.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		a.log.Error().Err(err).Str("action", action).Msg("failed to create audit log")
		return
	}
	a.log.Audit(entry)
}

// Helper functions

func generateID(prefix string) string {
	id := uuid.New().String()
	// Remove hyphens and take first 26 chars to fit varchar(32) with prefix
	clean := strings.ReplaceAll(id, "-", "")
	if len(prefix) > 0 {
		return prefix + "_" + clean[:min(26, len(clean))]
	}
	return clean
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
