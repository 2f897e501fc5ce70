package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/model"
	"github.com/circlehub/newsletter/internal/repository"
)

const (
	maxSubjectLength    = 300
	defaultCampaignPage = 20
	maxCampaignPage     = 100
)

// CampaignService enforces the campaign lifecycle rules on top of the store
type CampaignService struct {
	store CampaignStore
	trail AuditTrail
	audit auditor
	log   *logger.Logger
	now   func() time.Time
}

// NewCampaignService creates a new CampaignService
func NewCampaignService(store CampaignStore, trail AuditTrail, log *logger.Logger) *CampaignService {
	log = log.WithComponent("campaign_service")
	return &CampaignService{
		store: store,
		trail: trail,
		audit: auditor{repo: trail, log: log},
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new campaign as draft or scheduled. A scheduled campaign
// needs a scheduled time strictly in the future; a draft must not have one.
func (s *CampaignService) Create(ctx context.Context, fields model.CampaignFields, status model.CampaignStatus, scheduledAt *time.Time) (*model.Campaign, error) {
	fields.Subject = strings.TrimSpace(fields.Subject)
	fields.HTMLContent = trimmedOrNil(fields.HTMLContent)
	if err := validateFields(fields.Subject, fields.Content); err != nil {
		return nil, err
	}

	if status == "" {
		status = model.CampaignStatusDraft
	}
	now := s.now()

	switch status {
	case model.CampaignStatusDraft:
		if scheduledAt != nil {
			return nil, ErrInvalidSchedule
		}
	case model.CampaignStatusScheduled:
		if scheduledAt == nil || !scheduledAt.After(now) {
			return nil, ErrInvalidSchedule
		}
		at := scheduledAt.UTC()
		scheduledAt = &at
	default:
		return nil, ErrInvalidStatusChange
	}

	c := &model.Campaign{
		ID:          generateID("cmp"),
		Subject:     fields.Subject,
		Content:     fields.Content,
		HTMLContent: fields.HTMLContent,
		Status:      status,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.audit.record(ctx, model.AuditActionCampaignCreated, model.AuditResourceCampaign, c.ID, map[string]interface{}{
		"status": string(c.Status),
	})
	s.log.Info().Str("campaign_id", c.ID).Str("status", string(c.Status)).Msg("campaign created")
	return c, nil
}

// Get retrieves a campaign by ID
func (s *CampaignService) Get(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// History returns the audit trail of a campaign, newest first
func (s *CampaignService) History(ctx context.Context, id string, limit int) ([]*model.AuditLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.trail.ListByResource(ctx, model.AuditResourceCampaign, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign history: %w", err)
	}
	return entries, nil
}

// List returns a page of campaigns, newest first, and the total count
func (s *CampaignService) List(ctx context.Context, filter model.CampaignFilter) ([]*model.Campaign, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusChange, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultCampaignPage
	}
	if filter.Limit > maxCampaignPage {
		filter.Limit = maxCampaignPage
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	campaigns, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, total, nil
}

// Update edits a campaign. Sent campaigns are immutable and campaigns being
// sent cannot be touched. The status only changes when upd.Status is set, and
// only to draft or scheduled.
func (s *CampaignService) Update(ctx context.Context, id string, upd model.CampaignUpdate) (*model.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsLocked() || c.Status == model.CampaignStatusSending {
		return nil, ErrCampaignLocked
	}
	expected := c.Status

	if upd.Subject != nil {
		c.Subject = strings.TrimSpace(*upd.Subject)
	}
	if upd.Content != nil {
		c.Content = *upd.Content
	}
	if upd.HTMLContent != nil {
		c.HTMLContent = trimmedOrNil(upd.HTMLContent)
	}
	if err := validateFields(c.Subject, c.Content); err != nil {
		return nil, err
	}

	if upd.Status != nil {
		switch *upd.Status {
		case model.CampaignStatusDraft, model.CampaignStatusScheduled:
			c.Status = *upd.Status
		default:
			return nil, ErrInvalidStatusChange
		}
	}

	now := s.now()
	if upd.ScheduledAt != nil {
		if c.Status != model.CampaignStatusScheduled {
			return nil, ErrInvalidSchedule
		}
		at := upd.ScheduledAt.UTC()
		c.ScheduledAt = &at
	}
	if c.Status == model.CampaignStatusScheduled {
		// Rescheduling, or scheduling a draft, needs a fresh future time
		rescheduled := upd.ScheduledAt != nil || expected != model.CampaignStatusScheduled
		if c.ScheduledAt == nil || (rescheduled && !c.ScheduledAt.After(now)) {
			return nil, ErrInvalidSchedule
		}
	}
	if c.Status != model.CampaignStatusFailed {
		c.FailureReason = nil
	}
	c.UpdatedAt = now

	if err := s.store.Update(ctx, c, expected); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.conflictError(ctx, id)
		}
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}

	s.audit.record(ctx, model.AuditActionCampaignUpdated, model.AuditResourceCampaign, c.ID, map[string]interface{}{
		"from": string(expected),
		"to":   string(c.Status),
	})
	return c, nil
}

// Delete removes a campaign. It returns false for unknown campaigns and
// ErrCampaignLocked for sent or sending ones.
func (s *CampaignService) Delete(ctx context.Context, id string) (bool, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return false, nil
		}
		return false, err
	}
	if c.IsLocked() || c.Status == model.CampaignStatusSending {
		return false, ErrCampaignLocked
	}

	if err := s.store.Delete(ctx, id, c.Status); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return false, s.conflictError(ctx, id)
		}
		return false, fmt.Errorf("failed to delete campaign: %w", err)
	}

	s.audit.record(ctx, model.AuditActionCampaignDeleted, model.AuditResourceCampaign, id, map[string]interface{}{
		"status": string(c.Status),
	})
	return true, nil
}

// Transition is the compare-and-set on campaign status. It returns false,
// without error, when the campaign is not currently in from.
func (s *CampaignService) Transition(ctx context.Context, id string, from, to model.CampaignStatus) (bool, error) {
	return s.store.Transition(ctx, id, from, to)
}

// MarkSent records a completed dispatch
func (s *CampaignService) MarkSent(ctx context.Context, id string, recipientCount int) error {
	return s.store.MarkSent(ctx, id, recipientCount, s.now())
}

// MarkFailed records a dispatch that reached nobody
func (s *CampaignService) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.store.MarkFailed(ctx, id, reason, s.now())
}

// FindDue returns scheduled campaigns whose time has come, oldest first
func (s *CampaignService) FindDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return s.store.FindDue(ctx, now)
}

// RecordOpen counts an open of a sent campaign. Opens of campaigns that are
// not sent, or unknown, are ignored.
func (s *CampaignService) RecordOpen(ctx context.Context, id string) (bool, error) {
	return s.store.IncrementOpens(ctx, id)
}

// RecordClick counts a link click in a sent campaign
func (s *CampaignService) RecordClick(ctx context.Context, id string) (bool, error) {
	return s.store.IncrementClicks(ctx, id)
}

// conflictError explains why a guarded write matched no row
func (s *CampaignService) conflictError(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.IsLocked() || current.Status == model.CampaignStatusSending {
		return ErrCampaignLocked
	}
	return ErrCampaignConflict
}

func validateFields(subject, content string) error {
	if subject == "" || strings.TrimSpace(content) == "" {
		return ErrInvalidCampaign
	}
	if len(subject) > maxSubjectLength {
		return fmt.Errorf("%w: subject is longer than %d characters", ErrInvalidCampaign, maxSubjectLength)
	}
	return nil
}
