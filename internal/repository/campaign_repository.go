package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/circlehub/newsletter/internal/database"
	"github.com/circlehub/newsletter/internal/model"
)

const campaignColumns = `id, subject, content, html_content, status, scheduled_at, sent_at,
		       recipient_count, open_count, click_count, failure_reason, created_at, updated_at`

// CampaignRepository handles campaign persistence. Every status change goes
// through a guarded UPDATE so concurrent writers never both succeed.
type CampaignRepository struct {
	db *database.Postgres
}

// NewCampaignRepository creates a new CampaignRepository
func NewCampaignRepository(db *database.Postgres) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	query := `
		INSERT INTO campaigns (id, subject, content, html_content, status, scheduled_at,
		    recipient_count, open_count, click_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.Subject,
		c.Content,
		c.HTMLContent,
		c.Status,
		c.ScheduledAt,
		c.RecipientCount,
		c.OpenCount,
		c.ClickCount,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.db.QueryRowContext(ctx, query, id))
}

// List returns a page of campaigns, newest first, and the total matching count
func (r *CampaignRepository) List(ctx context.Context, filter model.CampaignFilter) ([]*model.Campaign, int, error) {
	where := ""
	args := []interface{}{}
	if filter.Status != "" {
		where = " WHERE status = $1"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM campaigns%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		campaignColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	campaigns, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// Update writes the editable fields of c, provided the stored status still
// equals expected. Returns ErrConflict when the row moved on.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign, expected model.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET subject = $1, content = $2, html_content = $3, status = $4,
		    scheduled_at = $5, failure_reason = $6, updated_at = $7
		WHERE id = $8 AND status = $9
	`
	result, err := r.db.ExecContext(ctx, query,
		c.Subject,
		c.Content,
		c.HTMLContent,
		c.Status,
		c.ScheduledAt,
		c.FailureReason,
		c.UpdatedAt,
		c.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// Delete removes a campaign provided the stored status still equals expected
func (r *CampaignRepository) Delete(ctx context.Context, id string, expected model.CampaignStatus) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1 AND status = $2`, id, expected)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// Transition atomically moves a campaign from one status to another. It
// returns false, without error, when the current status is not from.
func (r *CampaignRepository) Transition(ctx context.Context, id string, from, to model.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition campaign: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to transition campaign: %w", err)
	}
	return rowsAffected == 1, nil
}

// ClaimDue moves a scheduled campaign to "sending" only if it is still
// scheduled and its scheduled_at is not after now. A reschedule or status
// change since the campaign was read makes the claim miss.
func (r *CampaignRepository) ClaimDue(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE campaigns SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
	`
	result, err := r.db.ExecContext(ctx, query,
		model.CampaignStatusSending, now, id, model.CampaignStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to claim due campaign: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim due campaign: %w", err)
	}
	return rowsAffected == 1, nil
}

// Touch refreshes updated_at of a campaign that is still sending. It reports
// false once the campaign has left "sending".
func (r *CampaignRepository) Touch(ctx context.Context, id string) (bool, error) {
	query := `UPDATE campaigns SET updated_at = $1 WHERE id = $2 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id, model.CampaignStatusSending)
	if err != nil {
		return false, fmt.Errorf("failed to touch campaign: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to touch campaign: %w", err)
	}
	return rowsAffected == 1, nil
}

// ReplaceInterrupted overwrites a failure recorded with interruptedReason by
// the dispatch's real outcome. Any other state returns ErrConflict.
func (r *CampaignRepository) ReplaceInterrupted(ctx context.Context, outcome model.DispatchOutcome, interruptedReason string) error {
	var (
		sentAt *time.Time
		reason *string
	)
	if outcome.Status == model.CampaignStatusSent {
		sentAt = &outcome.DecidedAt
	} else {
		reason = &outcome.Reason
	}

	query := `
		UPDATE campaigns
		SET status = $1, sent_at = $2, recipient_count = $3, failure_reason = $4, updated_at = $5
		WHERE id = $6 AND status = $7 AND failure_reason = $8
	`
	result, err := r.db.ExecContext(ctx, query,
		outcome.Status, sentAt, outcome.RecipientCount, reason, outcome.DecidedAt,
		outcome.CampaignID, model.CampaignStatusFailed, interruptedReason)
	if err != nil {
		return fmt.Errorf("failed to replace interrupted outcome: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkSent records a successful dispatch. Only a campaign in "sending" can be marked.
func (r *CampaignRepository) MarkSent(ctx context.Context, id string, recipientCount int, sentAt time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $1, sent_at = $2, recipient_count = $3, failure_reason = NULL, updated_at = $2
		WHERE id = $4 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		model.CampaignStatusSent, sentAt, recipientCount, id, model.CampaignStatusSending)
	if err != nil {
		return fmt.Errorf("failed to mark campaign sent: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed records a failed dispatch. Only a campaign in "sending" can be marked.
func (r *CampaignRepository) MarkFailed(ctx context.Context, id string, reason string, failedAt time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		model.CampaignStatusFailed, reason, failedAt, id, model.CampaignStatusSending)
	if err != nil {
		return fmt.Errorf("failed to mark campaign failed: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// FindDue returns scheduled campaigns whose time has come, oldest first.
// Served by the (status, scheduled_at) index.
func (r *CampaignRepository) FindDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at, created_at`
	return r.query(ctx, query, model.CampaignStatusScheduled, now)
}

// FindStale returns campaigns stuck in "sending" since before the given time
func (r *CampaignRepository) FindStale(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at`
	return r.query(ctx, query, model.CampaignStatusSending, before)
}

// IncrementOpens bumps the open counter of a sent campaign
func (r *CampaignRepository) IncrementOpens(ctx context.Context, id string) (bool, error) {
	return r.increment(ctx, "open_count", id)
}

// IncrementClicks bumps the click counter of a sent campaign
func (r *CampaignRepository) IncrementClicks(ctx context.Context, id string) (bool, error) {
	return r.increment(ctx, "click_count", id)
}

func (r *CampaignRepository) increment(ctx context.Context, column, id string) (bool, error) {
	query := fmt.Sprintf(`UPDATE campaigns SET %[1]s = %[1]s + 1 WHERE id = $1 AND status = $2`, column)
	result, err := r.db.ExecContext(ctx, query, id, model.CampaignStatusSent)
	if err != nil {
		return false, fmt.Errorf("failed to increment %s: %w", column, err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

func (r *CampaignRepository) query(ctx context.Context, query string, args ...interface{}) ([]*model.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}
	return campaigns, nil
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID,
		&c.Subject,
		&c.Content,
		&c.HTMLContent,
		&c.Status,
		&c.ScheduledAt,
		&c.SentAt,
		&c.RecipientCount,
		&c.OpenCount,
		&c.ClickCount,
		&c.FailureReason,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}
	return &c, nil
}
