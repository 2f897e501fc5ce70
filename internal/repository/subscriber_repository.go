package repository

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/circlehub/newsletter/internal/database"
	"github.com/circlehub/newsletter/internal/model"
)

// subscriberPageSize is the number of rows fetched per round trip when
// streaming subscribers
const subscriberPageSize = 500

const subscriberColumns = `id, email, name, subscribed_at, is_active, confirmed_at,
		       COALESCE(confirmation_token, ''), unsubscribed_at, updated_at`

// SubscriberRepository handles subscriber persistence
type SubscriberRepository struct {
	db       *database.Postgres
	pageSize int
}

// NewSubscriberRepository creates a new SubscriberRepository
func NewSubscriberRepository(db *database.Postgres) *SubscriberRepository {
	return &SubscriberRepository{db: db, pageSize: subscriberPageSize}
}

// Create inserts a new subscriber. The email must already be normalized.
func (r *SubscriberRepository) Create(ctx context.Context, sub *model.Subscriber) error {
	query := `
		INSERT INTO subscribers (id, email, name, subscribed_at, is_active, confirmed_at,
		    confirmation_token, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.Email,
		sub.Name,
		sub.SubscribedAt,
		sub.IsActive,
		sub.ConfirmedAt,
		sub.TokenHash,
		sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

// GetByEmail retrieves a subscriber by normalized email
func (r *SubscriberRepository) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE email = $1`
	return scanSubscriber(r.db.QueryRowContext(ctx, query, email))
}

// Reactivate turns an unsubscribed record back into a pending subscription
func (r *SubscriberRepository) Reactivate(ctx context.Context, id string, name *string, tokenHash string, now time.Time) error {
	query := `
		UPDATE subscribers
		SET is_active = true, confirmed_at = NULL, unsubscribed_at = NULL,
		    confirmation_token = $1, subscribed_at = $2, updated_at = $2,
		    name = COALESCE($3, name)
		WHERE id = $4 AND is_active = false
	`
	result, err := r.db.ExecContext(ctx, query, tokenHash, now, name, id)
	if err != nil {
		return fmt.Errorf("failed to reactivate subscriber: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// RotateToken replaces the confirmation token of a pending subscriber
func (r *SubscriberRepository) RotateToken(ctx context.Context, email, tokenHash string, now time.Time) (*model.Subscriber, error) {
	query := `
		UPDATE subscribers
		SET confirmation_token = $1, updated_at = $2
		WHERE email = $3 AND is_active = true AND confirmed_at IS NULL
		RETURNING ` + subscriberColumns
	return scanSubscriber(r.db.QueryRowContext(ctx, query, tokenHash, now, email))
}

// Confirm redeems a confirmation token. The token is cleared in the same
// statement, so a token can only ever be redeemed once.
func (r *SubscriberRepository) Confirm(ctx context.Context, tokenHash string, now time.Time) (*model.Subscriber, error) {
	query := `
		UPDATE subscribers
		SET confirmed_at = $1, confirmation_token = NULL, updated_at = $1
		WHERE confirmation_token = $2 AND confirmed_at IS NULL
		RETURNING ` + subscriberColumns
	return scanSubscriber(r.db.QueryRowContext(ctx, query, now, tokenHash))
}

// Deactivate unsubscribes an active subscriber and voids any pending
// confirmation token. Returns ErrNotFound when no active subscriber matched.
func (r *SubscriberRepository) Deactivate(ctx context.Context, email string, now time.Time) (*model.Subscriber, error) {
	query := `
		UPDATE subscribers
		SET is_active = false, confirmation_token = NULL, unsubscribed_at = $1, updated_at = $1
		WHERE email = $2 AND is_active = true
		RETURNING ` + subscriberColumns
	return scanSubscriber(r.db.QueryRowContext(ctx, query, now, email))
}

// ListDeliverable streams active, confirmed subscribers ordered by subscription
// time. Each call starts a fresh pass over the table.
func (r *SubscriberRepository) ListDeliverable(ctx context.Context) iter.Seq2[*model.Subscriber, error] {
	return r.stream(ctx, "is_active = true AND confirmed_at IS NOT NULL")
}

// ListAll streams every subscriber, including inactive ones, ordered by subscription time
func (r *SubscriberRepository) ListAll(ctx context.Context) iter.Seq2[*model.Subscriber, error] {
	return r.stream(ctx, "true")
}

// Stats counts subscribers; recent counts those subscribed at or after since
func (r *SubscriberRepository) Stats(ctx context.Context, since time.Time) (*model.SubscriberStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE is_active AND confirmed_at IS NULL),
		       COUNT(*) FILTER (WHERE subscribed_at >= $1)
		FROM subscribers
	`
	var stats model.SubscriberStats
	err := r.db.QueryRowContext(ctx, query, since).Scan(
		&stats.Total,
		&stats.Active,
		&stats.Pending,
		&stats.Recent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return &stats, nil
}

// stream pages through subscribers matching where using keyset pagination on
// (subscribed_at, id). A page is fully read before its rows are yielded so no
// connection is held while the consumer works.
func (r *SubscriberRepository) stream(ctx context.Context, where string) iter.Seq2[*model.Subscriber, error] {
	query := `SELECT ` + subscriberColumns + `
		FROM subscribers
		WHERE ` + where + ` AND (subscribed_at, id) > ($1, $2)
		ORDER BY subscribed_at, id
		LIMIT $3`

	return func(yield func(*model.Subscriber, error) bool) {
		var afterTime time.Time
		var afterID string

		for {
			page, err := r.fetchPage(ctx, query, afterTime, afterID)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, sub := range page {
				if !yield(sub, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
			last := page[len(page)-1]
			afterTime, afterID = last.SubscribedAt, last.ID
		}
	}
}

func (r *SubscriberRepository) fetchPage(ctx context.Context, query string, afterTime time.Time, afterID string) ([]*model.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, query, afterTime, afterID, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	page := make([]*model.Subscriber, 0, r.pageSize)
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscribers: %w", err)
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&sub.Name,
		&sub.SubscribedAt,
		&sub.IsActive,
		&sub.ConfirmedAt,
		&sub.TokenHash,
		&sub.UnsubscribedAt,
		&sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscriber: %w", err)
	}
	return &sub, nil
}
