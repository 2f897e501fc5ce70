package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/circlehub/newsletter/internal/database"
	"github.com/circlehub/newsletter/internal/model"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// AuditRepository stores the append-only lifecycle trail of subscribers and campaigns
type AuditRepository struct {
	db *database.Postgres
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an entry. Metadata that cannot be encoded is stored as an empty object.
func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil || entry.Metadata == nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, actor, action, resource_type, resource_id,
		    ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Actor,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.IPAddress,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListByResource returns the newest entries recorded for one resource, newest first
func (r *AuditRepository) ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*model.AuditLog, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	query := `
		SELECT id, actor, action, resource_type, resource_id, ip_address, metadata, created_at
		FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, resourceType, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	entries := []*model.AuditLog{}
	for rows.Next() {
		var entry model.AuditLog
		var metadata []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.Actor,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&entry.IPAddress,
			&metadata,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return entries, nil
}
