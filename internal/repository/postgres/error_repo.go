package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ingest-service/internal/models"
)

type ErrorRepo struct{ db *sql.DB }

func NewErrorRepo(db *sql.DB) *ErrorRepo {
	return &ErrorRepo{db: db}
}

// UpsertGroup records one occurrence against the group for g.Fingerprint.
// A resolved group that sees a new occurrence is reopened.
func (repo *ErrorRepo) UpsertGroup(ctx context.Context, g *models.ErrorGroup) (int64, error) {
	const query = `
INSERT INTO error_groups (
    project_id, fingerprint, error_type, message, file, line,
    severity, environment, status, occurrence_count, first_seen, last_seen
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open', 1, $9, $9)
ON CONFLICT (project_id, fingerprint) DO UPDATE
SET occurrence_count = error_groups.occurrence_count + 1,
    last_seen = GREATEST(error_groups.last_seen, EXCLUDED.last_seen),
    severity = EXCLUDED.severity,
    environment = EXCLUDED.environment,
    status = CASE WHEN error_groups.status = 'resolved' THEN 'open' ELSE error_groups.status END
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query,
		g.ProjectID, g.Fingerprint, g.ErrorType, g.Message, g.File, g.Line,
		g.Severity, g.Environment, g.LastSeen,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("UpsertGroup: %w", err)
	}
	return id, nil
}

func (repo *ErrorRepo) InsertEvent(ctx context.Context, e *models.ErrorEvent) (int64, error) {
	const query = `
INSERT INTO error_events (
    group_id, project_id, location_id, device_id, error_type, message,
    file, line, stack, url, severity, environment, context, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query,
		e.GroupID, e.ProjectID, e.LocationID, e.DeviceID, e.ErrorType, e.Message,
		e.File, e.Line, e.Stack, e.URL, e.Severity, e.Environment, jsonArg(e.Context), e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("InsertEvent: %w", err)
	}
	return id, nil
}

// jsonArg maps an absent JSON document to SQL NULL.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
