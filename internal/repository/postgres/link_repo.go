package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ingest-service/internal/models"
)

type LinkRepo struct{ db *sql.DB }

func NewLinkRepo(db *sql.DB) *LinkRepo {
	return &LinkRepo{db: db}
}

// GetActiveByCode returns nil when the code is unknown or the link, or its
// project, is inactive.
func (repo *LinkRepo) GetActiveByCode(ctx context.Context, code string) (*models.TrackedLink, error) {
	const query = `
SELECT l.id, l.project_id, l.code, l.destination_url, l.is_active
FROM tracked_links l
JOIN projects p ON p.id = l.project_id
WHERE l.code = $1 AND l.is_active AND p.is_active
LIMIT 1`
	var l models.TrackedLink
	err := repo.db.QueryRowContext(ctx, query, code).Scan(&l.ID, &l.ProjectID, &l.Code, &l.DestinationURL, &l.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetActiveByCode: %w", err)
	}
	return &l, nil
}

func (repo *LinkRepo) InsertClick(ctx context.Context, c *models.LinkClick) (int64, error) {
	const query = `
INSERT INTO link_clicks (link_id, project_id, location_id, device_id, referrer_url, referrer_category, ip_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`
	var id int64
	if err := repo.db.QueryRowContext(ctx, query,
		c.LinkID, c.ProjectID, c.LocationID, c.DeviceID, c.ReferrerURL, c.ReferrerCategory, c.IPHash, c.CreatedAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("InsertClick: %w", err)
	}
	return id, nil
}
