package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ingest-service/internal/models"
)

type PageviewRepo struct{ db *sql.DB }

func NewPageviewRepo(db *sql.DB) *PageviewRepo {
	return &PageviewRepo{db: db}
}

// ExistsSince reports whether the visitor already has a pageview for url
// created at or after since.
func (repo *PageviewRepo) ExistsSince(ctx context.Context, projectID, visitorID int64, url string, since time.Time) (bool, error) {
	const query = `
SELECT EXISTS (
    SELECT 1 FROM pageviews
    WHERE project_id = $1 AND visitor_id = $2 AND url = $3 AND created_at >= $4
)`
	var exists bool
	if err := repo.db.QueryRowContext(ctx, query, projectID, visitorID, url, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("ExistsSince: %w", err)
	}
	return exists, nil
}

func (repo *PageviewRepo) Insert(ctx context.Context, pv *models.Pageview) (int64, error) {
	const query = `
INSERT INTO pageviews (
    project_id, session_id, visitor_id, location_id, device_id,
    url, page_title, referrer_url, referrer_category,
    utm_source, utm_medium, utm_campaign, utm_content, utm_term,
    screen_resolution, timezone, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query,
		pv.ProjectID, pv.SessionID, pv.VisitorID, pv.LocationID, pv.DeviceID,
		pv.URL, pv.PageTitle, pv.ReferrerURL, pv.ReferrerCategory,
		pv.UTM.Source, pv.UTM.Medium, pv.UTM.Campaign, pv.UTM.Content, pv.UTM.Term,
		pv.ScreenResolution, pv.Timezone, pv.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("Insert: %w", err)
	}
	return id, nil
}
