package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ingest-service/internal/models"
)

// DimensionRepo stores deduplicated location and device rows. Both upserts
// touch a key column on conflict so RETURNING yields the existing id.
type DimensionRepo struct{ db *sql.DB }

func NewDimensionRepo(db *sql.DB) *DimensionRepo {
	return &DimensionRepo{db: db}
}

func (repo *DimensionRepo) UpsertLocation(ctx context.Context, projectID int64, loc models.Location) (int64, error) {
	const query = `
INSERT INTO locations (project_id, country, country_code, region, city)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (project_id, country_code, region, city) DO UPDATE
SET country_code = EXCLUDED.country_code
RETURNING id`
	var id int64
	if err := repo.db.QueryRowContext(ctx, query, projectID, loc.Country, loc.CountryCode, loc.Region, loc.City).Scan(&id); err != nil {
		return 0, fmt.Errorf("UpsertLocation: %w", err)
	}
	return id, nil
}

func (repo *DimensionRepo) UpsertDevice(ctx context.Context, projectID int64, dev models.Device) (int64, error) {
	const query = `
INSERT INTO devices (project_id, device_type, os, browser, browser_version)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (project_id, device_type, os, browser, browser_version) DO UPDATE
SET device_type = EXCLUDED.device_type
RETURNING id`
	var id int64
	if err := repo.db.QueryRowContext(ctx, query, projectID, dev.DeviceType, dev.OS, dev.Browser, dev.BrowserVersion).Scan(&id); err != nil {
		return 0, fmt.Errorf("UpsertDevice: %w", err)
	}
	return id, nil
}
