package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type VisitorRepo struct{ db *sql.DB }

func NewVisitorRepo(db *sql.DB) *VisitorRepo {
	return &VisitorRepo{db: db}
}

// TouchByHash refreshes last_seen for an existing visitor and returns its
// id, or 0 when the hash is unknown.
func (repo *VisitorRepo) TouchByHash(ctx context.Context, projectID int64, visitorHash string, now time.Time) (int64, error) {
	const query = `
UPDATE visitors
SET last_seen = GREATEST(last_seen, $3)
WHERE project_id = $1 AND visitor_hash = $2
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query, projectID, visitorHash, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("TouchByHash: %w", err)
	}
	return id, nil
}

// RelinkByFingerprint moves the most recently seen visitor carrying the
// fingerprint onto the new visitor hash. It returns 0 when no visitor has
// the fingerprint, or when another request already claimed the new hash.
func (repo *VisitorRepo) RelinkByFingerprint(ctx context.Context, projectID int64, fingerprintHash, visitorHash string, now time.Time) (int64, error) {
	const query = `
UPDATE visitors
SET visitor_hash = $3, last_seen = GREATEST(last_seen, $4)
WHERE id = (
    SELECT id FROM visitors
    WHERE project_id = $1 AND fingerprint_hash = $2
    ORDER BY last_seen DESC
    LIMIT 1
)
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query, projectID, fingerprintHash, visitorHash, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("RelinkByFingerprint: %w", err)
	}
	return id, nil
}

// Upsert inserts the visitor or refreshes the existing row for the hash in
// one statement. created reports whether this call inserted the row.
func (repo *VisitorRepo) Upsert(ctx context.Context, projectID int64, visitorHash, fingerprintHash string, now time.Time) (id int64, created bool, err error) {
	const query = `
INSERT INTO visitors (project_id, visitor_hash, fingerprint_hash, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (project_id, visitor_hash) DO UPDATE
SET last_seen = GREATEST(visitors.last_seen, EXCLUDED.last_seen),
    first_seen = LEAST(visitors.first_seen, EXCLUDED.first_seen),
    fingerprint_hash = CASE WHEN visitors.fingerprint_hash = '' THEN EXCLUDED.fingerprint_hash
                            ELSE visitors.fingerprint_hash END
RETURNING id, (xmax = 0) AS inserted`
	if err := repo.db.QueryRowContext(ctx, query, projectID, visitorHash, fingerprintHash, now).Scan(&id, &created); err != nil {
		return 0, false, fmt.Errorf("Upsert: %w", err)
	}
	return id, created, nil
}
