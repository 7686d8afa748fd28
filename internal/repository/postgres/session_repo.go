package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SessionRepo struct{ db *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Upsert creates the session for token, or extends it when its last
// activity is at or after activeSince. An id of 0 means the token exists
// but its session has lapsed or belongs to another project; that row is
// left untouched.
func (repo *SessionRepo) Upsert(ctx context.Context, projectID, visitorID int64, token string, now, activeSince time.Time) (id int64, created bool, err error) {
	const query = `
INSERT INTO sessions (project_id, visitor_id, session_token, started_at, last_activity, is_bounced)
VALUES ($1, $2, $3, $4, $4, TRUE)
ON CONFLICT (session_token) DO UPDATE
SET last_activity = GREATEST(sessions.last_activity, EXCLUDED.last_activity)
WHERE sessions.last_activity >= $5 AND sessions.project_id = EXCLUDED.project_id
RETURNING id, (xmax = 0) AS inserted`
	err = repo.db.QueryRowContext(ctx, query, projectID, visitorID, token, now, activeSince).Scan(&id, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("Upsert: %w", err)
	}
	return id, created, nil
}

// MarkEngaged flips is_bounced to false once the session holds more than
// one pageview. It reports whether this call made the transition; the
// flag is never set back.
func (repo *SessionRepo) MarkEngaged(ctx context.Context, sessionID int64) (bool, error) {
	const query = `
UPDATE sessions
SET is_bounced = FALSE
WHERE id = $1
  AND is_bounced
  AND (SELECT COUNT(*) FROM pageviews WHERE session_id = $1) > 1`
	res, err := repo.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("MarkEngaged: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("MarkEngaged: %w", err)
	}
	return n == 1, nil
}
