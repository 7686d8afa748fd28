package models

import "time"

type Session struct {
	ID           int64     `db:"id"`
	ProjectID    int64     `db:"project_id"`
	VisitorID    int64     `db:"visitor_id"`
	SessionToken string    `db:"session_token"`
	StartedAt    time.Time `db:"started_at"`
	LastActivity time.Time `db:"last_activity"`
	IsBounced    bool      `db:"is_bounced"`
}
