package models

import "time"

type Visitor struct {
	ID              int64     `db:"id"`
	ProjectID       int64     `db:"project_id"`
	VisitorHash     string    `db:"visitor_hash"`
	FingerprintHash string    `db:"fingerprint_hash"` // "" when the client sent none
	FirstSeen       time.Time `db:"first_seen"`
	LastSeen        time.Time `db:"last_seen"`
}
