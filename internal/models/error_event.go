package models

import (
	"encoding/json"
	"time"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
)

// ErrorGroup aggregates reports sharing a fingerprint.
type ErrorGroup struct {
	ID              int64     `db:"id"`
	ProjectID       int64     `db:"project_id"`
	Fingerprint     string    `db:"fingerprint"`
	ErrorType       string    `db:"error_type"`
	Message         string    `db:"message"`
	File            string    `db:"file"`
	Line            int       `db:"line"`
	Severity        string    `db:"severity"`
	Environment     string    `db:"environment"`
	Status          string    `db:"status"` // open, investigating, resolved, ignored
	OccurrenceCount int64     `db:"occurrence_count"`
	FirstSeen       time.Time `db:"first_seen"`
	LastSeen        time.Time `db:"last_seen"`
}

type ErrorEvent struct {
	ID          int64           `db:"id" json:"id"`
	GroupID     int64           `db:"group_id" json:"group_id"`
	ProjectID   int64           `db:"project_id" json:"project_id"`
	LocationID  *int64          `db:"location_id" json:"location_id,omitempty"`
	DeviceID    *int64          `db:"device_id" json:"device_id,omitempty"`
	ErrorType   string          `db:"error_type" json:"error_type"`
	Message     string          `db:"message" json:"message"`
	File        string          `db:"file" json:"file,omitempty"`
	Line        int             `db:"line" json:"line,omitempty"`
	Stack       string          `db:"stack" json:"stack,omitempty"`
	URL         string          `db:"url" json:"url,omitempty"`
	Severity    string          `db:"severity" json:"severity"`
	Environment string          `db:"environment" json:"environment"`
	Context     json.RawMessage `db:"context" json:"context,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
