package models

import "time"

const (
	EventPageview = "pageview"
	EventError    = "error"
	EventAudit    = "audit"
	EventClick    = "click"
)

// Event is the record mirrored to downstream sinks after an ingest
// request has been persisted. Exactly one payload field is set.
type Event struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	ProjectID  int64       `json:"project_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Location   *Location   `json:"location,omitempty"`
	Device     *Device     `json:"device,omitempty"`
	Pageview   *Pageview   `json:"pageview,omitempty"`
	Error      *ErrorEvent `json:"error,omitempty"`
	Audit      *AuditLog   `json:"audit,omitempty"`
	Click      *LinkClick  `json:"click,omitempty"`
}
