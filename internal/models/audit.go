package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID        int64           `db:"id" json:"id"`
	ProjectID int64           `db:"project_id" json:"project_id"`
	Action    string          `db:"action" json:"action"`
	Actor     string          `db:"actor" json:"actor,omitempty"`
	IPHash    string          `db:"ip_hash" json:"-"`
	Context   json.RawMessage `db:"context" json:"context,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
