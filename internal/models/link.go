package models

import "time"

type TrackedLink struct {
	ID             int64  `db:"id"`
	ProjectID      int64  `db:"project_id"`
	Code           string `db:"code"`
	DestinationURL string `db:"destination_url"`
	IsActive       bool   `db:"is_active"`
}

type LinkClick struct {
	ID               int64     `db:"id"`
	LinkID           int64     `db:"link_id"`
	ProjectID        int64     `db:"project_id"`
	LocationID       *int64    `db:"location_id"`
	DeviceID         *int64    `db:"device_id"`
	ReferrerURL      string    `db:"referrer_url"`
	ReferrerCategory string    `db:"referrer_category"`
	IPHash           string    `db:"ip_hash"`
	CreatedAt        time.Time `db:"created_at"`
}
