package models

import "time"

type UTM struct {
	Source   string `db:"utm_source" json:"utm_source,omitempty"`
	Medium   string `db:"utm_medium" json:"utm_medium,omitempty"`
	Campaign string `db:"utm_campaign" json:"utm_campaign,omitempty"`
	Content  string `db:"utm_content" json:"utm_content,omitempty"`
	Term     string `db:"utm_term" json:"utm_term,omitempty"`
}

type Pageview struct {
	ID               int64     `db:"id" json:"id"`
	ProjectID        int64     `db:"project_id" json:"project_id"`
	SessionID        int64     `db:"session_id" json:"session_id"`
	VisitorID        int64     `db:"visitor_id" json:"visitor_id"`
	LocationID       *int64    `db:"location_id" json:"location_id,omitempty"`
	DeviceID         *int64    `db:"device_id" json:"device_id,omitempty"`
	URL              string    `db:"url" json:"url"`
	PageTitle        string    `db:"page_title" json:"page_title,omitempty"`
	ReferrerURL      string    `db:"referrer_url" json:"referrer_url,omitempty"`
	ReferrerCategory string    `db:"referrer_category" json:"referrer_category"`
	UTM              UTM       `json:"utm"`
	ScreenResolution string    `db:"screen_resolution" json:"screen_resolution,omitempty"`
	Timezone         string    `db:"timezone" json:"timezone,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
