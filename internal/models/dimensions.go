package models

// Location is a deduplicated geography row. An empty CountryCode means the
// lookup found nothing and no row is stored.
type Location struct {
	Country     string `db:"country" json:"country,omitempty"`
	CountryCode string `db:"country_code" json:"country_code,omitempty"`
	Region      string `db:"region" json:"region,omitempty"`
	City        string `db:"city" json:"city,omitempty"`
}

type Device struct {
	DeviceType     string `db:"device_type" json:"device_type"`
	OS             string `db:"os" json:"os"`
	Browser        string `db:"browser" json:"browser"`
	BrowserVersion string `db:"browser_version" json:"browser_version,omitempty"`
}
