package models

// Project is a tenant. Events are accepted only for active projects and,
// when Origin or Referer is sent, only from AllowedDomain or its subdomains.
type Project struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	PublicKey     string `db:"public_key"`
	AllowedDomain string `db:"allowed_domain"`
	IsActive      bool   `db:"is_active"`
}
