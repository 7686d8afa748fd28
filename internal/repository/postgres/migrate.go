package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL,
    public_key     TEXT NOT NULL UNIQUE,
    allowed_domain TEXT NOT NULL DEFAULT '',
    is_active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS visitors (
    id               BIGSERIAL PRIMARY KEY,
    project_id       BIGINT NOT NULL REFERENCES projects(id),
    visitor_hash     CHAR(64) NOT NULL,
    fingerprint_hash TEXT NOT NULL DEFAULT '',
    first_seen       TIMESTAMPTZ NOT NULL,
    last_seen        TIMESTAMPTZ NOT NULL,
    UNIQUE (project_id, visitor_hash)
)`,
	`CREATE TABLE IF NOT EXISTS sessions (
    id            BIGSERIAL PRIMARY KEY,
    project_id    BIGINT NOT NULL REFERENCES projects(id),
    visitor_id    BIGINT NOT NULL REFERENCES visitors(id),
    session_token TEXT NOT NULL UNIQUE,
    started_at    TIMESTAMPTZ NOT NULL,
    last_activity TIMESTAMPTZ NOT NULL,
    is_bounced    BOOLEAN NOT NULL DEFAULT TRUE
)`,
	`CREATE TABLE IF NOT EXISTS locations (
    id           BIGSERIAL PRIMARY KEY,
    project_id   BIGINT NOT NULL REFERENCES projects(id),
    country      TEXT NOT NULL DEFAULT '',
    country_code CHAR(2) NOT NULL,
    region       TEXT NOT NULL DEFAULT '',
    city         TEXT NOT NULL DEFAULT '',
    UNIQUE (project_id, country_code, region, city)
)`,
	`CREATE TABLE IF NOT EXISTS devices (
    id              BIGSERIAL PRIMARY KEY,
    project_id      BIGINT NOT NULL REFERENCES projects(id),
    device_type     TEXT NOT NULL,
    os              TEXT NOT NULL,
    browser         TEXT NOT NULL,
    browser_version TEXT NOT NULL DEFAULT '',
    UNIQUE (project_id, device_type, os, browser, browser_version)
)`,
	`CREATE TABLE IF NOT EXISTS pageviews (
    id                BIGSERIAL PRIMARY KEY,
    project_id        BIGINT NOT NULL REFERENCES projects(id),
    session_id        BIGINT NOT NULL REFERENCES sessions(id),
    visitor_id        BIGINT NOT NULL REFERENCES visitors(id),
    location_id       BIGINT REFERENCES locations(id),
    device_id         BIGINT REFERENCES devices(id),
    url               TEXT NOT NULL,
    page_title        TEXT NOT NULL DEFAULT '',
    referrer_url      TEXT NOT NULL DEFAULT '',
    referrer_category TEXT NOT NULL DEFAULT 'direct',
    utm_source        VARCHAR(255) NOT NULL DEFAULT '',
    utm_medium        VARCHAR(255) NOT NULL DEFAULT '',
    utm_campaign      VARCHAR(255) NOT NULL DEFAULT '',
    utm_content       VARCHAR(255) NOT NULL DEFAULT '',
    utm_term          VARCHAR(255) NOT NULL DEFAULT '',
    screen_resolution VARCHAR(20) NOT NULL DEFAULT '',
    timezone          VARCHAR(100) NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS error_groups (
    id               BIGSERIAL PRIMARY KEY,
    project_id       BIGINT NOT NULL REFERENCES projects(id),
    fingerprint      CHAR(64) NOT NULL,
    error_type       TEXT NOT NULL,
    message          TEXT NOT NULL,
    file             TEXT NOT NULL DEFAULT '',
    line             INTEGER NOT NULL DEFAULT 0,
    severity         TEXT NOT NULL,
    environment      TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'open',
    occurrence_count BIGINT NOT NULL DEFAULT 1,
    first_seen       TIMESTAMPTZ NOT NULL,
    last_seen        TIMESTAMPTZ NOT NULL,
    UNIQUE (project_id, fingerprint)
)`,
	`CREATE TABLE IF NOT EXISTS error_events (
    id          BIGSERIAL PRIMARY KEY,
    group_id    BIGINT NOT NULL REFERENCES error_groups(id),
    project_id  BIGINT NOT NULL REFERENCES projects(id),
    location_id BIGINT REFERENCES locations(id),
    device_id   BIGINT REFERENCES devices(id),
    error_type  TEXT NOT NULL,
    message     TEXT NOT NULL,
    file        TEXT NOT NULL DEFAULT '',
    line        INTEGER NOT NULL DEFAULT 0,
    stack       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    severity    TEXT NOT NULL,
    environment TEXT NOT NULL,
    context     JSONB,
    created_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
    id         BIGSERIAL PRIMARY KEY,
    project_id BIGINT NOT NULL REFERENCES projects(id),
    action     VARCHAR(100) NOT NULL,
    actor      VARCHAR(255) NOT NULL DEFAULT '',
    ip_hash    CHAR(64) NOT NULL,
    context    JSONB,
    created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tracked_links (
    id              BIGSERIAL PRIMARY KEY,
    project_id      BIGINT NOT NULL REFERENCES projects(id),
    code            TEXT NOT NULL UNIQUE,
    destination_url TEXT NOT NULL,
    is_active       BOOLEAN NOT NULL DEFAULT TRUE
)`,
	`CREATE TABLE IF NOT EXISTS link_clicks (
    id                BIGSERIAL PRIMARY KEY,
    link_id           BIGINT NOT NULL REFERENCES tracked_links(id),
    project_id        BIGINT NOT NULL REFERENCES projects(id),
    location_id       BIGINT REFERENCES locations(id),
    device_id         BIGINT REFERENCES devices(id),
    referrer_url      TEXT NOT NULL DEFAULT '',
    referrer_category TEXT NOT NULL DEFAULT 'direct',
    ip_hash           CHAR(64) NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL
)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_visitors_fingerprint ON visitors(project_id, fingerprint_hash) WHERE fingerprint_hash <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_pageviews_dedup ON pageviews(project_id, visitor_id, url, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_pageviews_session ON pageviews(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_error_events_group ON error_events(group_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_project ON audit_logs(project_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_link_clicks_link ON link_clicks(link_id, created_at DESC)`,
}

// MigrateUp creates every table and index the ingest path writes to.
// It is safe to run on every start.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("MigrateUp: %w", err)
		}
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("MigrateUp index: %w", err)
		}
	}
	return nil
}
