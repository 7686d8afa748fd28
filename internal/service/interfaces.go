package service

import (
	"context"
	"time"

	"ingest-service/internal/models"
)

// Storage ports. The PostgreSQL repositories implement them; every write
// is a single statement so concurrent requests converge without locks.

type ProjectStore interface {
	GetByPublicKey(ctx context.Context, publicKey string) (*models.Project, error)
}

type VisitorStore interface {
	TouchByHash(ctx context.Context, projectID int64, visitorHash string, now time.Time) (int64, error)
	RelinkByFingerprint(ctx context.Context, projectID int64, fingerprintHash, visitorHash string, now time.Time) (int64, error)
	Upsert(ctx context.Context, projectID int64, visitorHash, fingerprintHash string, now time.Time) (id int64, created bool, err error)
}

type SessionStore interface {
	Upsert(ctx context.Context, projectID, visitorID int64, token string, now, activeSince time.Time) (id int64, created bool, err error)
	MarkEngaged(ctx context.Context, sessionID int64) (bool, error)
}

type PageviewStore interface {
	ExistsSince(ctx context.Context, projectID, visitorID int64, url string, since time.Time) (bool, error)
	Insert(ctx context.Context, pv *models.Pageview) (int64, error)
}

type DimensionStore interface {
	UpsertLocation(ctx context.Context, projectID int64, loc models.Location) (int64, error)
	UpsertDevice(ctx context.Context, projectID int64, dev models.Device) (int64, error)
}

type ErrorStore interface {
	UpsertGroup(ctx context.Context, g *models.ErrorGroup) (int64, error)
	InsertEvent(ctx context.Context, e *models.ErrorEvent) (int64, error)
}

type AuditStore interface {
	Insert(ctx context.Context, a *models.AuditLog) (int64, error)
}

type LinkStore interface {
	GetActiveByCode(ctx context.Context, code string) (*models.TrackedLink, error)
	InsertClick(ctx context.Context, c *models.LinkClick) (int64, error)
}

// Enrichment capabilities, built once at startup.

type LocationLookup interface {
	Lookup(ip string) models.Location
}

type DeviceParser interface {
	Parse(userAgent string) models.Device
}

type IdentityHasher interface {
	HashVisitor(visitorID string) string
	HashFingerprint(fingerprint string) string
	HashIP(ip string) string
}

// EventPublisher mirrors persisted events downstream. It must not block
// the caller on slow sinks and never reports failures back.
type EventPublisher interface {
	Publish(ctx context.Context, e models.Event)
}

// Recorder receives ingest outcomes for metrics.
type Recorder interface {
	EventAccepted(kind string)
	EventDuplicate(kind string)
	StageFailed(stage string)
	SessionRotated()
	VisitorHealed()
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.Event) {}

type noopRecorder struct{}

func (noopRecorder) EventAccepted(string)  {}
func (noopRecorder) EventDuplicate(string) {}
func (noopRecorder) StageFailed(string)    {}
func (noopRecorder) SessionRotated()       {}
func (noopRecorder) VisitorHealed()        {}
