package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ingest-service/internal/models"
)

var errStorage = errors.New("storage unavailable")

var errNUL = errors.New("invalid byte sequence for encoding \"UTF8\": 0x00")

// rejectNUL mirrors PostgreSQL, which refuses NUL in text values.
func rejectNUL(values ...string) error {
	for _, v := range values {
		if strings.Contains(v, "\x00") {
			return errNUL
		}
	}
	return nil
}

// memStore is an in-memory stand-in for the PostgreSQL repositories. Each
// method holds the lock for its whole body, which gives the same
// single-statement atomicity the SQL upserts rely on.
type memStore struct {
	mu sync.Mutex

	nextID    int64
	projects  map[string]*models.Project
	visitors  map[int64]*models.Visitor
	sessions  map[string]*models.Session
	pageviews []*models.Pageview
	locations map[models.Location]int64
	devices   map[models.Device]int64
	groups    map[string]*models.ErrorGroup
	events    []*models.ErrorEvent
	audits    []*models.AuditLog
	links     map[string]*models.TrackedLink
	clicks    []*models.LinkClick

	fail map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		projects:  map[string]*models.Project{},
		visitors:  map[int64]*models.Visitor{},
		sessions:  map[string]*models.Session{},
		locations: map[models.Location]int64{},
		devices:   map[models.Device]int64{},
		groups:    map[string]*models.ErrorGroup{},
		links:     map[string]*models.TrackedLink{},
		fail:      map[string]error{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) failWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[method] = err
}

func (m *memStore) addProject(p models.Project) *models.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.projects[p.PublicKey] = &p
	return &p
}

func (m *memStore) addLink(l models.TrackedLink) *models.TrackedLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.id()
	m.links[l.Code] = &l
	return &l
}

func (m *memStore) visitorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visitors)
}

func (m *memStore) session(token string) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[token]
}

func (m *memStore) pageviewCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pageviews)
}

// ProjectStore

func (m *memStore) GetByPublicKey(_ context.Context, key string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["GetByPublicKey"]; err != nil {
		return nil, err
	}
	p, ok := m.projects[key]
	if !ok || !p.IsActive {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// VisitorStore

func (m *memStore) findVisitor(projectID int64, hash string) *models.Visitor {
	for _, v := range m.visitors {
		if v.ProjectID == projectID && v.VisitorHash == hash {
			return v
		}
	}
	return nil
}

func (m *memStore) TouchByHash(_ context.Context, projectID int64, hash string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["TouchByHash"]; err != nil {
		return 0, err
	}
	v := m.findVisitor(projectID, hash)
	if v == nil {
		return 0, nil
	}
	if now.After(v.LastSeen) {
		v.LastSeen = now
	}
	return v.ID, nil
}

func (m *memStore) RelinkByFingerprint(_ context.Context, projectID int64, fp, hash string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["RelinkByFingerprint"]; err != nil {
		return 0, err
	}
	var latest *models.Visitor
	for _, v := range m.visitors {
		if v.ProjectID == projectID && v.FingerprintHash == fp {
			if latest == nil || v.LastSeen.After(latest.LastSeen) {
				latest = v
			}
		}
	}
	if latest == nil {
		return 0, nil
	}
	if other := m.findVisitor(projectID, hash); other != nil && other.ID != latest.ID {
		return 0, nil
	}
	latest.VisitorHash = hash
	latest.LastSeen = now
	return latest.ID, nil
}

func (m *memStore) Upsert(_ context.Context, projectID int64, hash, fp string, now time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["VisitorUpsert"]; err != nil {
		return 0, false, err
	}
	if v := m.findVisitor(projectID, hash); v != nil {
		if now.After(v.LastSeen) {
			v.LastSeen = now
		}
		if now.Before(v.FirstSeen) {
			v.FirstSeen = now
		}
		if v.FingerprintHash == "" {
			v.FingerprintHash = fp
		}
		return v.ID, false, nil
	}
	v := &models.Visitor{ID: m.id(), ProjectID: projectID, VisitorHash: hash, FingerprintHash: fp, FirstSeen: now, LastSeen: now}
	m.visitors[v.ID] = v
	return v.ID, true, nil
}

// SessionStore, exposed through sessionView so its Upsert does not clash
// with the visitor one.

type sessionView struct{ *memStore }

func (s sessionView) Upsert(_ context.Context, projectID, visitorID int64, token string, now, activeSince time.Time) (int64, bool, error) {
	m := s.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["SessionUpsert"]; err != nil {
		return 0, false, err
	}
	if sess, ok := m.sessions[token]; ok {
		if sess.ProjectID != projectID || sess.LastActivity.Before(activeSince) {
			return 0, false, nil
		}
		sess.LastActivity = now
		return sess.ID, false, nil
	}
	sess := &models.Session{ID: m.id(), ProjectID: projectID, VisitorID: visitorID, SessionToken: token, StartedAt: now, LastActivity: now, IsBounced: true}
	m.sessions[token] = sess
	return sess.ID, true, nil
}

func (s sessionView) MarkEngaged(_ context.Context, sessionID int64) (bool, error) {
	m := s.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["MarkEngaged"]; err != nil {
		return false, err
	}
	count := 0
	for _, pv := range m.pageviews {
		if pv.SessionID == sessionID {
			count++
		}
	}
	for _, sess := range m.sessions {
		if sess.ID == sessionID && sess.IsBounced && count > 1 {
			sess.IsBounced = false
			return true, nil
		}
	}
	return false, nil
}

// PageviewStore, exposed through pageviewView for its Insert.

type pageviewView struct{ *memStore }

func (p pageviewView) ExistsSince(_ context.Context, projectID, visitorID int64, url string, since time.Time) (bool, error) {
	m := p.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["ExistsSince"]; err != nil {
		return false, err
	}
	for _, pv := range m.pageviews {
		if pv.ProjectID == projectID && pv.VisitorID == visitorID && pv.URL == url && !pv.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (p pageviewView) Insert(_ context.Context, pv *models.Pageview) (int64, error) {
	m := p.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["PageviewInsert"]; err != nil {
		return 0, err
	}
	if err := rejectNUL(pv.URL, pv.PageTitle, pv.ReferrerURL, pv.ScreenResolution, pv.Timezone); err != nil {
		return 0, err
	}
	cp := *pv
	cp.ID = m.id()
	m.pageviews = append(m.pageviews, &cp)
	return cp.ID, nil
}

// DimensionStore

func (m *memStore) UpsertLocation(_ context.Context, _ int64, loc models.Location) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["UpsertLocation"]; err != nil {
		return 0, err
	}
	if id, ok := m.locations[loc]; ok {
		return id, nil
	}
	id := m.id()
	m.locations[loc] = id
	return id, nil
}

func (m *memStore) UpsertDevice(_ context.Context, _ int64, dev models.Device) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["UpsertDevice"]; err != nil {
		return 0, err
	}
	if id, ok := m.devices[dev]; ok {
		return id, nil
	}
	id := m.id()
	m.devices[dev] = id
	return id, nil
}

// ErrorStore

func (m *memStore) UpsertGroup(_ context.Context, g *models.ErrorGroup) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["UpsertGroup"]; err != nil {
		return 0, err
	}
	if existing, ok := m.groups[g.Fingerprint]; ok {
		existing.OccurrenceCount++
		existing.LastSeen = g.LastSeen
		existing.Severity = g.Severity
		if existing.Status == "resolved" {
			existing.Status = "open"
		}
		return existing.ID, nil
	}
	cp := *g
	cp.ID = m.id()
	cp.OccurrenceCount = 1
	m.groups[g.Fingerprint] = &cp
	return cp.ID, nil
}

func (m *memStore) InsertEvent(_ context.Context, e *models.ErrorEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["InsertEvent"]; err != nil {
		return 0, err
	}
	cp := *e
	cp.ID = m.id()
	m.events = append(m.events, &cp)
	return cp.ID, nil
}

// AuditStore, exposed through auditView for its Insert.

type auditView struct{ *memStore }

func (a auditView) Insert(_ context.Context, entry *models.AuditLog) (int64, error) {
	m := a.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["AuditInsert"]; err != nil {
		return 0, err
	}
	if err := rejectNUL(entry.Action, entry.Actor); err != nil {
		return 0, err
	}
	if strings.Contains(string(entry.Context), `\u0000`) {
		return 0, errNUL
	}
	cp := *entry
	cp.ID = m.id()
	m.audits = append(m.audits, &cp)
	return cp.ID, nil
}

// LinkStore

func (m *memStore) GetActiveByCode(_ context.Context, code string) (*models.TrackedLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["GetActiveByCode"]; err != nil {
		return nil, err
	}
	l, ok := m.links[code]
	if !ok || !l.IsActive {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) InsertClick(_ context.Context, c *models.LinkClick) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["InsertClick"]; err != nil {
		return 0, err
	}
	cp := *c
	cp.ID = m.id()
	m.clicks = append(m.clicks, &cp)
	return cp.ID, nil
}

// Enrichment and output fakes.

type fixedGeo map[string]models.Location

func (g fixedGeo) Lookup(ip string) models.Location { return g[ip] }

type countingRecorder struct {
	mu        sync.Mutex
	accepted  map[string]int
	duplicate map[string]int
	failed    map[string]int
	rotated   int
	healed    int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{accepted: map[string]int{}, duplicate: map[string]int{}, failed: map[string]int{}}
}

func (r *countingRecorder) EventAccepted(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted[kind]++
}

func (r *countingRecorder) EventDuplicate(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duplicate[kind]++
}

func (r *countingRecorder) StageFailed(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[stage]++
}

func (r *countingRecorder) SessionRotated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotated++
}

func (r *countingRecorder) VisitorHealed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healed++
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(_ context.Context, e models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
