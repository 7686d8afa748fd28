package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"ingest-service/internal/enrichment"
	"ingest-service/internal/hashing"
	"ingest-service/internal/model"
	"ingest-service/internal/models"
	"ingest-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Field limits applied after trimming.
const (
	maxURLLength        = 2048
	maxTitleLength      = 512
	maxReferrerLength   = 2048
	maxIdentifierLength = 256
	maxScreenLength     = 20
	maxTimezoneLength   = 100
	maxMessageLength    = 1024
	maxErrorTypeLength  = 100
	maxFileLength       = 512
	maxStackLength      = 65535
	maxActionLength     = 100
	maxActorLength      = 255
)

const (
	defaultErrorType     = "Unknown"
	errorGroupStatusOpen = "open"
)

// ClientInfo is what the transport layer knows about the caller.
type ClientInfo struct {
	IP        string
	UserAgent string
	Origin    string
	Referer   string
}

// origin is the value checked against the project's domain lock.
func (c ClientInfo) origin() string {
	if c.Origin != "" {
		return c.Origin
	}
	return c.Referer
}

// Deps collects everything IngestService needs. Publisher, Recorder and
// Logger are optional.
type Deps struct {
	Projects   ProjectStore
	Visitors   VisitorStore
	Sessions   SessionStore
	Pageviews  PageviewStore
	Dimensions DimensionStore
	Errors     ErrorStore
	Audits     AuditStore
	Links      LinkStore

	Hasher    IdentityHasher
	Geo       LocationLookup
	UA        DeviceParser
	Publisher EventPublisher
	Recorder  Recorder
	Logger    *zap.Logger

	SessionTTL  time.Duration
	DedupWindow time.Duration
}

// IngestService runs the tracking pipelines: pageviews, error reports,
// audit entries and tracked link clicks.
type IngestService struct {
	projects   *ProjectAuthenticator
	visitors   *VisitorResolver
	sessions   *SessionResolver
	dedup      *DedupFilter
	bounce     *BounceTracker
	dimensions *DimensionResolver

	pageviews   PageviewStore
	errorEvents ErrorStore
	audits      AuditStore
	links       LinkStore

	hasher    IdentityHasher
	geo       LocationLookup
	ua        DeviceParser
	publisher EventPublisher
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewIngestService(d Deps) *IngestService {
	if d.Publisher == nil {
		d.Publisher = noopPublisher{}
	}
	if d.Recorder == nil {
		d.Recorder = noopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	return &IngestService{
		projects:    NewProjectAuthenticator(d.Projects),
		visitors:    NewVisitorResolver(d.Visitors, d.Recorder),
		sessions:    NewSessionResolver(d.Sessions, d.SessionTTL, d.Recorder),
		dedup:       NewDedupFilter(d.Pageviews, d.DedupWindow),
		bounce:      NewBounceTracker(d.Sessions),
		dimensions:  NewDimensionResolver(d.Dimensions),
		pageviews:   d.Pageviews,
		errorEvents: d.Errors,
		audits:      d.Audits,
		links:       d.Links,
		hasher:      d.Hasher,
		geo:         d.Geo,
		ua:          d.UA,
		publisher:   d.Publisher,
		recorder:    d.Recorder,
		logger:      d.Logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source of the service and its resolvers.
func (s *IngestService) SetClock(now func() time.Time) {
	s.now = now
	s.visitors.now = now
	s.sessions.now = now
}

// TrackPageview records one pageview. A repeat of the same URL by the same
// visitor inside the dedup window is acknowledged but not counted.
func (s *IngestService) TrackPageview(ctx context.Context, apiKey string, client ClientInfo, req model.PageviewRequest) (*model.PageviewResponse, error) {
	pageURL := util.Truncate(req.URL, maxURLLength)
	visitorID := util.Truncate(req.VisitorID, maxIdentifierLength)
	token := util.Truncate(req.SessionToken, maxIdentifierLength)
	if pageURL == "" || visitorID == "" || token == "" {
		return nil, invalid("url, visitor_id and session_token are required")
	}

	project, err := s.projects.Authenticate(ctx, apiKey, client.origin())
	if err != nil {
		return nil, s.fail(0, err)
	}

	visitorHash := s.hasher.HashVisitor(visitorID)
	fingerprintHash := s.hasher.HashFingerprint(util.Truncate(req.Fingerprint, maxIdentifierLength))

	visitor, err := s.visitors.Resolve(ctx, project.ID, visitorHash, fingerprintHash)
	if err != nil {
		return nil, s.fail(project.ID, err, util.String("visitor_hash", visitorHash))
	}

	session, err := s.sessions.Resolve(ctx, project.ID, visitor, token)
	if err != nil {
		return nil, s.fail(project.ID, err, util.String("visitor_hash", visitorHash))
	}

	resp := &model.PageviewResponse{}
	if session.Rotated {
		resp.SessionToken = session.Token
	}

	now := s.now()
	dup, err := s.dedup.IsDuplicate(ctx, project.ID, visitor, pageURL, now)
	if err != nil {
		return nil, s.fail(project.ID, err, util.String("visitor_hash", visitorHash))
	}
	if dup {
		s.recorder.EventDuplicate(models.EventPageview)
		return resp, nil
	}

	loc, dev, locID, devID, err := s.resolveDimensions(ctx, project.ID, client)
	if err != nil {
		return nil, s.fail(project.ID, err)
	}

	referrer := util.Truncate(req.Referrer, maxReferrerLength)
	pv := &models.Pageview{
		ProjectID:        project.ID,
		SessionID:        session.ID,
		VisitorID:        visitor,
		LocationID:       locID,
		DeviceID:         devID,
		URL:              pageURL,
		PageTitle:        util.Truncate(req.PageTitle, maxTitleLength),
		ReferrerURL:      referrer,
		ReferrerCategory: enrichment.ClassifyReferrer(referrer),
		UTM:              enrichment.ExtractUTM(pageURL),
		ScreenResolution: util.Truncate(req.ScreenResolution, maxScreenLength),
		Timezone:         util.Truncate(req.Timezone, maxTimezoneLength),
		CreatedAt:        now,
	}
	pv.ID, err = s.pageviews.Insert(ctx, pv)
	if err != nil {
		return nil, s.fail(project.ID, stageErr(StagePageview, err))
	}

	if _, err := s.bounce.MarkEngaged(ctx, session.ID); err != nil {
		return nil, s.fail(project.ID, err)
	}

	resp.Counted = true
	s.recorder.EventAccepted(models.EventPageview)
	s.publish(ctx, models.Event{
		Kind:      models.EventPageview,
		ProjectID: project.ID,
		Location:  loc,
		Device:    dev,
		Pageview:  pv,
	})
	return resp, nil
}

// TrackError groups an error report by fingerprint and stores the
// occurrence. It returns the group id.
func (s *IngestService) TrackError(ctx context.Context, apiKey string, client ClientInfo, req model.ErrorRequest) (*model.ErrorResponse, error) {
	message := util.Truncate(req.Message, maxMessageLength)
	if message == "" {
		return nil, invalid("message is required")
	}

	project, err := s.projects.Authenticate(ctx, apiKey, client.origin())
	if err != nil {
		return nil, s.fail(0, err)
	}

	errorType := util.Truncate(req.ErrorType, maxErrorTypeLength)
	if errorType == "" {
		errorType = defaultErrorType
	}
	file := util.Truncate(req.File, maxFileLength)
	line := req.Line
	if line < 0 {
		line = 0
	}
	severity := oneOf(req.Severity, models.SeverityError,
		models.SeverityInfo, models.SeverityWarning, models.SeverityError, models.SeverityCritical)
	environment := oneOf(req.Environment, models.EnvProduction,
		models.EnvProduction, models.EnvStaging, models.EnvDevelopment)
	now := s.now()

	group := &models.ErrorGroup{
		ProjectID:   project.ID,
		Fingerprint: hashing.ErrorFingerprint(project.ID, errorType, message, file, line),
		ErrorType:   errorType,
		Message:     message,
		File:        file,
		Line:        line,
		Severity:    severity,
		Environment: environment,
		Status:      errorGroupStatusOpen,
		FirstSeen:   now,
		LastSeen:    now,
	}
	group.ID, err = s.errorEvents.UpsertGroup(ctx, group)
	if err != nil {
		return nil, s.fail(project.ID, stageErr(StageErrorReport, err), util.String("fingerprint", group.Fingerprint))
	}

	loc, dev, locID, devID, err := s.resolveDimensions(ctx, project.ID, client)
	if err != nil {
		return nil, s.fail(project.ID, err)
	}

	event := &models.ErrorEvent{
		GroupID:     group.ID,
		ProjectID:   project.ID,
		LocationID:  locID,
		DeviceID:    devID,
		ErrorType:   errorType,
		Message:     message,
		File:        file,
		Line:        line,
		Stack:       util.Truncate(req.Stack, maxStackLength),
		URL:         util.Truncate(req.URL, maxURLLength),
		Severity:    severity,
		Environment: environment,
		Context:     jsonObject(req.Context),
		CreatedAt:   now,
	}
	event.ID, err = s.errorEvents.InsertEvent(ctx, event)
	if err != nil {
		return nil, s.fail(project.ID, stageErr(StageErrorReport, err), util.String("fingerprint", group.Fingerprint))
	}

	s.recorder.EventAccepted(models.EventError)
	s.publish(ctx, models.Event{
		Kind:      models.EventError,
		ProjectID: project.ID,
		Location:  loc,
		Device:    dev,
		Error:     event,
	})
	return &model.ErrorResponse{GroupID: group.ID}, nil
}

// TrackAudit appends an audit log entry.
func (s *IngestService) TrackAudit(ctx context.Context, apiKey string, client ClientInfo, req model.AuditRequest) (*model.AuditResponse, error) {
	action := util.Truncate(req.Action, maxActionLength)
	if action == "" {
		return nil, invalid("action is required")
	}

	project, err := s.projects.Authenticate(ctx, apiKey, client.origin())
	if err != nil {
		return nil, s.fail(0, err)
	}

	entry := &models.AuditLog{
		ProjectID: project.ID,
		Action:    action,
		Actor:     util.Truncate(req.Actor, maxActorLength),
		IPHash:    s.hasher.HashIP(client.IP),
		Context:   jsonObject(req.Context),
		CreatedAt: s.now(),
	}
	entry.ID, err = s.audits.Insert(ctx, entry)
	if err != nil {
		return nil, s.fail(project.ID, stageErr(StageAudit, err))
	}

	s.recorder.EventAccepted(models.EventAudit)
	s.publish(ctx, models.Event{
		Kind:      models.EventAudit,
		ProjectID: project.ID,
		Audit:     entry,
	})
	return &model.AuditResponse{ID: entry.ID}, nil
}

// TrackClick resolves a tracked link code to its destination and records
// the click. Recording is best effort: once the destination is known the
// caller is redirected even if the click could not be stored.
func (s *IngestService) TrackClick(ctx context.Context, code string, client ClientInfo) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", invalid("link code is required")
	}

	link, err := s.links.GetActiveByCode(ctx, code)
	if err != nil {
		return "", s.fail(0, stageErr(StageLink, err))
	}
	if link == nil {
		return "", ErrLinkNotFound
	}
	if !validDestination(link.DestinationURL) {
		return "", ErrInvalidDestination
	}

	loc, dev, locID, devID, err := s.resolveDimensions(ctx, link.ProjectID, client)
	if err != nil {
		s.logClickFailure(link, err)
		return link.DestinationURL, nil
	}

	referrer := util.Truncate(client.Referer, maxReferrerLength)
	click := &models.LinkClick{
		LinkID:           link.ID,
		ProjectID:        link.ProjectID,
		LocationID:       locID,
		DeviceID:         devID,
		ReferrerURL:      referrer,
		ReferrerCategory: enrichment.ClassifyReferrer(referrer),
		IPHash:           s.hasher.HashIP(client.IP),
		CreatedAt:        s.now(),
	}
	click.ID, err = s.links.InsertClick(ctx, click)
	if err != nil {
		s.logClickFailure(link, stageErr(StageLink, err))
		return link.DestinationURL, nil
	}

	s.recorder.EventAccepted(models.EventClick)
	s.publish(ctx, models.Event{
		Kind:      models.EventClick,
		ProjectID: link.ProjectID,
		Location:  loc,
		Device:    dev,
		Click:     click,
	})
	return link.DestinationURL, nil
}

func (s *IngestService) resolveDimensions(ctx context.Context, projectID int64, client ClientInfo) (*models.Location, *models.Device, *int64, *int64, error) {
	var loc models.Location
	if s.geo != nil && client.IP != "" {
		loc = s.geo.Lookup(client.IP)
	}
	var dev models.Device
	if s.ua != nil {
		dev = s.ua.Parse(client.UserAgent)
	}

	locID, err := s.dimensions.ResolveLocation(ctx, projectID, loc)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	devID, err := s.dimensions.ResolveDevice(ctx, projectID, dev)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var locOut *models.Location
	if locID != nil {
		locOut = &loc
	}
	return locOut, &dev, locID, devID, nil
}

func (s *IngestService) publish(ctx context.Context, e models.Event) {
	e.ID = uuid.NewString()
	e.OccurredAt = s.now()
	s.publisher.Publish(ctx, e)
}

// fail logs and counts storage failures. Client errors pass through
// untouched.
func (s *IngestService) fail(projectID int64, err error, fields ...zap.Field) error {
	var se *StageError
	if !errors.As(err, &se) {
		return err
	}
	s.recorder.StageFailed(se.Stage)
	fields = append(fields, util.ProjectField(projectID), util.StageField(se.Stage), util.ErrorField(se.Err))
	s.logger.Error("Ingest stage failed", fields...)
	return err
}

func (s *IngestService) logClickFailure(link *models.TrackedLink, err error) {
	var se *StageError
	stage := StageLink
	if errors.As(err, &se) {
		stage = se.Stage
	}
	s.recorder.StageFailed(stage)
	s.logger.Warn("Failed to record link click",
		util.ProjectField(link.ProjectID),
		util.String("code", link.Code),
		util.StageField(stage),
		util.ErrorField(err),
	)
}

func oneOf(value, fallback string, allowed ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return fallback
}

// jsonObject keeps raw only when it is a JSON object, compacted.
func jsonObject(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' || !json.Valid(raw) {
		return nil
	}
	// JSONB cannot store the NUL character.
	if bytes.Contains(raw, []byte(`\u0000`)) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	return buf.Bytes()
}

func validDestination(dest string) bool {
	u, err := url.Parse(strings.TrimSpace(dest))
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}
