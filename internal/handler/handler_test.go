package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ingest-service/internal/bucketing"
	"ingest-service/internal/config"
	"ingest-service/internal/enrichment"
	"ingest-service/internal/metrics"
	"ingest-service/internal/model"
	"ingest-service/internal/ratelimit"
	"ingest-service/internal/repository/filemarker"
	"ingest-service/internal/service"
)

const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"

type fakeTracker struct {
	mu       sync.Mutex
	calls    int
	lastKey  string
	client   service.ClientInfo
	pageview model.PageviewRequest
	err      error
	dest     string
}

func (f *fakeTracker) record(key string, c service.ClientInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastKey = key
	f.client = c
}

func (f *fakeTracker) TrackPageview(_ context.Context, key string, c service.ClientInfo, req model.PageviewRequest) (*model.PageviewResponse, error) {
	f.record(key, c)
	f.pageview = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.PageviewResponse{Counted: true, SessionToken: "rotated"}, nil
}

func (f *fakeTracker) TrackError(_ context.Context, key string, c service.ClientInfo, _ model.ErrorRequest) (*model.ErrorResponse, error) {
	f.record(key, c)
	if f.err != nil {
		return nil, f.err
	}
	return &model.ErrorResponse{GroupID: 12}, nil
}

func (f *fakeTracker) TrackAudit(_ context.Context, key string, c service.ClientInfo, _ model.AuditRequest) (*model.AuditResponse, error) {
	f.record(key, c)
	if f.err != nil {
		return nil, f.err
	}
	return &model.AuditResponse{ID: 99}, nil
}

func (f *fakeTracker) TrackClick(_ context.Context, code string, c service.ClientInfo) (string, error) {
	f.record(code, c)
	if f.err != nil {
		return "", f.err
	}
	return f.dest, nil
}

func (f *fakeTracker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testServer struct {
	router  http.Handler
	tracker *fakeTracker
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, admitter Admitter, checks ...HealthCheck) *testServer {
	t.Helper()
	tracker := &fakeTracker{dest: "https://example.com/landing"}
	m := metrics.New()
	ips := enrichment.NewClientIPResolver([]string{"10.0.0.0/8"})
	logger := zap.NewNop()

	rules := config.FromEnv().RateLimit.Routes
	rules[config.RoutePageview] = config.RouteRule{Allowed: 2, Window: time.Minute, Block: 5 * time.Minute}

	router := NewRouter(RouterDeps{
		Track:     NewTrackHandler(tracker, ips, logger),
		Health:    NewHealthHandler(logger, checks...),
		Admitter:  admitter,
		Rules:     rules,
		ClientIPs: ips,
		Metrics:   m,
		Logger:    logger,
	})
	return &testServer{router: router, tracker: tracker, metrics: m}
}

func browserRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("User-Agent", firefoxUA)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-GB")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "pk_test")
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPageview_Success(t *testing.T) {
	s := newTestServer(t, nil)
	req := browserRequest(http.MethodPost, "/api/track/pageview", `{"url":"https://example.com/","visitor_id":"v","session_token":"t"}`)
	req.Header.Set("Origin", "https://example.com")

	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "OK", resp.Message)
	assert.Equal(t, map[string]any{"counted": true, "session_token": "rotated"}, resp.Data)

	assert.Equal(t, "pk_test", s.tracker.lastKey)
	assert.Equal(t, "https://example.com", s.tracker.client.Origin)
	assert.Equal(t, "192.0.2.1", s.tracker.client.IP)
	assert.Equal(t, "https://example.com/", s.tracker.pageview.URL)
}

func TestPageview_BotGetsNoContent(t *testing.T) {
	s := newTestServer(t, nil)

	req := browserRequest(http.MethodPost, "/api/track/pageview", `{}`)
	req.Header.Set("User-Agent", "Googlebot/2.1 (+http://www.google.com/bot.html)")

	rec := s.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, s.tracker.callCount())
}

func TestPageview_BotsCountAgainstAdmission(t *testing.T) {
	store, err := filemarker.NewStore(t.TempDir(), bucketing.NewManager(16))
	require.NoError(t, err)
	s := newTestServer(t, ratelimit.NewController(store))

	bot := func() *http.Request {
		req := browserRequest(http.MethodPost, "/api/track/pageview", `{}`)
		req.Header.Set("User-Agent", "curl/8.0")
		return req
	}

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusNoContent, s.do(bot()).Code)
	}

	rec := s.do(bot())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	// the same address is blocked for real clients too
	body := `{"url":"https://example.com/","visitor_id":"v","session_token":"t"}`
	rec = s.do(browserRequest(http.MethodPost, "/api/track/pageview", body))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Zero(t, s.tracker.callCount())
}

func TestPageview_MalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(browserRequest(http.MethodPost, "/api/track/pageview", `{"url":`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decode(t, rec).Success)
	assert.Zero(t, s.tracker.callCount())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{service.ErrInvalidInput, http.StatusBadRequest},
		{service.ErrInvalidAPIKey, http.StatusUnauthorized},
		{service.ErrDomainNotAllowed, http.StatusForbidden},
		{service.ErrLinkNotFound, http.StatusNotFound},
		{service.ErrInvalidDestination, http.StatusBadRequest},
		{&service.StageError{Stage: service.StageSession, Err: errors.New("db down")}, http.StatusInternalServerError},
		{ratelimit.ErrAdmissionUnavailable, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, getStatusCode(tt.err))
		})
	}
}

func TestServerErrorsHideCause(t *testing.T) {
	s := newTestServer(t, nil)
	s.tracker.err = &service.StageError{Stage: service.StageVisitor, Err: errors.New("pq: connection refused")}

	rec := s.do(browserRequest(http.MethodPost, "/api/track/pageview", `{}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestErrorAndAuditEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(browserRequest(http.MethodPost, "/api/track/error", `{"message":"boom"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, map[string]any{"group_id": float64(12)}, decode(t, rec).Data)

	rec = s.do(browserRequest(http.MethodPost, "/api/track/audit", `{"action":"login"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, map[string]any{"id": float64(99)}, decode(t, rec).Data)
}

func TestRedirect(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(browserRequest(http.MethodGet, "/r/promo", ""))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/landing", rec.Header().Get("Location"))
	assert.Equal(t, "promo", s.tracker.lastKey)

	s.tracker.err = service.ErrLinkNotFound
	rec = s.do(browserRequest(http.MethodGet, "/r/gone", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrustedProxyForwardedFor(t *testing.T) {
	s := newTestServer(t, nil)
	req := browserRequest(http.MethodPost, "/api/track/audit", `{"action":"x"}`)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.1.2.3")

	s.do(req)

	assert.Equal(t, "203.0.113.7", s.tracker.client.IP)
}

type admitterFunc func(ctx context.Context, identifier string, rule ratelimit.Rule) (ratelimit.Decision, error)

func (f admitterFunc) CheckOrBlock(ctx context.Context, identifier string, rule ratelimit.Rule) (ratelimit.Decision, error) {
	return f(ctx, identifier, rule)
}

func TestAdmission_RejectsWithRetryAfter(t *testing.T) {
	store, err := filemarker.NewStore(t.TempDir(), bucketing.NewManager(16))
	require.NoError(t, err)
	s := newTestServer(t, ratelimit.NewController(store))

	body := `{"url":"https://example.com/","visitor_id":"v","session_token":"t"}`
	for i := 0; i < 2; i++ {
		rec := s.do(browserRequest(http.MethodPost, "/api/track/pageview", body))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(browserRequest(http.MethodPost, "/api/track/pageview", body))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, s.tracker.callCount())

	// other routes keep their own budget
	rec = s.do(browserRequest(http.MethodPost, "/api/track/audit", `{"action":"x"}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdmission_UnavailableFailsClosed(t *testing.T) {
	broken := admitterFunc(func(context.Context, string, ratelimit.Rule) (ratelimit.Decision, error) {
		return ratelimit.Decision{}, ratelimit.ErrAdmissionUnavailable
	})
	s := newTestServer(t, broken)

	rec := s.do(browserRequest(http.MethodPost, "/api/track/error", `{"message":"x"}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, s.tracker.callCount())
}

func TestAdmission_IdentifierIsAddressAndRoute(t *testing.T) {
	var got string
	spy := admitterFunc(func(_ context.Context, id string, rule ratelimit.Rule) (ratelimit.Decision, error) {
		got = id
		return ratelimit.Decision{Allowed: true}, nil
	})
	s := newTestServer(t, spy)

	s.do(browserRequest(http.MethodGet, "/r/promo", ""))

	assert.Equal(t, "192.0.2.1:"+config.RouteRedirect, got)
}

func TestHealth(t *testing.T) {
	ok := HealthCheck{Name: "postgres", Critical: true, Check: func(context.Context) error { return nil }}
	geo := HealthCheck{Name: "geoip", Check: func(context.Context) error { return errors.New("database not loaded") }}
	down := HealthCheck{Name: "ratelimit", Critical: true, Check: func(context.Context) error { return errors.New("read-only") }}

	t.Run("degraded is still ok", func(t *testing.T) {
		s := newTestServer(t, nil, ok, geo)
		rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var report healthReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, "degraded", report.Status)
		assert.Equal(t, "ok", report.Checks["postgres"])
	})

	t.Run("critical failure", func(t *testing.T) {
		s := newTestServer(t, nil, ok, geo, down)
		rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"unhealthy"`)
	})

	t.Run("a failure does not cancel other checks", func(t *testing.T) {
		slow := HealthCheck{Name: "kafka", Check: func(ctx context.Context) error {
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
		s := newTestServer(t, nil, down, slow)
		rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

		var report healthReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, "ok", report.Checks["kafka"])
		assert.Equal(t, "read-only", report.Checks["ratelimit"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(browserRequest(http.MethodPost, "/api/track/audit", `{"action":"x"}`))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/track/audit"`)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
