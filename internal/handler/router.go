package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"ingest-service/internal/config"
	"ingest-service/internal/enrichment"
	"ingest-service/internal/metrics"
	"ingest-service/internal/ratelimit"
	"ingest-service/internal/util"
)

// RouterDeps bundles what NewRouter wires together. Admitter may be nil
// to disable admission control.
type RouterDeps struct {
	Track     *TrackHandler
	Health    *HealthHandler
	Admitter  Admitter
	Rules     map[string]config.RouteRule
	ClientIPs *enrichment.ClientIPResolver
	Metrics   *metrics.Metrics
	Server    config.ServerConfig
	Logger    *zap.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(d RouterDeps) chi.Router {
	router := chi.NewRouter()

	timeout := d.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	origins := d.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(middleware.RequestID)
	router.Use(LoggerMiddleware(d.Logger))
	if d.Metrics != nil {
		router.Use(MetricsMiddleware(d.Metrics))
	}
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	var recorder AdmissionRecorder
	if d.Metrics != nil {
		recorder = d.Metrics
	}
	admit := func(route string) func(http.Handler) http.Handler {
		rule := d.Rules[route]
		return Admission(d.Admitter, route, ratelimit.Rule{
			Allowed: rule.Allowed,
			Window:  rule.Window,
			Block:   rule.Block,
		}, d.ClientIPs, recorder, d.Logger)
	}

	router.Get("/health", d.Health.Health)
	if d.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	router.Route("/api/track", func(r chi.Router) {
		r.With(admit(config.RoutePageview), BotFilter).Post("/pageview", d.Track.Pageview)
		r.With(admit(config.RouteErrors)).Post("/error", d.Track.Error)
		r.With(admit(config.RouteAudit)).Post("/audit", d.Track.Audit)
	})
	router.With(admit(config.RouteRedirect)).Get("/r/{code}", d.Track.Redirect)

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}

// LoggerMiddleware logs every request. Client addresses are not logged.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// MetricsMiddleware observes request latency labelled by route pattern.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			m.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
		})
	}
}
