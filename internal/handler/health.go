package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ingest-service/internal/util"
)

// HealthCheck is one dependency probe. A failing non-critical check only
// degrades the report.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthHandler(logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 3 * time.Second, logger: logger}
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health. Checks run concurrently; one failing check
// never cancels the others.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make([]error, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			results[i] = c.Check(ctx)
			return nil
		})
	}
	g.Wait()

	report := healthReport{Status: "healthy", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for i, c := range h.checks {
		err := results[i]
		if err == nil {
			report.Checks[c.Name] = "ok"
			continue
		}
		report.Checks[c.Name] = err.Error()
		if c.Critical {
			report.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else if report.Status == "healthy" {
			report.Status = "degraded"
		}
		h.logger.Warn("Health check failed",
			util.String("check", c.Name),
			util.Bool("critical", c.Critical),
			util.ErrorField(err),
		)
	}

	respondWithJSON(w, h.logger, status, report)
}
