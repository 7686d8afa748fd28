package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"ingest-service/internal/enrichment"
	"ingest-service/internal/metrics"
	"ingest-service/internal/ratelimit"
	"ingest-service/internal/util"
)

type Admitter interface {
	CheckOrBlock(ctx context.Context, identifier string, rule ratelimit.Rule) (ratelimit.Decision, error)
}

type AdmissionRecorder interface {
	Admission(route, decision string)
}

// Admission limits each client address per route. Rejected requests get
// 429 with Retry-After; a limiter that cannot record the attempt answers
// 500 rather than letting the request through uncounted.
func Admission(adm Admitter, route string, rule ratelimit.Rule, ips *enrichment.ClientIPResolver, rec AdmissionRecorder, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if adm == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := ips.ClientIP(r) + ":" + route

			decision, err := adm.CheckOrBlock(r.Context(), identifier, rule)
			if err != nil {
				logger.Error("Admission check failed", util.RouteField(route), util.ErrorField(err))
				record(rec, route, metrics.DecisionUnavailable)
				respondWithError(w, logger, err, "Rate limiter unavailable")
				return
			}
			if !decision.Allowed {
				record(rec, route, metrics.DecisionRejected)
				w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfterSeconds(), 10))
				respondWithJSON(w, logger, http.StatusTooManyRequests, Response{
					Success: false,
					Error:   "rate limit exceeded",
					Message: "Too many requests",
				})
				return
			}
			record(rec, route, metrics.DecisionAllowed)
			next.ServeHTTP(w, r)
		})
	}
}

func record(rec AdmissionRecorder, route, decision string) {
	if rec != nil {
		rec.Admission(route, decision)
	}
}
