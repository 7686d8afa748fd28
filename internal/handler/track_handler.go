package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ingest-service/internal/enrichment"
	"ingest-service/internal/model"
	"ingest-service/internal/service"
)

const maxBodyBytes = 256 << 10

// Tracker is the ingest API the handlers drive.
type Tracker interface {
	TrackPageview(ctx context.Context, apiKey string, client service.ClientInfo, req model.PageviewRequest) (*model.PageviewResponse, error)
	TrackError(ctx context.Context, apiKey string, client service.ClientInfo, req model.ErrorRequest) (*model.ErrorResponse, error)
	TrackAudit(ctx context.Context, apiKey string, client service.ClientInfo, req model.AuditRequest) (*model.AuditResponse, error)
	TrackClick(ctx context.Context, code string, client service.ClientInfo) (string, error)
}

// TrackHandler handles the public tracking endpoints.
type TrackHandler struct {
	tracker Tracker
	ips     *enrichment.ClientIPResolver
	logger  *zap.Logger
}

func NewTrackHandler(tracker Tracker, ips *enrichment.ClientIPResolver, logger *zap.Logger) *TrackHandler {
	return &TrackHandler{tracker: tracker, ips: ips, logger: logger}
}

func (h *TrackHandler) clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{
		IP:        h.ips.ClientIP(r),
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get("Origin"),
		Referer:   r.Header.Get("Referer"),
	}
}

func apiKey(r *http.Request) string {
	return r.Header.Get("X-API-Key")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", service.ErrInvalidInput)
	}
	return nil
}

// Pageview handles POST /api/track/pageview
func (h *TrackHandler) Pageview(w http.ResponseWriter, r *http.Request) {
	var req model.PageviewRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, h.logger, err, "Invalid request body")
		return
	}

	resp, err := h.tracker.TrackPageview(r.Context(), apiKey(r), h.clientInfo(r), req)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to track pageview")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(resp, "OK"))
}

// Error handles POST /api/track/error
func (h *TrackHandler) Error(w http.ResponseWriter, r *http.Request) {
	var req model.ErrorRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, h.logger, err, "Invalid request body")
		return
	}

	resp, err := h.tracker.TrackError(r.Context(), apiKey(r), h.clientInfo(r), req)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to track error")
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(resp, "Error logged"))
}

// Audit handles POST /api/track/audit
func (h *TrackHandler) Audit(w http.ResponseWriter, r *http.Request) {
	var req model.AuditRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, h.logger, err, "Invalid request body")
		return
	}

	resp, err := h.tracker.TrackAudit(r.Context(), apiKey(r), h.clientInfo(r), req)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to track audit event")
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(resp, "Audit event logged"))
}

// Redirect handles GET /r/{code}
func (h *TrackHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	dest, err := h.tracker.TrackClick(r.Context(), chi.URLParam(r, "code"), h.clientInfo(r))
	if err != nil {
		respondWithError(w, h.logger, err, "Cannot follow link")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, dest, http.StatusFound)
}

// BotFilter answers automated clients with 204 before anything downstream
// runs.
func BotFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enrichment.IsBot(r) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
