package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ingest-service/internal/service"
	"ingest-service/internal/util"
)

// Response is the envelope of every JSON answer.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func successResponse(data any, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

var errInternal = errors.New("internal error")

func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError answers with the status mapped from err. Server errors
// carry a generic message; their cause is logged where they happened.
func respondWithError(w http.ResponseWriter, logger *zap.Logger, err error, message string) {
	statusCode := getStatusCode(err)
	if statusCode >= http.StatusInternalServerError {
		err = errInternal
	} else {
		logger.Debug("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message),
		)
	}
	respondWithJSON(w, logger, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidDestination):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrDomainNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrLinkNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
