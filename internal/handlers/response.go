package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"liveclass-backend/internal/middleware"
	"liveclass-backend/internal/models"
	"liveclass-backend/internal/services"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return errorRespWithFields(code, message, nil, r)
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

// decodeJSON reads a bounded JSON body into dst and reports a 400 itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	return true
}

// uuidParam parses a chi URL parameter and reports a 400 itself.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Invalid identifier",
			map[string]string{name: "must be a UUID"}, r))
		return uuid.Nil, false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		partial      *services.PartialFailureError
		validation   *services.ValidationError
		notFound     *services.NotFoundError
		invalidState *services.InvalidStateError
		conflict     *services.ConflictError
		unauthorized *services.UnauthorizedError
		forbidden    *services.ForbiddenError
		rateLimit    *services.RateLimitError
		apiErr       *services.ProviderAPIError
		tokenErr     *services.TokenFetchError
		authCfg      *services.AuthConfigError
	)

	// Partial failure first: it wraps the persistence error, which may itself
	// be one of the kinds below.
	switch {
	case errors.As(err, &partial):
		log.Printf("✗ %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("PARTIAL_FAILURE",
			"The meeting was changed but the course could not be updated; it needs manual reconciliation", r))
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validation.Fields, r))
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", notFound.Message, r))
	case errors.As(err, &invalidState):
		writeJSON(w, http.StatusConflict, errorResp("INVALID_STATE", invalidState.Error(), r))
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", conflict.Message, r))
	case errors.As(err, &unauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", unauthorized.Message, r))
	case errors.As(err, &forbidden):
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", forbidden.Message, r))
	case errors.As(err, &rateLimit):
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", rateLimit.Message, r))
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusNotFound:
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Meeting not found", r))
		case apiErr.Transient():
			writeJSON(w, http.StatusServiceUnavailable, errorResp("PROVIDER_UNAVAILABLE", "Meeting provider is unavailable, please retry", r))
		default:
			writeJSON(w, http.StatusBadGateway, errorResp("PROVIDER_ERROR", apiErr.Message, r))
		}
	case errors.As(err, &tokenErr), errors.As(err, &authCfg):
		log.Printf("✗ %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusServiceUnavailable, errorResp("PROVIDER_UNAVAILABLE", "Meeting provider authorization failed", r))
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResp("TIMEOUT", "The request timed out", r))
	default:
		log.Printf("✗ %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
