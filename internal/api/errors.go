package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/recommend"
	"github.com/kalambet/margin/internal/storage"
)

const (
	providerUnavailableMessage = "The assistant service is unavailable right now. Please try again."
	invalidShapeMessage        = "The assistant returned an answer we could not use. Please try again."
	persistenceMessage         = "Your data could not be saved right now. Please try again."
)

type errorBody struct {
	Message string   `json:"message"`
	Type    string   `json:"type"`
	Details []string `json:"details,omitempty"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeErrorBody(w, code, errorBody{Message: fmt.Sprintf(format, args...), Type: errType})
}

func writeErrorBody(w http.ResponseWriter, code int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writeError maps a domain error onto an HTTP status and a user-facing message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		idErr      *apperr.IdentityError
		shapeErr   *apperr.InvalidShapeError
		provErr    *llm.ProviderError
		persistErr *storage.PersistenceError
	)

	switch {
	case errors.As(err, &idErr):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%s. Please sign in.", idErr.Error())
	case errors.Is(err, storage.ErrInvalidPath), errors.Is(err, discussion.ErrEmptyInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, discussion.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "not_found", "discussion not found")
	case errors.Is(err, recommend.ErrNoProfile):
		httpError(w, http.StatusNotFound, "not_found", "Complete onboarding to get recommendations.")
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, discussion.ErrInvalidState), errors.Is(err, discussion.ErrDiscarded):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.As(err, &provErr):
		logger.Error("completion provider failed", "provider", provErr.Provider, "status", provErr.StatusCode, "error", provErr.Err)
		httpError(w, http.StatusBadGateway, "api_error", providerUnavailableMessage)
	case errors.As(err, &shapeErr):
		writeErrorBody(w, http.StatusUnprocessableEntity, errorBody{
			Message: invalidShapeMessage,
			Type:    "invalid_response_error",
			Details: shapeErr.Problems,
		})
	case errors.As(err, &persistErr):
		logger.Error("persistence failed", "op", persistErr.Op, "path", persistErr.Path, "error", persistErr.Err)
		httpError(w, http.StatusServiceUnavailable, "storage_error", persistenceMessage)
	default:
		logger.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	encodeJSON(w, v)
}

func encodeJSON(w http.ResponseWriter, v any) {
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body of at most maxRequestBodySize bytes.
// It writes the 400 response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
