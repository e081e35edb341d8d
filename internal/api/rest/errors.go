package rest

import (
	"encoding/json"
	"net/http"

	"github.com/philmcc/dbdash-backend/internal/models"
	"github.com/philmcc/dbdash-backend/internal/pkg/logger"
)

// APIError represents a structured API error response
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusForKind maps engine error kinds to HTTP status codes.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrSessionStateConflict, models.ErrConflictingCanonical:
		return http.StatusConflict
	case models.ErrInvalidClassification:
		return http.StatusNotFound
	case models.ErrSourceUnavailable:
		return http.StatusServiceUnavailable
	case models.ErrStoreWriteFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// respondEngineError translates an engine error into the structured
// error shape, falling back to 500 for untyped errors.
func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := http.StatusInternalServerError
	if kind != "" {
		status = statusForKind(kind)
	}
	respondErrorWithCode(w, status, string(kind), err.Error(), logger.FromContext(r.Context()))
}

// respondErrorWithCode sends a structured error response
func respondErrorWithCode(w http.ResponseWriter, status int, code, message string, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	apiErr := APIError{
		Error:     message,
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}
	json.NewEncoder(w).Encode(apiErr)
}
