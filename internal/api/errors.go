package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/efebarandurmaz/vectordb/internal/fingerprint"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

// badRequestError marks a request the handlers rejected before reaching
// the coordinator.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var bad *badRequestError
	switch {
	case errors.Is(err, store.ErrInsertionFailed):
		// The cause may itself be a not-found or unavailable error from
		// the index; the batch failure is what the caller needs to see.
		return http.StatusInternalServerError
	case errors.As(err, &bad),
		errors.Is(err, store.ErrArgument),
		errors.Is(err, store.ErrDimensionMismatch),
		errors.Is(err, fingerprint.ErrInvalidVector):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err,
			"request_id", RequestID(r.Context()))
	}
	respondJSON(w, status, errorResponse{Error: err.Error(), RequestID: RequestID(r.Context())})
}
