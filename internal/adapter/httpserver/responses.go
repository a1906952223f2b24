// Package httpserver contains HTTP handlers and middleware.
//
// It provides the REST surface of the service: transcript upload,
// progress tracking, aggregated metrics, conversation browsing, chart
// feeds and CSV export. The package keeps HTTP concerns (status codes,
// envelopes, validation of query params) out of the use case layer.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/powerpulse/powerpulse/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrSchemaInvalid):
		code = http.StatusBadRequest
		codeStr = "SCHEMA_INVALID"
	case errors.Is(err, domain.ErrTooLarge):
		code = http.StatusRequestEntityTooLarge
		codeStr = "REQUEST_TOO_LARGE"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrCancelled):
		code = http.StatusConflict
		codeStr = "CANCELLED"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		code = http.StatusGatewayTimeout
		codeStr = "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_RATE_LIMIT"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
