// Package response renders handler results as the structured JSON error
// shape and success envelopes this service's /jobs and /engines
// endpoints use. Grounded on the reference response package's
// Error/OK/FromDomainError split, with the error-kind table re-mapped
// to jobs and engines.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/segin/distconv/internal/domain"
)

// ErrorResponse is the structured error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine-readable code plus a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK sends a 200 response with a JSON body.
func OK(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, data)
}

// Created sends a 201 response with a JSON body.
func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, data)
}

// NoContent sends a 204 with an empty body, for assignment polls that
// found nothing to hand out.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func write(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response body", "error", err)
	}
}

// Error sends a structured {error:{code,message}} body.
func Error(w http.ResponseWriter, code, message string, status int) {
	write(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest sends a 400 validation error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "VALIDATION_ERROR", message, http.StatusBadRequest)
}

// NotFound sends a 404 with the named resource.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// InternalError logs err with request context and sends a generic 500 so
// internals are never disclosed to the caller.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err, "path", r.URL.Path)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// FromDomainError inspects err's sentinel chain and writes the matching
// HTTP response, per the four error kinds in the error handling design:
// validation (400), unauthorized (401), not_found (404), internal (500).
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		NotFound(w, "job")
	case errors.Is(err, domain.ErrEngineNotFound):
		NotFound(w, "engine")
	case errors.Is(err, domain.ErrNotFound):
		NotFound(w, "resource")

	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, "UNAUTHORIZED", "invalid or missing API key", http.StatusUnauthorized)

	case errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrSourceURLRequired),
		errors.Is(err, domain.ErrTargetCodecRequired),
		errors.Is(err, domain.ErrInvalidJobSize),
		errors.Is(err, domain.ErrInvalidMaxRetries),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrInvalidOutputURL),
		errors.Is(err, domain.ErrErrorMessageRequired),
		errors.Is(err, domain.ErrInvalidProgress),
		errors.Is(err, domain.ErrEngineIDRequired),
		errors.Is(err, domain.ErrInvalidBenchmarkTime),
		errors.Is(err, domain.ErrInvalidStorageCapacity),
		errors.Is(err, domain.ErrUnknownUpdateField):
		BadRequest(w, err.Error())

	default:
		InternalError(w, r, err)
	}
}
