// Package handler translates HTTP requests into service calls and service
// results into JSON responses.
//
// Handlers own only HTTP concerns: reading params and bodies, cookies,
// status codes. Business rules live in internal/service.
//
// Every error response has the same shape:
//
//	{"error": "not_found", "message": "User not found. Please check the ID and try again."}
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/discord-lookup/internal/apperror"
)

// maxBodyBytes caps JSON request bodies. Every body we accept is a few
// short fields.
const maxBodyBytes = 1 << 16

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sets the content type and status, then encodes data. Headers
// must be final before the first body byte.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorKinds maps sentinel errors to HTTP status and the machine-readable
// error string. Order matters only for errors wrapping more than one
// sentinel, which none of ours do.
var errorKinds = []struct {
	target error
	status int
	kind   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrExhausted, http.StatusNotFound, "exhausted"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{apperror.ErrUpstream, http.StatusBadGateway, "upstream_error"},
}

// writeError maps a service error onto a response.
//
// Errors carrying an *apperror.AppError keep their human message. Anything
// else is a 500 with a generic message; the real error goes to the log only,
// since it may contain SQL or file paths.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, k := range errorKinds {
			if errors.Is(err, k.target) {
				if k.status >= http.StatusInternalServerError {
					logger.Error("upstream failure", slog.String("error", err.Error()))
				}
				writeJSON(w, k.status, ErrorResponse{
					Error:   k.kind,
					Message: appErr.Message,
					Field:   appErr.Field,
				})
				return
			}
		}
	}

	logger.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a size-limited JSON body into dst. A malformed body is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}
