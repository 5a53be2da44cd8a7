package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// WHY HELPERS?
// Without helpers, every handler repeats the same boilerplate:
//   w.Header().Set("Content-Type", "application/json")
//   w.WriteHeader(statusCode)
//   json.NewEncoder(w).Encode(data)
//
// With helpers, handlers are cleaner and more consistent:
//   writeJSON(w, http.StatusOK, data)
//   writeExecutionError(w, res, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from the runner has the same base shape:
//   {"success": false, "error": "Code and language are required", "executionId": "..."}
//
// The calling application checks `success` first and shows `error` to the
// learner, so both fields are always present, whatever the status code.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/service"
)

// ErrorResponse is the error body returned by every endpoint.
// Optional fields are omitted when empty so each error carries only what
// applies to it.
type ErrorResponse struct {
	Success            bool     `json:"success"`
	Error              string   `json:"error"`
	ExecutionID        string   `json:"executionId,omitempty"`
	ExecutionTime      int64    `json:"executionTime,omitempty"`
	SupportedLanguages []string `json:"supportedLanguages,omitempty"`
	AvailableEndpoints []string `json:"availableEndpoints,omitempty"`
	Details            string   `json:"details,omitempty"` // development mode only
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// You MUST set headers and status code BEFORE writing the body.
// Once you call w.Write() (which Encode does internally), the headers are sent.
// Any header changes after that are silently ignored.
//
// That's why we do:
//  1. w.Header().Set(...)     ← set headers
//  2. w.WriteHeader(status)   ← send status + headers
//  3. json.Encode(data)       ← send body
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// If encoding fails, the headers are already sent, so we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeExecutionError maps a failed Execute call to an HTTP response.
//
// ERROR MAPPING:
// The service layer returns sentinel errors wrapped in *apperror.AppError and
// never knows about status codes. This is where they become HTTP:
//
//	ErrValidation          → 400 {success, error, executionId}
//	ErrUnsupportedLanguage → 400 + supportedLanguages
//	ErrTimeout             → 500 with the full ExecutionResult (partial output included)
//	anything else          → 500 generic message (+ details in development)
//
// errors.Is() UNWRAPPING:
// errors.Is(err, target) walks the entire error chain (via Unwrap())
// to see if `target` appears anywhere:
//
//	service returns: apperror.UnsupportedLanguage("ruby")
//	which wraps:     AppError{Err: ErrUnsupportedLanguage, Message: "..."}
//	errors.Is walks: AppError → ErrUnsupportedLanguage ✓ match!
//
// NEVER LEAK INTERNALS IN PRODUCTION:
// Docker errors contain socket paths, image names and container ids. The
// generic 500 only carries the cause in development mode.
func (h *ExecuteHandler) writeExecutionError(w http.ResponseWriter, res *executor.ExecutionResult, err error) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:       messageFor(res, err),
			ExecutionID: res.ExecutionID,
		})

	case errors.Is(err, apperror.ErrUnsupportedLanguage):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:              messageFor(res, err),
			ExecutionID:        res.ExecutionID,
			SupportedLanguages: h.supported(),
		})

	case errors.Is(err, apperror.ErrTimeout):
		// The result already says success:false, timedOut:true, exitCode:-1.
		writeJSON(w, http.StatusInternalServerError, res)

	default:
		body := ErrorResponse{
			Error:         service.MsgInternal,
			ExecutionID:   res.ExecutionID,
			ExecutionTime: res.ExecutionTime,
		}
		if h.development {
			body.Details = apperror.Detail(err)
			if body.Details == "" {
				body.Details = err.Error()
			}
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// WriteError writes the error body for requests rejected before they reach a
// handler. The auth middleware uses it, so a 401 looks like any other error.
//
//	ErrUnauthorized → 401 + WWW-Authenticate challenge
//	ErrValidation   → 400
//	anything else   → 500 generic message
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperror.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="code-runner"`)
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: messageFor(nil, err)})

	case errors.Is(err, apperror.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: messageFor(nil, err)})

	default:
		slog.Error("request rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: service.MsgInternal})
	}
}

// messageFor prefers the message the service already put on the result.
func messageFor(res *executor.ExecutionResult, err error) string {
	if res != nil && res.Error != "" {
		return res.Error
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
