// Package apperror defines the error taxonomy shared by every layer of the runner.
//
// The HTTP layer never inspects error strings. It asks errors.Is() which sentinel
// sits in the chain and picks the status code from that:
//
//	ErrValidation, ErrUnsupportedLanguage → 400 (client error, nothing was allocated)
//	ErrUnauthorized                        → 401
//	ErrTimeout                             → 500 with the partial result
//	ErrInfrastructure                      → 500, detail only in development mode
//
// Failures of the submitted program itself are NOT errors. They travel as data
// inside the execution result (exit code, stderr).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrTimeout             = errors.New("execution timed out")
	ErrInfrastructure      = errors.New("infrastructure failure")
	ErrUnauthorized        = errors.New("unauthorized")
)

type AppError struct {
	Err     error  // sentinel, one of the Err* values above
	Message string // Human-readable error message
	Field   string // Optional: request field causing the error
	Cause   error  // Optional: underlying failure, logged but never shown in production
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is() can match
// ErrInfrastructure as well as, say, context.DeadlineExceeded.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// UnsupportedLanguage keeps the original casing of the identifier in the message.
func UnsupportedLanguage(language string) *AppError {
	return &AppError{
		Err:     ErrUnsupportedLanguage,
		Message: fmt.Sprintf("Unsupported language: %s", language),
		Field:   "language",
	}
}

func TimedOut(executionID string) *AppError {
	return &AppError{
		Err:     ErrTimeout,
		Message: fmt.Sprintf("execution %s timed out", executionID),
	}
}

// Infrastructure wraps a runtime or filesystem failure. op names the step that
// failed ("create workspace", "start container").
func Infrastructure(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrInfrastructure,
		Message: op + " failed",
		Cause:   cause,
	}
}

// Unauthorized returns an AppError indicating the caller presented no valid
// service token. The auth middleware raises it; the gateway maps it to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Detail returns the underlying cause text, or "" when there is none. The gateway
// only exposes it in development mode.
func Detail(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Cause.Error()
	}
	return ""
}
