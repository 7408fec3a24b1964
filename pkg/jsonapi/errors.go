package jsonapi

import (
	"fmt"
	"strconv"
	"time"
)

// ErrorBuilder provides a fluent API for building Error objects.
type ErrorBuilder struct {
	err Error
}

// NewError creates a new ErrorBuilder with the given status, code, and title.
func NewError(status int, code, title string) *ErrorBuilder {
	return &ErrorBuilder{
		err: Error{
			Status: strconv.Itoa(status),
			Code:   code,
			Title:  title,
		},
	}
}

// Detail sets the error detail message.
func (b *ErrorBuilder) Detail(detail string) *ErrorBuilder {
	b.err.Detail = detail
	return b
}

// Detailf sets the error detail message with formatting.
func (b *ErrorBuilder) Detailf(format string, args ...any) *ErrorBuilder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

// ID sets the error ID.
func (b *ErrorBuilder) ID(id string) *ErrorBuilder {
	b.err.ID = id
	return b
}

// Pointer sets the JSON pointer to the source of the error.
// Example: "/characters"
func (b *ErrorBuilder) Pointer(pointer string) *ErrorBuilder {
	if b.err.Source == nil {
		b.err.Source = &ErrorSource{}
	}
	b.err.Source.Pointer = pointer
	return b
}

// Header sets the header that caused the error.
func (b *ErrorBuilder) Header(header string) *ErrorBuilder {
	if b.err.Source == nil {
		b.err.Source = &ErrorSource{}
	}
	b.err.Source.Header = header
	return b
}

// Meta adds metadata to the error.
func (b *ErrorBuilder) Meta(key string, value any) *ErrorBuilder {
	if b.err.Meta == nil {
		b.err.Meta = make(Meta)
	}
	b.err.Meta[key] = value
	return b
}

// Build returns the constructed Error.
func (b *ErrorBuilder) Build() Error {
	return b.err
}

// StatusCode returns the HTTP status code as an int.
func (e Error) StatusCode() int {
	code, _ := strconv.Atoi(e.Status)
	return code
}

// Common error constructors

// ErrBadRequest creates a 400 Bad Request error.
func ErrBadRequest(detail string) Error {
	return NewError(400, "bad_request", "Bad Request").Detail(detail).Build()
}

// ErrMissingAccount creates a 401 error for a request without an account header.
func ErrMissingAccount(header string) Error {
	return NewError(401, "missing_account", "Unauthorized").
		Detailf("The %s header is required", header).
		Header(header).
		Build()
}

// ErrNotFound creates a 404 Not Found error.
func ErrNotFound(resourceType string) Error {
	return NewError(404, "not_found", "Not Found").
		Detailf("The requested %s was not found", resourceType).
		Build()
}

// ErrValidation creates a 422 Unprocessable Entity error for validation failures.
func ErrValidation(field, message string) Error {
	return NewError(422, "validation_error", "Validation Failed").
		Detail(message).
		Pointer("/" + field).
		Build()
}

// ErrInternal creates a 500 Internal Server Error.
func ErrInternal(detail string) Error {
	if detail == "" {
		detail = "An internal error occurred"
	}
	return NewError(500, "internal_error", "Internal Server Error").Detail(detail).Build()
}

// ErrServiceUnavailable creates a 503 Service Unavailable error.
func ErrServiceUnavailable(detail string) Error {
	if detail == "" {
		detail = "Service temporarily unavailable"
	}
	return NewError(503, "storage_unavailable", "Service Unavailable").Detail(detail).Build()
}

// -----------------------------------------------------------------------------
// Quota Errors
// -----------------------------------------------------------------------------

// ErrPeriodLimit creates a 429 error for an exhausted period allowance.
func ErrPeriodLimit(used, limit int64, nextReset time.Time) Error {
	return NewError(429, "period_limit_exceeded", "Too Many Requests").
		Detailf("Period character limit reached (%d of %d used)", used, limit).
		Meta("used", used).
		Meta("limit", limit).
		Meta("next_reset", nextReset.UTC().Format(time.RFC3339)).
		Build()
}

// ErrPerRequestLimit creates a 413 error for a request larger than the plan allows.
func ErrPerRequestLimit(requested, limit int64) Error {
	return NewError(413, "per_request_limit_exceeded", "Payload Too Large").
		Detailf("Request of %d characters exceeds the per-request limit of %d", requested, limit).
		Pointer("/characters").
		Meta("limit", limit).
		Build()
}

// ErrFormatNotAllowed creates a 415 error for an audio format outside the plan.
func ErrFormatNotAllowed(format string) Error {
	return NewError(415, "format_not_allowed", "Unsupported Media Type").
		Detailf("Audio format '%s' is not included in the current plan", format).
		Pointer("/format").
		Build()
}

// ErrWaitCancelled creates a 409 error for an admission whose wait was cancelled.
func ErrWaitCancelled() Error {
	return NewError(409, "wait_cancelled", "Conflict").
		Detail("The wait was cancelled before generation started; nothing was charged").
		Build()
}

// ErrUnknownPlan creates a 500 error for an account mapped to a plan that does not exist.
func ErrUnknownPlan(detail string) Error {
	return NewError(500, "unknown_plan", "Internal Server Error").Detail(detail).Build()
}
