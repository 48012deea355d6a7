// Package apierr is the single error taxonomy shared by every feature
// package. All expected business conditions are returned as *APIError values
// with a closed set of codes; only storage faults travel as plain errors and
// are wrapped into STORAGE_UNAVAILABLE / TIMEOUT at the HTTP boundary.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument        Code = "INVALID_ARGUMENT"
	CodeInvalidWindow          Code = "INVALID_WINDOW"
	CodeInsufficientCapacity   Code = "INSUFFICIENT_CAPACITY"
	CodeDuplicateActiveRequest Code = "DUPLICATE_ACTIVE_REQUEST"
	CodeStateConflict          Code = "STATE_CONFLICT"
	CodeNotRenewable           Code = "NOT_RENEWABLE"
	CodeRenewalWindowClosed    Code = "RENEWAL_WINDOW_CLOSED"
	CodeExtensionTooLong       Code = "EXTENSION_TOO_LONG"
	CodePersonalLimitExceeded  Code = "PERSONAL_LIMIT_EXCEEDED"
	CodeSystemLimitExceeded    Code = "SYSTEM_LIMIT_EXCEEDED"
	CodeCapacityBelowCommitted Code = "CAPACITY_BELOW_COMMITTED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeConflict               Code = "CONFLICT"
	CodeTimeout                Code = "TIMEOUT"
	CodeStorageUnavailable     Code = "STORAGE_UNAVAILABLE"
	CodeInternal               Code = "INTERNAL"
)

// APIError carries the code, a human-readable message and enough structured
// detail (resource id, window, limits) for the caller to render an
// actionable message instead of a bare "failed".
type APIError struct {
	Code    Code
	Message string
	Detail  map[string]any
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// WithDetail attaches one structured detail field, returning the error for
// chaining.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.Detail == nil {
		e.Detail = map[string]any{}
	}
	e.Detail[key] = value
	return e
}

func New(code Code, msg string) *APIError { return &APIError{Code: code, Message: msg} }

func Invalid(msg string) *APIError       { return New(CodeInvalidArgument, msg) }
func InvalidWindow(msg string) *APIError { return New(CodeInvalidWindow, msg) }
func NotFound(msg string) *APIError      { return New(CodeNotFound, msg) }
func Conflict(msg string) *APIError      { return New(CodeConflict, msg) }
func StateConflict(msg string) *APIError { return New(CodeStateConflict, msg) }
func Internal(msg string) *APIError      { return New(CodeInternal, msg) }

func InsufficientCapacity(remaining, requested int) *APIError {
	return New(CodeInsufficientCapacity, "requested quantity exceeds remaining capacity").
		WithDetail("remaining", remaining).
		WithDetail("requested", requested)
}

// FromStorage classifies a non-business error coming out of the store layer.
// Deadline overruns become TIMEOUT so callers can retry; everything else is
// STORAGE_UNAVAILABLE.
func FromStorage(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return New(CodeTimeout, "could not complete the operation in time")
	}
	return New(CodeStorageUnavailable, "storage unavailable")
}

// HTTPStatus maps error codes onto HTTP statuses for the gin handlers.
func HTTPStatus(err error) int {
	var api *APIError
	if !errors.As(err, &api) {
		return http.StatusInternalServerError
	}
	switch api.Code {
	case CodeInvalidArgument, CodeInvalidWindow, CodeExtensionTooLong:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientCapacity, CodeDuplicateActiveRequest, CodeStateConflict,
		CodeNotRenewable, CodeRenewalWindowClosed, CodeConflict,
		CodeCapacityBelowCommitted:
		return http.StatusConflict
	case CodePersonalLimitExceeded, CodeSystemLimitExceeded:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error envelope every handler returns.
type Body struct {
	Error struct {
		Code    Code           `json:"code"`
		Message string         `json:"message"`
		Detail  map[string]any `json:"detail,omitempty"`
	} `json:"error"`
}

func ToBody(err error) Body {
	var b Body
	var api *APIError
	if errors.As(err, &api) {
		b.Error.Code = api.Code
		b.Error.Message = api.Message
		b.Error.Detail = api.Detail
		return b
	}
	b.Error.Code = CodeInternal
	b.Error.Message = err.Error()
	return b
}
