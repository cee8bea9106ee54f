// Package apierr carries the job pipeline's error taxonomy end to end: the
// worker and scheduler wrap failures in Error, and the gateway maps Kind to
// exactly one HTTP status.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the taxonomy entries from spec.md §7. Kinds, not types:
// every Error carries exactly one.
type Kind string

const (
	KindInvalidRequest     Kind = "InvalidRequest"
	KindUnauthorized       Kind = "Unauthorized"
	KindPayloadTooLarge    Kind = "PayloadTooLarge"
	KindUnsupportedType    Kind = "UnsupportedType"
	KindQueueFull          Kind = "QueueFull"
	KindNotFound           Kind = "NotFound"
	KindNotReady           Kind = "NotReady"
	KindRendererFailed     Kind = "RendererFailed"
	KindRendererIncomplete Kind = "RendererIncomplete"
	KindTimeout            Kind = "Timeout"
	KindCancelled          Kind = "Cancelled"
	KindUnavailable        Kind = "Unavailable"
	KindInternal           Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindInvalidRequest:     http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	KindUnsupportedType:    http.StatusUnsupportedMediaType,
	KindQueueFull:          http.StatusTooManyRequests,
	KindNotFound:           http.StatusNotFound,
	KindNotReady:           http.StatusConflict,
	KindRendererFailed:     http.StatusGone,
	KindRendererIncomplete: http.StatusGone,
	KindTimeout:            http.StatusGatewayTimeout,
	KindCancelled:          http.StatusGone,
	KindUnavailable:        http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// Error is the single error type flowing through classifier-free layers
// (C5, C6, C7). Status is derived from Kind; callers should use New rather
// than constructing Error directly so the two never drift apart.
type Error struct {
	Status int
	Kind   Kind
	Code   string
	JobID  string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	if e.Kind != "" {
		return string(e.Kind)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error from a Kind, deriving Status from the fixed
// taxonomy table and leaving Code equal to Kind unless overridden by the
// caller afterward.
func New(kind Kind, err error) *Error {
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Status: status, Kind: kind, Code: string(kind), Err: err}
}

// WithJobID attaches the job id for the gateway's error envelope.
func (e *Error) WithJobID(id string) *Error {
	e.JobID = id
	return e
}

// As reports whether err (or any error it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
