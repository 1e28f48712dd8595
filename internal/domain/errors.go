package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies failures crossing an adapter boundary.
type ErrorKind string

const (
	KindInvalidEndpoint        ErrorKind = "invalid_endpoint"
	KindNetworkFailure         ErrorKind = "network_failure"
	KindUnauthorized           ErrorKind = "unauthorized"
	KindServerError            ErrorKind = "server_error"
	KindEmptyResponse          ErrorKind = "empty_response"
	KindMalformedResponse      ErrorKind = "malformed_response"
	KindTimeout                ErrorKind = "timeout"
	KindRecognitionUnavailable ErrorKind = "recognition_unavailable"
	KindRecognitionTransient   ErrorKind = "recognition_transient"
	KindSynthesisEmptyOutput   ErrorKind = "synthesis_empty_output"
	KindSynthesisFailed        ErrorKind = "synthesis_failed"
)

// Error is the typed error returned by every backend adapter.
type Error struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func StatusError(status int, err error) *Error {
	kind := KindServerError
	if status == 401 || status == 403 {
		kind = KindUnauthorized
	}
	return &Error{Kind: kind, Status: status, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can compare against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

var (
	ErrEmptyResponse          = &Error{Kind: KindEmptyResponse}
	ErrTimeout                = &Error{Kind: KindTimeout}
	ErrRecognitionUnavailable = &Error{Kind: KindRecognitionUnavailable}
	ErrRecognitionTransient   = &Error{Kind: KindRecognitionTransient}
	ErrSynthesisEmptyOutput   = &Error{Kind: KindSynthesisEmptyOutput}
)

// KindOf extracts the kind of err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTransient reports whether a recognition failure may be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindRecognitionTransient
}

// TransportError classifies a failed HTTP exchange as a timeout or a network
// failure.
func TransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, err)
	}
	return NewError(KindNetworkFailure, err)
}
