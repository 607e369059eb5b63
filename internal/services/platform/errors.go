package platform

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed platform call. The job queue decides retry or terminal
// failure from the kind alone.
type ErrorKind string

const (
	KindSessionExpired ErrorKind = "session_expired"
	KindRateLimited    ErrorKind = "rate_limited"
	KindNotFound       ErrorKind = "not_found"
	KindTransient      ErrorKind = "transient_network_error"
	KindUnknown        ErrorKind = "unknown_platform_error"
)

// Error is a classified platform failure
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // Set for KindRateLimited, always > 0
	StatusCode int
	Endpoint   string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("platform %s", e.Kind)
	if e.Endpoint != "" {
		msg += fmt.Sprintf(" (endpoint: %s", e.Endpoint)
		if e.StatusCode != 0 {
			msg += fmt.Sprintf(", status %d", e.StatusCode)
		}
		msg += ")"
	}
	if e.Kind == KindRateLimited {
		msg += fmt.Sprintf(" retry after %s", e.RetryAfter)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a classified platform error from err
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the classification of err, or "" for errors that did not come from the platform
func KindOf(err error) ErrorKind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return ""
}

func rateLimited(endpoint string, retryAfter time.Duration, detail string) *Error {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Endpoint: endpoint, Detail: detail}
}
