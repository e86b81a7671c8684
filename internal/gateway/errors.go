package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrUnauthorized      = errors.New("model gateway unauthorized")
	ErrRateLimited       = errors.New("model gateway rate limited")
	ErrUnavailable       = errors.New("model gateway unavailable")
	ErrEmptyResponse     = errors.New("model gateway returned empty response")
	ErrMalformedResponse = errors.New("model gateway returned malformed response")
)

// ConfigurationError reports a missing or invalid setting found before any
// model call is made.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, reason)
}

// Error is returned by every provider. StatusCode is zero when no HTTP response
// was received.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s gateway: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// statusError maps an HTTP status to the sentinel a caller can match with errors.Is.
func statusError(provider string, status int, detail string) *Error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrUnavailable
	default:
		kind = errors.New("request rejected")
	}
	if detail != "" {
		kind = fmt.Errorf("%w: %s", kind, detail)
	}
	return &Error{Provider: provider, StatusCode: status, Err: kind}
}

// Retryable reports whether another attempt could succeed: rate limits, server side
// unavailability and transport failures. Cancellation is never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Status is a short label for metrics and API error codes.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	default:
		return "error"
	}
}
