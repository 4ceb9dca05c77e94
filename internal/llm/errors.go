package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for backend error classification.
var (
	ErrRateLimited    = errors.New("rate limited")
	ErrAuthentication = errors.New("authentication failed")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnavailable    = errors.New("backend unavailable")
)

// APIError is returned for non-2xx responses from the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	// RetryAfter is the backend's Retry-After hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: %s: %s (status=%d)", e.Type, e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// RetryAfter extracts the Retry-After hint from err, if any.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

func mapStatusToError(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return ErrInvalidRequest
	case status >= 500:
		return ErrUnavailable
	default:
		return fmt.Errorf("unexpected status code: %d", status)
	}
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
