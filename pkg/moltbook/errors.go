package moltbook

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is the typed failure for every platform call.
type APIError struct {
	StatusCode int
	Resource   string
	Message    string
	RetryAfter time.Duration // zero when the server gave no hint
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("moltbook %s: status=%d retry_after=%s: %s", e.Resource, e.StatusCode, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("moltbook %s: status=%d: %s", e.Resource, e.StatusCode, e.Message)
}

func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func IsAuthFailed(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}
