// Package neurogenx provides a Go client for the NeuroGenX run API.
package neurogenx

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the NeuroGenX API with the HTTP status
// code and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("neurogenx: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func hasStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == status
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool { return hasStatus(err, http.StatusUnauthorized) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return hasStatus(err, http.StatusTooManyRequests) }

// IsConflict returns true if the error is a 409, e.g. cancelling a
// finished run.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }
