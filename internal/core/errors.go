package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated is returned when a call needs a session and none is active.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSuperseded marks a reload whose result was discarded because a newer one started.
	ErrSuperseded = errors.New("reload superseded by a newer request")
	// ErrRejected is returned when a backend answers 2xx with success=false.
	ErrRejected = errors.New("request rejected by server")
)

// NetworkError is a transport or connectivity failure: the request never
// produced an HTTP status, or its body could not be read.
type NetworkError struct {
	Domain Domain
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s %s: network error: %v", e.Domain, e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response.
type HTTPError struct {
	Domain     Domain
	Method     string
	Path       string
	StatusCode int
	RawBody    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s %s: unexpected status %d: %s", e.Domain, e.Method, e.Path, e.StatusCode, truncate(e.RawBody, 200))
}

// IsAuthFailure reports whether the status invalidates the current session.
func (e *HTTPError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// AuthError is a login or registration rejected by the server.
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Message
}

// InvariantViolation is a programming error on the client side, such as
// deleting an entity that was never persisted.
type InvariantViolation struct {
	Op     string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Reason)
}

// RequiresReauth reports whether err means the session is gone and the user
// must log in again.
func RequiresReauth(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthenticated) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.IsAuthFailure()
}

// IsInvariantViolation reports whether err wraps an InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
