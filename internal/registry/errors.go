// Package registry is the HTTP client for the LAN metadata registry. It
// registers file metadata, searches by file name, and deletes records, with
// bounded per-call timeouts and retry of transport failures.
package registry

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Use errors.Is(err, registry.ErrConnection) to check.
var (
	// ErrConnection means the registry could not be reached (refused,
	// timed out, reset) after all retries.
	ErrConnection = errors.New("registry: connection failed")
	// ErrRegistration means the registry answered a register call with a
	// non-2xx status.
	ErrRegistration = errors.New("registry: registration rejected")
	// ErrNotFound is returned for lookups and deletes of unknown ids.
	ErrNotFound = errors.New("registry: not found")
	// ErrRemote covers every other non-2xx response.
	ErrRemote = errors.New("registry: remote error")
)

// RegistrationError carries the registry's error detail for a rejected
// register call.
type RegistrationError struct {
	StatusCode int
	Detail     string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registry: register rejected with HTTP %d: %s", e.StatusCode, e.Detail)
}

func (e *RegistrationError) Unwrap() error {
	return ErrRegistration
}

// ConnectionError wraps a transport failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("registry: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrConnection and the underlying transport error
// (e.g. context.DeadlineExceeded).
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// StatusError is a non-2xx response to anything other than register.
type StatusError struct {
	StatusCode int
	Detail     string
	Err        error // sentinel, for errors.Is()
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry: HTTP %d: %s", e.StatusCode, e.Detail)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status to a sentinel error.
func classifyStatus(code int) error {
	if code == http.StatusNotFound {
		return ErrNotFound
	}

	return ErrRemote
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
