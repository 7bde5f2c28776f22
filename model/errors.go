package model

import "fmt"

// AuthError reports a 401 from the upstream API: the configured key was
// rejected.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream rejected API key: %s", e.Message)
}

// RateLimitError reports a 429 from the upstream API.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limit exceeded: %s", e.Message)
}

// UnavailableError reports a 5xx from the upstream API.
type UnavailableError struct {
	StatusCode int
	Message    string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable (%d): %s", e.StatusCode, e.Message)
}

// UpstreamError reports any other non-2xx upstream status.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (%d): %s", e.StatusCode, e.Message)
}

// InternalError wraps transport-level failures: connect errors, timeouts,
// broken streams. The underlying cause is preserved for unwrapping.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
