// Package giron provides a Go client for the Giron discussion-hub API.
package giron

import "fmt"

// Error represents an error from the Giron API with the HTTP status code
// and the server's error detail.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	// State is set on INVALID_STATE errors and carries the discussion's
	// current lifecycle state.
	State string
}

func (e *Error) Error() string {
	return fmt.Sprintf("giron: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 401
	}
	return false
}

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.StatusCode == 403
	}
	return false
}

// IsInvalidState returns true if the server rejected a lifecycle
// operation because the discussion is in an incompatible state.
func IsInvalidState(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == "INVALID_STATE"
	}
	return false
}

// IsGenerationFailed returns true if a discussion execution failed
// because the upstream generation provider could not produce a turn.
func IsGenerationFailed(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == "GENERATION_FAILED"
	}
	return false
}
