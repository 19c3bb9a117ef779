package bungie

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessForbidden means the platform refused to serve the data,
	// typically because the player's privacy settings hide it.
	ErrAccessForbidden = errors.New("access forbidden")
	// ErrNotFound means the requested account or group does not exist.
	ErrNotFound = errors.New("not found")
)

// PlatformErrorCode is the ErrorCode field of every response envelope.
type PlatformErrorCode int

const (
	CodeNone                      PlatformErrorCode = 0
	CodeSuccess                   PlatformErrorCode = 1
	CodeSystemDisabled            PlatformErrorCode = 5
	CodeGroupNotFound             PlatformErrorCode = 686
	CodeDestinyAccountNotFound    PlatformErrorCode = 1601
	CodeDestinyPrivacyRestriction PlatformErrorCode = 1665
)

// APIError is returned when the platform answers with an error, either as an
// HTTP status or as a non-success envelope.
type APIError struct {
	StatusCode  int
	ErrorCode   PlatformErrorCode
	ErrorStatus string
	Message     string
}

func (e *APIError) Error() string {
	if e.ErrorStatus != "" {
		return fmt.Sprintf("API error (HTTP %d, %s %d): %s", e.StatusCode, e.ErrorStatus, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Unwrap maps platform error codes onto the package sentinels so callers can
// use errors.Is(err, ErrAccessForbidden).
func (e *APIError) Unwrap() error {
	switch e.ErrorCode {
	case CodeDestinyPrivacyRestriction:
		return ErrAccessForbidden
	case CodeDestinyAccountNotFound, CodeGroupNotFound:
		return ErrNotFound
	}
	return nil
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
