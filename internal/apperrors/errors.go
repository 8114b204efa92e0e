// internal/apperrors/errors.go
package apperrors

import (
	"errors"
	"fmt"
)

// AuthError is returned when the external platform rejects our credentials
// or a webhook signature cannot be verified. It is never retried
// automatically.
type AuthError struct {
	StatusCode int
	Msg        string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("authentication failed: %s", e.Msg)
}

// APIError is any other non-2xx answer from the external platform,
// carrying the upstream status code so callers can decide retry vs abort.
type APIError struct {
	StatusCode int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("external API error (status %d): %s", e.StatusCode, e.Msg)
}

// RepoNotConnectedError means no usable credential exists for a tracked
// repository. The remedy is re-authorizing the integration, not retrying.
type RepoNotConnectedError struct {
	RepoFullName string
}

func (e *RepoNotConnectedError) Error() string {
	return fmt.Sprintf("no valid GitHub credential for repository %q: reconnect the GitHub integration to restore syncing", e.RepoFullName)
}

// IsAuth reports whether err is an authentication/authorization failure.
// These abort a sync immediately: every subsequent call would fail the
// same way.
func IsAuth(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var notConnected *RepoNotConnectedError
	return errors.As(err, &notConnected)
}
