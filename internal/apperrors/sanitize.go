// internal/apperrors/sanitize.go
package apperrors

import (
	"errors"
)

// Sanitize maps an internal failure onto a message safe to persist in a
// tenant-visible field. Only the error class is consulted; raw error text
// never leaves this function.
func Sanitize(err error) string {
	if IsAuth(err) {
		return "GitHub authorization failed. Reconnect the GitHub integration and retry."
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return "GitHub returned an unexpected error while syncing. Please retry shortly."
	}
	return "An internal error occurred. Contact support if this persists."
}
