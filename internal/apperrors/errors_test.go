// internal/apperrors/errors_test.go
package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAuth(t *testing.T) {
	assert.True(t, IsAuth(&AuthError{StatusCode: 401, Msg: "bad credentials"}))
	assert.True(t, IsAuth(&RepoNotConnectedError{RepoFullName: "acme/widgets"}))
	assert.True(t, IsAuth(fmt.Errorf("syncing: %w", &AuthError{StatusCode: 403, Msg: "forbidden"})))
	assert.False(t, IsAuth(&APIError{StatusCode: 502, Msg: "bad gateway"}))
	assert.False(t, IsAuth(errors.New("boom")))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &AuthError{StatusCode: 401, Msg: "bad credentials"}, "authorization"},
		{"not connected", &RepoNotConnectedError{RepoFullName: "acme/widgets"}, "authorization"},
		{"api", &APIError{StatusCode: 502, Msg: "bad gateway"}, "unexpected error"},
		{"internal", errors.New("pq: connection refused host=10.0.0.5"), "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Sanitize(tt.err)
			assert.Contains(t, msg, tt.want)
			// Raw upstream text must never leak through.
			assert.NotContains(t, msg, "credentials")
			assert.NotContains(t, msg, "acme/widgets")
			assert.NotContains(t, msg, "10.0.0.5")
		})
	}
}
