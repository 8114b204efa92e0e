// internal/webhook/resolve.go
package webhook

import (
	"net/http"

	gh "github.com/google/go-github/v62/github"

	"dev-insights-service/internal/apperrors"
	"dev-insights-service/internal/model"
)

// ResolveTenant identifies which tracked repository a signed payload
// belongs to. The same external repository id may be tracked by several
// teams, each with an independently generated secret, so the signature is
// verified against every candidate: exactly one success resolves the
// tenant, anything else is unauthenticated. Zero matches and multiple
// matches are deliberately indistinguishable to the caller so responses
// cannot leak which secret would have been valid.
func ResolveTenant(candidates []model.TrackedRepository, body []byte, signature string) (*model.TrackedRepository, error) {
	var matched *model.TrackedRepository
	matches := 0
	for i := range candidates {
		if err := gh.ValidateSignature(signature, body, []byte(candidates[i].WebhookSecret)); err == nil {
			matched = &candidates[i]
			matches++
		}
	}
	if matches != 1 {
		return nil, &apperrors.AuthError{StatusCode: http.StatusUnauthorized, Msg: "webhook signature verification failed"}
	}
	return matched, nil
}
