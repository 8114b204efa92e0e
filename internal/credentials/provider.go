// internal/credentials/provider.go
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dev-insights-service/internal/apperrors"
	"dev-insights-service/internal/model"
)

// Store is the slice of the data layer the provider needs.
type Store interface {
	// GetCredential returns the team's credential of the given kind, or
	// (nil, nil) when none exists.
	GetCredential(ctx context.Context, teamID int64, kind model.CredentialKind) (*model.Credential, error)
	UpdateCredentialToken(ctx context.Context, id int64, token string, expiresAt time.Time) error
}

// Refresher exchanges an expired installation credential for a fresh token.
// The authorization flow behind it is owned by another service.
type Refresher interface {
	Refresh(ctx context.Context, cred *model.Credential) (token string, expiresAt time.Time, err error)
}

// RefresherFunc adapts a plain function to the Refresher interface.
type RefresherFunc func(ctx context.Context, cred *model.Credential) (string, time.Time, error)

func (f RefresherFunc) Refresh(ctx context.Context, cred *model.Credential) (string, time.Time, error) {
	return f(ctx, cred)
}

// Provider resolves a usable access token for a tracked repository:
// installation credential first (refreshed transparently when expired),
// per-user OAuth credential second, typed failure last.
type Provider struct {
	store     Store
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time
}

func NewProvider(store Store, refresher Refresher, logger *slog.Logger) *Provider {
	return &Provider{
		store:     store,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// AccessToken returns a valid token for the repository's team.
func (p *Provider) AccessToken(ctx context.Context, repo *model.TrackedRepository) (string, error) {
	inst, err := p.store.GetCredential(ctx, repo.TeamID, model.CredentialInstallation)
	if err != nil {
		return "", fmt.Errorf("looking up installation credential: %w", err)
	}

	if inst != nil {
		if !inst.Expired(p.now()) {
			return inst.Token, nil
		}
		token, err := p.refreshInstallation(ctx, inst)
		if err == nil {
			return token, nil
		}
		// A dead installation credential is not fatal while an OAuth
		// credential can still carry the sync.
		p.logger.Warn("Installation token refresh failed, falling back to OAuth",
			"team_id", repo.TeamID, "repo", repo.FullName, "error", err)
	}

	oauth, err := p.store.GetCredential(ctx, repo.TeamID, model.CredentialOAuth)
	if err != nil {
		return "", fmt.Errorf("looking up OAuth credential: %w", err)
	}
	if oauth != nil && !oauth.Expired(p.now()) {
		return oauth.Token, nil
	}

	return "", &apperrors.RepoNotConnectedError{RepoFullName: repo.FullName}
}

func (p *Provider) refreshInstallation(ctx context.Context, cred *model.Credential) (string, error) {
	token, expiresAt, err := p.refresher.Refresh(ctx, cred)
	if err != nil {
		return "", err
	}
	if err := p.store.UpdateCredentialToken(ctx, cred.ID, token, expiresAt); err != nil {
		return "", fmt.Errorf("persisting refreshed token: %w", err)
	}
	return token, nil
}
