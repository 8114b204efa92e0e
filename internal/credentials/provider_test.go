// internal/credentials/provider_test.go
package credentials

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev-insights-service/internal/apperrors"
	"dev-insights-service/internal/model"
)

type fakeCredStore struct {
	creds   map[model.CredentialKind]*model.Credential
	updated *model.Credential
}

func (s *fakeCredStore) GetCredential(ctx context.Context, teamID int64, kind model.CredentialKind) (*model.Credential, error) {
	return s.creds[kind], nil
}

func (s *fakeCredStore) UpdateCredentialToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	s.updated = &model.Credential{ID: id, Token: token, ExpiresAt: &expiresAt}
	return nil
}

func fixedProvider(store Store, refresher Refresher, now time.Time) *Provider {
	p := NewProvider(store, refresher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return now }
	return p
}

func TestAccessToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &model.TrackedRepository{ID: 1, TeamID: 10, FullName: "acme/widgets"}
	noRefresh := RefresherFunc(func(context.Context, *model.Credential) (string, time.Time, error) {
		return "", time.Time{}, errors.New("refresh must not be called")
	})

	t.Run("valid installation credential wins", func(t *testing.T) {
		expires := now.Add(time.Hour)
		store := &fakeCredStore{creds: map[model.CredentialKind]*model.Credential{
			model.CredentialInstallation: {ID: 1, Token: "inst-token", ExpiresAt: &expires},
			model.CredentialOAuth:        {ID: 2, Token: "oauth-token"},
		}}

		token, err := fixedProvider(store, noRefresh, now).AccessToken(context.Background(), repo)
		require.NoError(t, err)
		assert.Equal(t, "inst-token", token)
	})

	t.Run("expired installation credential is refreshed and persisted", func(t *testing.T) {
		expired := now.Add(-time.Minute)
		store := &fakeCredStore{creds: map[model.CredentialKind]*model.Credential{
			model.CredentialInstallation: {ID: 1, Token: "stale", ExpiresAt: &expired},
		}}
		refresher := RefresherFunc(func(ctx context.Context, cred *model.Credential) (string, time.Time, error) {
			return "fresh-token", now.Add(time.Hour), nil
		})

		token, err := fixedProvider(store, refresher, now).AccessToken(context.Background(), repo)
		require.NoError(t, err)
		assert.Equal(t, "fresh-token", token)
		require.NotNil(t, store.updated)
		assert.Equal(t, int64(1), store.updated.ID)
		assert.Equal(t, "fresh-token", store.updated.Token)
	})

	t.Run("failed refresh falls back to OAuth", func(t *testing.T) {
		expired := now.Add(-time.Minute)
		store := &fakeCredStore{creds: map[model.CredentialKind]*model.Credential{
			model.CredentialInstallation: {ID: 1, Token: "stale", ExpiresAt: &expired},
			model.CredentialOAuth:        {ID: 2, Token: "oauth-token"},
		}}
		refresher := RefresherFunc(func(context.Context, *model.Credential) (string, time.Time, error) {
			return "", time.Time{}, errors.New("refresh endpoint down")
		})

		token, err := fixedProvider(store, refresher, now).AccessToken(context.Background(), repo)
		require.NoError(t, err)
		assert.Equal(t, "oauth-token", token)
	})

	t.Run("no usable credential is a typed failure", func(t *testing.T) {
		store := &fakeCredStore{creds: map[model.CredentialKind]*model.Credential{}}

		_, err := fixedProvider(store, noRefresh, now).AccessToken(context.Background(), repo)
		require.Error(t, err)

		var notConnected *apperrors.RepoNotConnectedError
		require.True(t, errors.As(err, &notConnected))
		assert.Equal(t, "acme/widgets", notConnected.RepoFullName)
	})

	t.Run("expired OAuth credential does not count", func(t *testing.T) {
		expired := now.Add(-time.Minute)
		store := &fakeCredStore{creds: map[model.CredentialKind]*model.Credential{
			model.CredentialOAuth: {ID: 2, Token: "oauth-token", ExpiresAt: &expired},
		}}

		_, err := fixedProvider(store, noRefresh, now).AccessToken(context.Background(), repo)
		var notConnected *apperrors.RepoNotConnectedError
		require.True(t, errors.As(err, &notConnected))
	})
}
