// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev-insights-service/internal/model"
)

type fakeStore struct {
	repo *model.TrackedRepository
	team *model.Team
}

func (s *fakeStore) GetTrackedRepo(ctx context.Context, id int64) (*model.TrackedRepository, error) {
	if s.repo == nil || s.repo.ID != id {
		return nil, pgx.ErrNoRows
	}
	return s.repo, nil
}

func (s *fakeStore) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	if s.team == nil || s.team.ID != id {
		return nil, pgx.ErrNoRows
	}
	return s.team, nil
}

type fakePipeline struct {
	started   []int64
	resumed   []int64
	resumeErr error
}

func (p *fakePipeline) Start(ctx context.Context, teamID int64) error {
	p.started = append(p.started, teamID)
	return nil
}

func (p *fakePipeline) Resume(ctx context.Context, teamID int64) error {
	if p.resumeErr != nil {
		return p.resumeErr
	}
	p.resumed = append(p.resumed, teamID)
	return nil
}

func newTestRouter(store *fakeStore, pipe *fakePipeline) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	webhooks := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return NewRouter(store, pipe, webhooks, logger)
}

func doRequest(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &fakePipeline{})
	rec := doRequest(t, router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSyncStatus(t *testing.T) {
	store := &fakeStore{repo: &model.TrackedRepository{
		ID:           5,
		FullName:     "acme/widgets",
		SyncStatus:   model.SyncSyncing,
		SyncProgress: 40,
	}}
	router := newTestRouter(store, &fakePipeline{})

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/repos/5/sync-status")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "acme/widgets", body["full_name"])
		assert.Equal(t, float64(40), body["sync_progress"])
	})

	t.Run("unknown repo", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/repos/999/sync-status")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/repos/abc/sync-status")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetPipelineStatus(t *testing.T) {
	store := &fakeStore{team: &model.Team{
		ID:             10,
		PipelineStatus: model.PipelineBackgroundSyncing,
	}}
	router := newTestRouter(store, &fakePipeline{})

	rec := doRequest(t, router, http.MethodGet, "/v1/teams/10/pipeline")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(model.PipelineBackgroundSyncing), body["pipeline_status"])
	// Phase 2 runs behind an already-usable dashboard.
	assert.Equal(t, true, body["dashboard_accessible"])
}

func TestStartPipeline(t *testing.T) {
	store := &fakeStore{team: &model.Team{ID: 10}}
	pipe := &fakePipeline{}
	router := newTestRouter(store, pipe)

	rec := doRequest(t, router, http.MethodPost, "/v1/teams/10/pipeline/start")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{10}, pipe.started)
}

func TestResumePipeline(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		store := &fakeStore{team: &model.Team{ID: 10}}
		pipe := &fakePipeline{}
		router := newTestRouter(store, pipe)

		rec := doRequest(t, router, http.MethodPost, "/v1/teams/10/pipeline/resume")
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []int64{10}, pipe.resumed)
	})

	t.Run("failed pipeline cannot resume", func(t *testing.T) {
		store := &fakeStore{team: &model.Team{ID: 10, PipelineStatus: model.PipelineFailed}}
		pipe := &fakePipeline{resumeErr: errors.New("pipeline is failed")}
		router := newTestRouter(store, pipe)

		rec := doRequest(t, router, http.MethodPost, "/v1/teams/10/pipeline/resume")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown team", func(t *testing.T) {
		router := newTestRouter(&fakeStore{}, &fakePipeline{})
		rec := doRequest(t, router, http.MethodPost, "/v1/teams/10/pipeline/resume")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
